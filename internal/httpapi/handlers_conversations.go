package httpapi

import (
	"net/http"
	"time"

	"github.com/ctbritt/dark-sun-assistant/internal/toolserver"
)

type healthResponse struct {
	Status     string                    `json:"status"`
	Timestamp  string                    `json:"timestamp"`
	Model      string                    `json:"model,omitempty"`
	MCPServers []toolserver.ServerStatus `json:"mcpServers"`
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	servers := []toolserver.ServerStatus{}
	if h.toolServers != nil {
		servers = h.toolServers.Status()
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Timestamp:  h.now().UTC().Format(time.RFC3339),
		Model:      h.model,
		MCPServers: servers,
	})
}

type modelsResponse struct {
	Model     string   `json:"model"`
	Available []string `json:"available"`
}

func (h *handlers) handleListModels(w http.ResponseWriter, r *http.Request) {
	names, err := h.models.ListModels(r.Context())
	if err != nil {
		h.logger.Warn("list models failed", "err", err)
		writeMappedError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, modelsResponse{Model: h.model, Available: names})
}

func (h *handlers) handleListConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.conversations.List())
}

func (h *handlers) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.conversations.Get(r.PathValue("id"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (h *handlers) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSONBody(w, r, &req, true); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.conversations.Create(req.Title))
}

func (h *handlers) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.conversations.Delete(r.PathValue("id")); err != nil {
		writeMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
