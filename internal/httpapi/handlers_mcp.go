package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ctbritt/dark-sun-assistant/internal/toolserver"
)

type mcpQueryRequest struct {
	Server string `json:"server"`
	Query  string `json:"query"`
}

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type mcpQueryResponse struct {
	Server         string     `json:"server"`
	Query          string     `json:"query"`
	AvailableTools []toolInfo `json:"availableTools,omitempty"`
	Error          string     `json:"error,omitempty"`
	Status         string     `json:"status"`
}

// handleMCPQuery lists the tools a server advertises. A server that is configured but
// unreachable answers 200 with status "error".
func (h *handlers) handleMCPQuery(w http.ResponseWriter, r *http.Request) {
	var req mcpQueryRequest
	if err := decodeJSONBody(w, r, &req, false); err != nil {
		writeMappedError(w, err)
		return
	}
	if strings.TrimSpace(req.Server) == "" || strings.TrimSpace(req.Query) == "" {
		writeInvalidRequest(w, "server and query are required")
		return
	}

	resp := mcpQueryResponse{Server: req.Server, Query: req.Query}
	tools, err := h.toolServers.ListTools(r.Context(), req.Server)
	if err != nil {
		if errors.Is(err, toolserver.ErrUnknownServer) {
			writeMappedError(w, err)
			return
		}
		resp.Error = err.Error()
		resp.Status = "error"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Status = string(toolserver.StateConnected)
	resp.AvailableTools = make([]toolInfo, 0, len(tools))
	for _, t := range tools {
		resp.AvailableTools = append(resp.AvailableTools, toolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleServerConnect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.toolServers.Connect(r.Context(), name); err != nil {
		writeMappedError(w, err)
		return
	}
	h.writeServerStatus(w, name)
}

func (h *handlers) handleServerDisconnect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.toolServers.Disconnect(r.Context(), name); err != nil {
		writeMappedError(w, err)
		return
	}
	h.writeServerStatus(w, name)
}

func (h *handlers) writeServerStatus(w http.ResponseWriter, name string) {
	for _, st := range h.toolServers.Status() {
		if st.Name == name {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeMappedError(w, toolserver.ErrUnknownServer)
}
