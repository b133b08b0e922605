// Package httpapi exposes the assistant over HTTP: chat, conversations, tool server
// management, uploads and the static web client.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ctbritt/dark-sun-assistant/internal/chat"
	"github.com/ctbritt/dark-sun-assistant/internal/conversation"
	"github.com/ctbritt/dark-sun-assistant/internal/toolserver"
	"github.com/ctbritt/dark-sun-assistant/internal/upload"
)

type chatService interface {
	Send(ctx context.Context, req chat.Request) (*chat.Response, error)
	Stream(ctx context.Context, req chat.Request, events chat.EventStream) (*chat.Response, error)
}

type toolServers interface {
	Status() []toolserver.ServerStatus
	Connect(ctx context.Context, name string) error
	Disconnect(ctx context.Context, name string) error
	ListTools(ctx context.Context, name string) ([]toolserver.Tool, error)
}

type modelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Deps are the services behind the API.
type Deps struct {
	Chat          chatService
	Conversations *conversation.Store
	ToolServers   toolServers
	Uploads       *upload.Store

	// Model is reported by the health endpoint.
	Model string

	// Models backs GET /api/models. Nil disables the route.
	Models modelLister

	// PublicDir holds the web client. Empty disables static serving.
	PublicDir string

	// ProgressBuffer is the per-stream progress event capacity.
	ProgressBuffer int

	// ChatTimeout bounds one chat request. Zero means no limit.
	ChatTimeout time.Duration

	Logger *slog.Logger
}

type handlers struct {
	chat          chatService
	conversations *conversation.Store
	toolServers   toolServers
	uploads       *upload.Store
	model         string
	models        modelLister
	progressBuf   int
	chatTimeout   time.Duration
	heartbeat     time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

const defaultHeartbeat = 15 * time.Second

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &handlers{
		chat:          deps.Chat,
		conversations: deps.Conversations,
		toolServers:   deps.ToolServers,
		uploads:       deps.Uploads,
		model:         deps.Model,
		models:        deps.Models,
		progressBuf:   deps.ProgressBuffer,
		chatTimeout:   deps.ChatTimeout,
		heartbeat:     defaultHeartbeat,
		now:           time.Now,
		logger:        logger.With("component", "httpapi"),
	}
	return h.routes(deps.PublicDir)
}

func (h *handlers) routes(publicDir string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.handleHealth)
	if h.models != nil {
		mux.HandleFunc("GET /api/models", h.handleListModels)
	}

	mux.HandleFunc("GET /api/conversations", h.handleListConversations)
	mux.HandleFunc("POST /api/conversations", h.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations/{id}", h.handleGetConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.handleDeleteConversation)

	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("POST /api/chat/stream", h.handleChatStream)

	mux.HandleFunc("POST /api/mcp/query", h.handleMCPQuery)
	mux.HandleFunc("POST /api/mcp/servers/{name}/connect", h.handleServerConnect)
	mux.HandleFunc("POST /api/mcp/servers/{name}/disconnect", h.handleServerDisconnect)

	if h.uploads != nil {
		mux.HandleFunc("POST /api/upload", h.handleUpload)
		mux.HandleFunc("GET /api/files", h.handleListFiles)
		mux.HandleFunc("DELETE /api/files/{filename}", h.handleDeleteFile)
		mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", noDirListing(http.FileServer(http.Dir(h.uploads.Dir())))))
	}

	mux.Handle("/", newStaticHandler(publicDir))
	return mux
}
