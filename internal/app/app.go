// Package app wires configuration into a running HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ctbritt/dark-sun-assistant/internal/chat"
	"github.com/ctbritt/dark-sun-assistant/internal/config"
	"github.com/ctbritt/dark-sun-assistant/internal/conversation"
	"github.com/ctbritt/dark-sun-assistant/internal/httpapi"
	"github.com/ctbritt/dark-sun-assistant/internal/provider/gemini"
	"github.com/ctbritt/dark-sun-assistant/internal/provider/models"
	"github.com/ctbritt/dark-sun-assistant/internal/toolserver"
	"github.com/ctbritt/dark-sun-assistant/internal/upload"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow/loop"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow/toolmanager"
)

// Option overrides a component built by New.
type Option func(*options)

type options struct {
	provider      models.Provider
	clientFactory func(toolserver.ServerConfig) (toolserver.Client, error)
}

// WithProvider replaces the Gemini provider.
func WithProvider(p models.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithClientFactory replaces how tool server clients are created.
func WithClientFactory(f func(toolserver.ServerConfig) (toolserver.Client, error)) Option {
	return func(o *options) { o.clientFactory = f }
}

// App owns the component graph and the HTTP server lifecycle.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *toolserver.Registry
	provider models.Provider
	server   *http.Server
	ready    atomic.Bool
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("new app: nil config")
	}
	if logger == nil {
		return nil, errors.New("new app: nil logger")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new app config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	registryOpts := []toolserver.Option{
		toolserver.WithConnectTimeout(time.Duration(cfg.ToolServers.ConnectTimeoutMs) * time.Millisecond),
		toolserver.WithLogger(logger.With("component", "toolserver")),
	}
	if o.clientFactory != nil {
		registryOpts = append(registryOpts, toolserver.WithClientFactory(o.clientFactory))
	}
	registry, err := toolserver.NewRegistry(serverConfigs(cfg.ToolServers.Servers), registryOpts...)
	if err != nil {
		return nil, fmt.Errorf("new app registry: %w", err)
	}

	provider := o.provider
	if provider == nil {
		provider, err = newGeminiProvider(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	prompt, err := systemPrompt(cfg.Model)
	if err != nil {
		return nil, err
	}

	uploads, err := upload.NewStore(cfg.Uploads.Dir, cfg.Uploads.MaxFileSize, cfg.Uploads.AllowedTypes, logger)
	if err != nil {
		return nil, fmt.Errorf("new app uploads: %w", err)
	}

	tools := toolmanager.NewToolManager(registry,
		toolmanager.WithParallel(cfg.Loop.ParallelToolCalls),
		toolmanager.WithLogger(logger.With("component", "toolmanager")),
	)
	engine := loop.NewLoop(provider, toolserver.NewCatalog(registry, logger), tools, loop.Config{
		MaxIterations: cfg.Loop.MaxIterations,
		FallbackText:  cfg.Loop.FallbackText,
	}, logger)
	conversations := conversation.NewStore()
	chatService := chat.NewService(conversations, engine, registry, prompt, logger)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		provider: provider,
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Chat:           chatService,
		Conversations:  conversations,
		ToolServers:    registry,
		Uploads:        uploads,
		Model:          provider.Model(),
		Models:         provider,
		PublicDir:      cfg.Server.PublicDir,
		ProgressBuffer: cfg.Loop.ProgressBuffer,
		ChatTimeout:    time.Duration(cfg.Server.RequestTimeoutMs) * time.Millisecond,
		Logger:         logger,
	})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", a.handleReadyz)
	mux.Handle("/", router)

	a.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           requestLoggingMiddleware(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Handler is the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Registry exposes the tool server registry.
func (a *App) Registry() *toolserver.Registry { return a.registry }

// ConnectToolServers connects every enabled tool server. Failures are logged; the
// affected servers stay unavailable until reconnected.
func (a *App) ConnectToolServers(ctx context.Context) {
	if err := a.registry.ConnectAll(ctx); err != nil {
		a.logger.Warn("some tool servers are unavailable", "err", err)
	}
	a.logger.Info("tool servers ready", "connected", strings.Join(a.registry.Connected(), ","))
}

// Start listens on the configured address and blocks until Shutdown.
func (a *App) Start() error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ln)
}

// Serve serves on ln and blocks until Shutdown.
func (a *App) Serve(ln net.Listener) error {
	a.ready.Store(true)
	a.logger.Info("http server listening", "addr", ln.Addr().String(), "model", a.provider.Model())

	err := a.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	a.ready.Store(false)
	return err
}

// Shutdown stops the HTTP server, then disconnects every tool server.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("shutdown: nil context")
	}
	a.ready.Store(false)
	defer a.registry.DisconnectAll(ctx)

	err := a.server.Shutdown(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		a.logger.Warn("graceful shutdown timed out; forcing connection close")
		if closeErr := a.server.Close(); closeErr != nil {
			return fmt.Errorf("shutdown timeout and forced close failed: %w", errors.Join(err, closeErr))
		}
		return nil
	}
	return err
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !a.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	_, _ = w.Write([]byte("ready"))
}

func serverConfigs(in []config.ToolServerConfig) []toolserver.ServerConfig {
	out := make([]toolserver.ServerConfig, 0, len(in))
	for _, s := range in {
		out = append(out, toolserver.ServerConfig{
			Name:      s.Name,
			Transport: s.Transport,
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			URL:       s.URL,
			Disabled:  s.Disabled,
		})
	}
	return out
}

func systemPrompt(cfg config.ModelConfig) (string, error) {
	if cfg.SystemPromptFile == "" {
		return cfg.SystemPrompt, nil
	}
	data, err := os.ReadFile(cfg.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return string(data), nil
}

func newGeminiProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (models.Provider, error) {
	if cfg.Model.APIKey == "" {
		logger.Warn("GEMINI_API_KEY not set; chat requests will fail until it is configured")
		return missingKeyProvider{model: cfg.Model.Name}, nil
	}
	client, err := gemini.Dial(ctx, cfg.Model.APIKey)
	if err != nil {
		return nil, fmt.Errorf("new app gemini client: %w", err)
	}
	return gemini.New(client, cfg.Model.Name,
		gemini.WithMaxOutputTokens(cfg.Model.MaxOutputTokens),
		gemini.WithLogger(logger.With("component", "gemini")),
	), nil
}

// missingKeyProvider fails every request with an authentication error.
type missingKeyProvider struct {
	model string
}

func (p missingKeyProvider) Generate(context.Context, *models.GenerateRequest) (*models.GenerateResponse, error) {
	return nil, &models.ProviderError{Code: models.ErrorCodeAuth, Message: "GEMINI_API_KEY is not set"}
}

func (p missingKeyProvider) Model() string { return p.model }

func (p missingKeyProvider) ListModels(context.Context) ([]string, error) {
	return nil, &models.ProviderError{Code: models.ErrorCodeAuth, Message: "GEMINI_API_KEY is not set"}
}
