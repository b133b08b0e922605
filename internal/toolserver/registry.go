package toolserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// State is the connection state of one server.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// DefaultConnectTimeout bounds a single connect attempt.
const DefaultConnectTimeout = 5 * time.Second

// ServerStatus is a snapshot of one configured server.
type ServerStatus struct {
	Name     string `json:"name"`
	State    State  `json:"status"`
	Error    string `json:"error,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

type entry struct {
	cfg    ServerConfig
	client Client
	state  State
	err    error

	// connecting serializes Connect calls for this server.
	connecting sync.Mutex
}

// Registry owns the connections to a fixed set of named tool servers.
// A failure on one server never affects the others.
type Registry struct {
	order          []string
	connectTimeout time.Duration
	newClient      func(ServerConfig) (Client, error)
	logger         *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.connectTimeout = d
		}
	}
}

// WithClientFactory replaces NewClient, mainly for tests.
func WithClientFactory(f func(ServerConfig) (Client, error)) Option {
	return func(r *Registry) { r.newClient = f }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry validates the server set and returns a registry with every server disconnected.
func NewRegistry(servers []ServerConfig, opts ...Option) (*Registry, error) {
	r := &Registry{
		connectTimeout: DefaultConnectTimeout,
		newClient:      NewClient,
		logger:         slog.New(slog.DiscardHandler),
		entries:        make(map[string]*entry, len(servers)),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, cfg := range servers {
		if cfg.Name == "" || strings.Contains(cfg.Name, Separator) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidName, cfg.Name)
		}
		if _, dup := r.entries[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate %q", ErrInvalidName, cfg.Name)
		}
		r.order = append(r.order, cfg.Name)
		r.entries[cfg.Name] = &entry{cfg: cfg, state: StateDisconnected}
	}
	return r, nil
}

// Connect starts a session with the named server, bounded by the connect timeout.
// Connecting an already connected server is a no-op. Concurrent connects to the same
// server run one at a time; a later caller sees the earlier result.
func (r *Registry) Connect(ctx context.Context, name string) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}

	e.connecting.Lock()
	defer e.connecting.Unlock()

	r.mu.RLock()
	cfg := e.cfg
	connected := e.state == StateConnected
	r.mu.RUnlock()
	if connected {
		return nil
	}

	logger := r.logger.With("server", name)
	start := time.Now()

	client, err := r.newClient(cfg)
	if err == nil {
		err = r.connectWithTimeout(ctx, client)
	}
	if err != nil {
		connErr := &ConnectError{Server: name, Err: err}
		r.mu.Lock()
		stale := e.client
		e.client = nil
		e.state = StateError
		e.err = connErr
		r.mu.Unlock()
		if stale != nil {
			_ = stale.Close()
		}
		logger.Warn("tool server connect failed", "err", err, "duration_ms", time.Since(start).Milliseconds())
		return connErr
	}

	r.mu.Lock()
	stale := e.client
	e.client = client
	e.state = StateConnected
	e.err = nil
	r.mu.Unlock()
	if stale != nil {
		_ = stale.Close()
	}

	logger.Info("tool server connected", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// connectWithTimeout returns once the client connects or the timeout fires, even when the
// client ignores cancellation. A late success is closed in the background.
func (r *Registry) connectWithTimeout(ctx context.Context, client Client) error {
	ctx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- client.Connect(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		go func() {
			if err := <-done; err == nil {
				_ = client.Close()
			}
		}()
		return ctx.Err()
	}
}

// ConnectAll connects every enabled server concurrently. The returned error joins the
// individual failures and is meant for logging; successful servers stay connected.
func (r *Registry) ConnectAll(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, name := range r.order {
		r.mu.RLock()
		disabled := r.entries[name].cfg.Disabled
		r.mu.RUnlock()
		if disabled {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Connect(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// ListTools queries a connected server for the tools it currently advertises.
func (r *Registry) ListTools(ctx context.Context, name string) ([]Tool, error) {
	client, err := r.liveClient(name)
	if err != nil {
		return nil, err
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, &QueryError{Server: name, Op: "list tools", Err: err}
	}
	return tools, nil
}

// CallTool invokes one tool. A failure reported by the server comes back as
// *ToolExecutionError; transport failures as *QueryError.
func (r *Registry) CallTool(ctx context.Context, server, tool string, args map[string]any) (*CallResult, error) {
	client, err := r.liveClient(server)
	if err != nil {
		return nil, err
	}
	res, err := client.CallTool(ctx, tool, args)
	if err != nil {
		return nil, &QueryError{Server: server, Op: "call " + tool, Err: err}
	}
	if res.IsError {
		return nil, &ToolExecutionError{Server: server, Tool: tool, Payload: res.Content}
	}
	return res, nil
}

func (r *Registry) liveClient(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	if e.state != StateConnected || e.client == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, name)
	}
	return e.client, nil
}

// Status returns a snapshot of every configured server in configuration order.
func (r *Registry) Status() []ServerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServerStatus, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		st := ServerStatus{Name: name, State: e.state, Disabled: e.cfg.Disabled}
		if e.err != nil {
			st.Error = e.err.Error()
		}
		out = append(out, st)
	}
	return out
}

// Connected returns the names of connected servers in configuration order.
func (r *Registry) Connected() []string {
	var names []string
	for _, st := range r.Status() {
		if st.State == StateConnected {
			names = append(names, st.Name)
		}
	}
	return names
}

// Disconnect closes the named server's session and marks it disconnected.
func (r *Registry) Disconnect(_ context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	client := e.client
	e.client = nil
	e.state = StateDisconnected
	e.err = nil
	r.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// DisconnectAll closes every live session. Failures are logged and do not stop the rest.
func (r *Registry) DisconnectAll(ctx context.Context) {
	for _, name := range r.order {
		r.mu.RLock()
		live := r.entries[name].client != nil
		r.mu.RUnlock()
		if !live {
			continue
		}
		if err := r.Disconnect(ctx, name); err != nil {
			r.logger.Error("tool server disconnect failed", "server", name, "err", err)
			continue
		}
		r.logger.Info("tool server disconnected", "server", name)
	}
}
