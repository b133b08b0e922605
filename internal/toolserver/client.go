package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Implementation identifies this application to tool servers.
var Implementation = &mcp.Implementation{Name: "dark-sun-assistant", Version: "0.1.0"}

// Transport names accepted in ServerConfig.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// ServerConfig describes one tool server. It is never mutated after construction.
type ServerConfig struct {
	Name      string
	Transport string
	Command   string
	Args      []string
	Env       map[string]string
	URL       string
	Disabled  bool
}

// Tool is one tool advertised by a server.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// CallResult is the flattened output of one tool call.
type CallResult struct {
	Content string
	IsError bool
}

// Client is a session with one tool server, independent of its transport.
type Client interface {
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)
	Close() error
}

// NewClient returns the Client variant for cfg.Transport.
func NewClient(cfg ServerConfig) (Client, error) {
	switch cfg.Transport {
	case "", TransportStdio:
		return NewStdioClient(cfg.Command, cfg.Args, cfg.Env), nil
	case TransportHTTP:
		return NewHTTPClient(cfg.URL), nil
	default:
		return nil, fmt.Errorf("server %s: unsupported transport %q", cfg.Name, cfg.Transport)
	}
}

// NewStdioClient launches command as a subprocess on every Connect and speaks MCP over
// its stdin/stdout. env entries are added to the parent environment.
func NewStdioClient(command string, args []string, env map[string]string) Client {
	return newMCPClient(func() (mcp.Transport, error) {
		// #nosec G204 -- command comes from operator configuration
		cmd := exec.Command(command, args...)
		cmd.Env = mergeEnv(os.Environ(), env)
		return &mcp.CommandTransport{Command: cmd}, nil
	})
}

// NewHTTPClient talks to a remote server over the streamable HTTP transport.
func NewHTTPClient(endpoint string) Client {
	return newMCPClient(func() (mcp.Transport, error) {
		return &mcp.StreamableClientTransport{Endpoint: endpoint}, nil
	})
}

// NewTransportClient wraps an already built transport. The transport is used once.
func NewTransportClient(t mcp.Transport) Client {
	used := false
	return newMCPClient(func() (mcp.Transport, error) {
		if used {
			return nil, fmt.Errorf("transport already used")
		}
		used = true
		return t, nil
	})
}

// mcpClient serializes every call so a server sees one request at a time.
type mcpClient struct {
	newTransport func() (mcp.Transport, error)

	mu      sync.Mutex
	session *mcp.ClientSession
}

func newMCPClient(newTransport func() (mcp.Transport, error)) *mcpClient {
	return &mcpClient{newTransport: newTransport}
}

func (c *mcpClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil
	}

	transport, err := c.newTransport()
	if err != nil {
		return err
	}

	client := mcp.NewClient(Implementation, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return err
	}
	c.session = session
	return nil
}

func (c *mcpClient) ListTools(ctx context.Context) ([]Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, ErrNotConnected
	}

	var tools []Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := c.session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, t := range res.Tools {
			if t == nil {
				continue
			}
			schema, err := schemaMap(t.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", t.Name, err)
			}
			tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
		}
		if res.NextCursor == "" {
			return tools, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (c *mcpClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, ErrNotConnected
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}

	out := &CallResult{Content: flattenContent(res), IsError: res.IsError}
	if out.IsError && out.Content == "" {
		out.Content = "tool call returned an error with no details"
	}
	return out, nil
}

func (c *mcpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// flattenContent renders tool output as text for the model.
func flattenContent(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		switch tc := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.EmbeddedResource:
			if tc.Resource != nil && tc.Resource.Text != "" {
				parts = append(parts, tc.Resource.Text)
			}
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image: %s, %d bytes]", tc.MIMEType, len(tc.Data)))
		default:
			if b, err := json.Marshal(c); err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if b, err := json.Marshal(res.StructuredContent); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, "\n")
}

// schemaMap normalizes whatever the SDK decoded the input schema into to a plain map.
func schemaMap(schema any) (map[string]any, error) {
	if schema == nil {
		return nil, nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m, nil
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	return m, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[name]; !overridden {
			out = append(out, kv)
		}
	}
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
