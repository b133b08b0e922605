package toolmanager

import (
	"context"

	"github.com/ctbritt/dark-sun-assistant/internal/toolserver"
)

// toolCaller executes one tool on one tool server.
type toolCaller interface {
	// CallTool returns *toolserver.ToolExecutionError when the server reports a failure,
	// and wraps toolserver.ErrNotConnected when the server has no session.
	CallTool(ctx context.Context, server, tool string, args map[string]any) (*toolserver.CallResult, error)
}
