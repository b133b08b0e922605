package loop

import (
	"context"

	"github.com/ctbritt/dark-sun-assistant/internal/provider/models"
	"github.com/ctbritt/dark-sun-assistant/internal/tool"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow"
)

// llmProvider communicates with an LLM.
type llmProvider interface {
	// Generate sends the conversation and tool catalog to the model and returns its reply.
	Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error)
}

// catalogBuilder assembles the tools offered to the model.
type catalogBuilder interface {
	// Build returns the qualified tools of every reachable server. It never fails;
	// unreachable servers are left out.
	Build(ctx context.Context) []tool.Declaration
}

// toolExecutor runs the tool calls of one model reply.
type toolExecutor interface {
	// ExecuteAll returns one result per call, in call order. Failures are error-tagged results.
	ExecuteAll(ctx context.Context, calls []models.ToolCall, sink workflow.Sink) []models.ToolResult
}
