package toolmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ctbritt/dark-sun-assistant/internal/provider/models"
	"github.com/ctbritt/dark-sun-assistant/internal/toolserver"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow"
)

// ToolManager dispatches the tool calls of one model response to tool servers.
// Every failure becomes an error-tagged result; nothing it returns aborts the loop.
type ToolManager struct {
	caller   toolCaller
	parallel bool
	logger   *slog.Logger
}

// Option configures a ToolManager.
type Option func(*ToolManager)

// WithParallel runs the calls of one batch concurrently. Results keep request order.
func WithParallel(parallel bool) Option {
	return func(m *ToolManager) { m.parallel = parallel }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *ToolManager) { m.logger = logger }
}

func NewToolManager(caller toolCaller, opts ...Option) *ToolManager {
	m := &ToolManager{
		caller: caller,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ExecuteAll runs calls and returns exactly one result per call, in the same order,
// each carrying the id of the call it answers.
func (m *ToolManager) ExecuteAll(ctx context.Context, calls []models.ToolCall, sink workflow.Sink) []models.ToolResult {
	if sink == nil {
		sink = workflow.Discard
	}
	results := make([]models.ToolResult, len(calls))

	if !m.parallel || len(calls) < 2 {
		for i, call := range calls {
			results[i] = m.Execute(ctx, call, sink)
		}
		return results
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.Execute(ctx, call, sink)
		}()
	}
	wg.Wait()
	return results
}

// Execute runs a single call, emitting progress before and after it.
func (m *ToolManager) Execute(ctx context.Context, call models.ToolCall, sink workflow.Sink) (result models.ToolResult) {
	if sink == nil {
		sink = workflow.Discard
	}
	result = models.ToolResult{CallID: call.ID, Name: call.Name}

	server, toolName, ok := toolserver.SplitQualifiedName(call.Name)
	if !ok {
		result.IsError = true
		result.Content = fmt.Sprintf("Error: tool %q is not a known tool. Tool names have the form <server>%s<tool>.", call.Name, toolserver.Separator)
		sink.Emit(workflow.ProgressEvent{
			Message: fmt.Sprintf("Invalid tool request: %s", call.Name),
			Tool:    call.Name,
			Phase:   workflow.PhaseFailed,
		})
		return result
	}

	logger := m.logger.With("server", server, "tool", toolName, "call_id", call.ID)
	sink.Emit(workflow.ProgressEvent{
		Message: fmt.Sprintf("Calling %s on %s", toolName, server),
		Server:  server,
		Tool:    toolName,
		Phase:   workflow.PhaseStarted,
	})

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool call panicked", "panic", r)
			result.IsError = true
			result.Content = fmt.Sprintf("Error: tool %s on %s failed unexpectedly", toolName, server)
		}

		phase, verb := workflow.PhaseSucceeded, "Finished"
		if result.IsError {
			phase, verb = workflow.PhaseFailed, "Failed"
		}
		sink.Emit(workflow.ProgressEvent{
			Message: fmt.Sprintf("%s %s on %s", verb, toolName, server),
			Server:  server,
			Tool:    toolName,
			Phase:   phase,
		})
		logger.Debug("tool call finished", "is_error", result.IsError, "duration_ms", time.Since(start).Milliseconds())
	}()

	res, err := m.caller.CallTool(ctx, server, toolName, call.Args)
	if err != nil {
		result.IsError = true
		result.Content = errorContent(err, server)
		logger.Warn("tool call failed", "err", err)
		return result
	}

	result.Content = res.Content
	return result
}

// errorContent is the text the model sees for a failed call.
func errorContent(err error, server string) string {
	var execErr *toolserver.ToolExecutionError
	switch {
	case errors.As(err, &execErr):
		return execErr.Payload
	case errors.Is(err, toolserver.ErrNotConnected):
		return fmt.Sprintf("Error: tool server %s is not connected", server)
	case errors.Is(err, toolserver.ErrUnknownServer):
		return fmt.Sprintf("Error: no tool server named %s", server)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
