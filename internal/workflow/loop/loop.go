package loop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ctbritt/dark-sun-assistant/internal/provider/models"
	"github.com/ctbritt/dark-sun-assistant/internal/tool"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow"
)

const (
	// DefaultMaxIterations bounds the number of model calls per request.
	DefaultMaxIterations = 10

	// DefaultFallbackText is returned when the model never produced any text.
	DefaultFallbackText = "Unable to generate response"
)

// Phase is the state of a running loop.
type Phase int

const (
	PhaseAwaitingModel Phase = iota
	PhaseExecutingTools
	PhaseDone
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingModel:
		return "awaiting_model"
	case PhaseExecutingTools:
		return "executing_tools"
	case PhaseDone:
		return "done"
	case PhaseAborted:
		return "aborted"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ModelRequestError reports a failed model call. The request produces no answer.
type ModelRequestError struct {
	Iteration int
	Err       error
}

func (e *ModelRequestError) Error() string {
	return fmt.Sprintf("model request (iteration %d): %v", e.Iteration, e.Err)
}

func (e *ModelRequestError) Unwrap() error { return e.Err }

// Config holds the loop limits.
type Config struct {
	// MaxIterations is the maximum number of model calls. Zero means DefaultMaxIterations.
	MaxIterations int

	// FallbackText is the answer when the model produced no text at all.
	FallbackText string

	// Generate is passed through to every model call.
	Generate *models.GenerateConfig
}

// Request is one user turn to answer.
type Request struct {
	SystemPrompt string

	// Messages is the seed conversation, ending with the new user turn.
	Messages []models.Message
}

// Result is the outcome of a completed loop.
type Result struct {
	// Text is the final assistant answer.
	Text string

	// Iterations is the number of model calls made.
	Iterations int

	// Aborted is true when the iteration bound was reached before a final answer.
	Aborted bool

	// Transcript is the working conversation including tool turns. It is never persisted.
	Transcript []models.Message
}

// state is the loop's working memory. turns is never mutated in place.
type state struct {
	phase     Phase
	iteration int
	turns     []models.Message
	pending   []models.ToolCall
	lastText  string
	final     string
}

func (s state) withTurn(m models.Message) []models.Message {
	turns := make([]models.Message, len(s.turns), len(s.turns)+1)
	copy(turns, s.turns)
	return append(turns, m)
}

// Loop drives the model and tool servers until the model answers in text.
type Loop struct {
	provider llmProvider
	catalog  catalogBuilder
	tools    toolExecutor
	cfg      Config
	logger   *slog.Logger
}

// NewLoop creates a Loop. A nil logger discards output.
func NewLoop(provider llmProvider, catalog catalogBuilder, tools toolExecutor, cfg Config, logger *slog.Logger) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.FallbackText == "" {
		cfg.FallbackText = DefaultFallbackText
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loop{
		provider: provider,
		catalog:  catalog,
		tools:    tools,
		cfg:      cfg,
		logger:   logger.With("component", "loop"),
	}
}

// Run answers req. Progress for every tool call goes to sink. The catalog is built
// once and reused for every model call of this request.
func (l *Loop) Run(ctx context.Context, req Request, sink workflow.Sink) (*Result, error) {
	if sink == nil {
		sink = workflow.Discard
	}

	catalog := l.catalog.Build(ctx)
	l.logger.Debug("catalog built", "tools", len(catalog))

	st := state{
		phase: PhaseAwaitingModel,
		turns: append([]models.Message(nil), req.Messages...),
	}

	for st.phase != PhaseDone && st.phase != PhaseAborted {
		var err error
		switch st.phase {
		case PhaseAwaitingModel:
			st, err = l.awaitModel(ctx, st, req.SystemPrompt, catalog)
			if err != nil {
				return nil, err
			}
		case PhaseExecutingTools:
			st = l.executeTools(ctx, st, sink)
		}
	}

	if st.phase == PhaseAborted {
		l.logger.Warn("iteration bound reached", "max_iterations", l.cfg.MaxIterations)
	}

	text := st.final
	if text == "" {
		text = st.lastText
	}
	if text == "" {
		text = l.cfg.FallbackText
	}

	return &Result{
		Text:       text,
		Iterations: st.iteration,
		Aborted:    st.phase == PhaseAborted,
		Transcript: st.turns,
	}, nil
}

func (l *Loop) awaitModel(ctx context.Context, st state, systemPrompt string, catalog []tool.Declaration) (state, error) {
	if st.iteration >= l.cfg.MaxIterations {
		st.phase = PhaseAborted
		return st, nil
	}
	st.iteration++

	resp, err := l.provider.Generate(ctx, &models.GenerateRequest{
		SystemPrompt: systemPrompt,
		Messages:     st.turns,
		Tools:        catalog,
		Config:       l.cfg.Generate,
	})
	if err != nil {
		return st, &ModelRequestError{Iteration: st.iteration, Err: err}
	}

	reply := resp.Message
	reply.Role = models.RoleAssistant
	text := reply.Text()
	calls := reply.ToolCalls()

	l.logger.Debug("model replied",
		"iteration", st.iteration,
		"tool_calls", len(calls),
		"finish_reason", resp.Metadata.FinishReason,
		"latency_ms", resp.Metadata.LatencyMs)

	if text != "" {
		st.lastText = text
	}
	st.turns = st.withTurn(reply)

	if len(calls) == 0 {
		st.final = text
		st.phase = PhaseDone
		return st, nil
	}

	st.pending = calls
	st.phase = PhaseExecutingTools
	return st, nil
}

func (l *Loop) executeTools(ctx context.Context, st state, sink workflow.Sink) state {
	results := l.tools.ExecuteAll(ctx, st.pending, sink)

	blocks := make([]models.ContentBlock, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, models.ToolResultBlock(r))
	}
	st.turns = st.withTurn(models.Message{Role: models.RoleUser, Blocks: blocks})
	st.pending = nil
	st.phase = PhaseAwaitingModel
	return st
}
