package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctbritt/dark-sun-assistant/internal/provider/models"
	"github.com/ctbritt/dark-sun-assistant/internal/tool"
	"github.com/ctbritt/dark-sun-assistant/internal/toolserver"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow/toolmanager"
)

type mockProvider struct {
	GenerateFunc func(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error)
}

func (m *mockProvider) Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	return m.GenerateFunc(ctx, req)
}

// scriptedProvider replies with the given messages in order and records every request.
func scriptedProvider(replies ...models.Message) (*mockProvider, *[]*models.GenerateRequest) {
	var requests []*models.GenerateRequest
	p := &mockProvider{
		GenerateFunc: func(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
			requests = append(requests, req)
			if len(requests) > len(replies) {
				return nil, fmt.Errorf("unexpected model call %d", len(requests))
			}
			return &models.GenerateResponse{Message: replies[len(requests)-1]}, nil
		},
	}
	return p, &requests
}

type mockCatalog struct {
	BuildFunc func(ctx context.Context) []tool.Declaration
	calls     int
}

func (m *mockCatalog) Build(ctx context.Context) []tool.Declaration {
	m.calls++
	if m.BuildFunc == nil {
		return nil
	}
	return m.BuildFunc(ctx)
}

type mockCaller struct {
	CallToolFunc func(ctx context.Context, server, tool string, args map[string]any) (*toolserver.CallResult, error)
}

func (m *mockCaller) CallTool(ctx context.Context, server, tool string, args map[string]any) (*toolserver.CallResult, error) {
	return m.CallToolFunc(ctx, server, tool, args)
}

type recordingSink struct {
	mu     sync.Mutex
	events []workflow.Event
}

func (s *recordingSink) Emit(ev workflow.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func toolReply(text string, calls ...models.ToolCall) models.Message {
	msg := models.Message{Role: models.RoleAssistant}
	if text != "" {
		msg.Blocks = append(msg.Blocks, models.TextBlock(text))
	}
	for _, c := range calls {
		msg.Blocks = append(msg.Blocks, models.ToolUseBlock(c))
	}
	return msg
}

func userTurn(text string) Request {
	return Request{
		SystemPrompt: "You are the Oracle of Athas.",
		Messages:     []models.Message{models.NewTextMessage(models.RoleUser, text)},
	}
}

func TestRun_NoToolsSingleRoundTrip(t *testing.T) {
	provider, requests := scriptedProvider(models.NewTextMessage(models.RoleAssistant, "Hello, wanderer."))
	catalog := &mockCatalog{}
	executor := toolmanager.NewToolManager(&mockCaller{
		CallToolFunc: func(ctx context.Context, server, tool string, args map[string]any) (*toolserver.CallResult, error) {
			t.Fatal("no tool should be called")
			return nil, nil
		},
	})
	l := NewLoop(provider, catalog, executor, Config{}, nil)

	res, err := l.Run(context.Background(), userTurn("hello"), nil)

	require.NoError(t, err)
	assert.Equal(t, "Hello, wanderer.", res.Text)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.Aborted)
	require.Len(t, *requests, 1)
	assert.Empty(t, (*requests)[0].Tools)
	assert.Equal(t, "You are the Oracle of Athas.", (*requests)[0].SystemPrompt)
}

func TestRun_ThreeRoundExample(t *testing.T) {
	searchCall := models.ToolCall{ID: "call_a", Name: "lore__search", Args: map[string]any{"q": "Tyr"}}
	fetchCall := models.ToolCall{ID: "call_b", Name: "lore__fetch", Args: map[string]any{"id": "tyr-1"}}
	provider, requests := scriptedProvider(
		toolReply("Let me look that up.", searchCall),
		toolReply("", fetchCall),
		models.NewTextMessage(models.RoleAssistant, "Tyr is ruled by Kalak."),
	)
	catalog := &mockCatalog{BuildFunc: func(ctx context.Context) []tool.Declaration {
		return []tool.Declaration{{Name: "lore__search"}, {Name: "lore__fetch"}}
	}}
	var routed []string
	executor := toolmanager.NewToolManager(&mockCaller{
		CallToolFunc: func(ctx context.Context, server, tool string, args map[string]any) (*toolserver.CallResult, error) {
			routed = append(routed, server+"/"+tool)
			return &toolserver.CallResult{Content: tool + " result"}, nil
		},
	})
	sink := &recordingSink{}
	l := NewLoop(provider, catalog, executor, Config{}, nil)

	res, err := l.Run(context.Background(), userTurn("Who rules Tyr?"), sink)

	require.NoError(t, err)
	assert.Equal(t, "Tyr is ruled by Kalak.", res.Text)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, []string{"lore/search", "lore/fetch"}, routed)
	assert.Equal(t, 1, catalog.calls)

	require.Len(t, *requests, 3)
	for _, req := range *requests {
		assert.Len(t, req.Tools, 2)
	}

	// user, assistant(search), results, assistant(fetch), results, assistant(final)
	transcript := res.Transcript
	require.Len(t, transcript, 6)
	assert.Equal(t, models.RoleUser, transcript[0].Role)
	assert.Equal(t, []models.ToolCall{searchCall}, transcript[1].ToolCalls())
	assert.Equal(t, models.RoleUser, transcript[2].Role)
	assert.Equal(t, []models.ToolResult{{CallID: "call_a", Name: "lore__search", Content: "search result"}}, transcript[2].ToolResults())
	assert.Equal(t, []models.ToolCall{fetchCall}, transcript[3].ToolCalls())
	assert.Equal(t, "call_b", transcript[4].ToolResults()[0].CallID)
	assert.Equal(t, "Tyr is ruled by Kalak.", transcript[5].Text())

	// The second model call sees the first result; earlier requests are not mutated.
	assert.Len(t, (*requests)[0].Messages, 1)
	assert.Len(t, (*requests)[1].Messages, 3)
	assert.Len(t, (*requests)[2].Messages, 5)

	assert.Len(t, sink.events, 4)
}

func TestRun_ResultsMatchCallOrderWithFailure(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "1", Name: "notion__query"},
		{ID: "2", Name: "dark-sun-materials__search"},
		{ID: "3", Name: "obsidian-vault__read"},
	}
	provider, requests := scriptedProvider(
		toolReply("", calls...),
		models.NewTextMessage(models.RoleAssistant, "done"),
	)
	executor := toolmanager.NewToolManager(&mockCaller{
		CallToolFunc: func(ctx context.Context, server, tool string, args map[string]any) (*toolserver.CallResult, error) {
			if server == "dark-sun-materials" {
				return nil, &toolserver.ToolExecutionError{Server: server, Tool: tool, Payload: "index offline"}
			}
			return &toolserver.CallResult{Content: "ok " + server}, nil
		},
	})
	l := NewLoop(provider, &mockCatalog{}, executor, Config{}, nil)

	res, err := l.Run(context.Background(), userTurn("search everything"), nil)

	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)
	second := (*requests)[1].Messages
	results := second[len(second)-1].ToolResults()
	require.Len(t, results, 3)
	assert.Equal(t, "1", results[0].CallID)
	assert.False(t, results[0].IsError)
	assert.Equal(t, "2", results[1].CallID)
	assert.True(t, results[1].IsError)
	assert.Equal(t, "index offline", results[1].Content)
	assert.Equal(t, "3", results[2].CallID)
	assert.Equal(t, "ok obsidian-vault", results[2].Content)
}

func TestRun_BoundReached(t *testing.T) {
	var n int
	provider := &mockProvider{
		GenerateFunc: func(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
			n++
			text := ""
			if n == 2 {
				text = "Still searching the wastes."
			}
			return &models.GenerateResponse{Message: toolReply(text, models.ToolCall{ID: fmt.Sprint(n), Name: "lore__search"})}, nil
		},
	}
	executor := toolmanager.NewToolManager(&mockCaller{
		CallToolFunc: func(ctx context.Context, server, tool string, args map[string]any) (*toolserver.CallResult, error) {
			return &toolserver.CallResult{Content: "nothing"}, nil
		},
	})
	l := NewLoop(provider, &mockCatalog{}, executor, Config{MaxIterations: 4}, nil)

	res, err := l.Run(context.Background(), userTurn("loop forever"), nil)

	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, res.Iterations)
	assert.Equal(t, "Still searching the wastes.", res.Text)
}

func TestRun_BoundReachedWithoutTextUsesFallback(t *testing.T) {
	provider := &mockProvider{
		GenerateFunc: func(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
			return &models.GenerateResponse{Message: toolReply("", models.ToolCall{ID: "x", Name: "lore__search"})}, nil
		},
	}
	executor := toolmanager.NewToolManager(&mockCaller{
		CallToolFunc: func(ctx context.Context, server, tool string, args map[string]any) (*toolserver.CallResult, error) {
			return &toolserver.CallResult{Content: "nothing"}, nil
		},
	})
	l := NewLoop(provider, &mockCatalog{}, executor, Config{}, nil)

	res, err := l.Run(context.Background(), userTurn("loop forever"), nil)

	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Equal(t, DefaultMaxIterations, res.Iterations)
	assert.Equal(t, DefaultFallbackText, res.Text)
}

func TestRun_EmptyFinalReplyUsesEarlierText(t *testing.T) {
	provider, _ := scriptedProvider(
		toolReply("The Veiled Alliance meets in secret.", models.ToolCall{ID: "1", Name: "lore__search"}),
		models.Message{Role: models.RoleAssistant},
	)
	executor := toolmanager.NewToolManager(&mockCaller{
		CallToolFunc: func(ctx context.Context, server, tool string, args map[string]any) (*toolserver.CallResult, error) {
			return &toolserver.CallResult{Content: "ok"}, nil
		},
	})
	l := NewLoop(provider, &mockCatalog{}, executor, Config{FallbackText: "The Oracle is silent."}, nil)

	res, err := l.Run(context.Background(), userTurn("veiled alliance"), nil)

	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.Equal(t, "The Veiled Alliance meets in secret.", res.Text)
}

func TestRun_EmptyReplyUsesConfiguredFallback(t *testing.T) {
	provider, _ := scriptedProvider(models.Message{Role: models.RoleAssistant})
	l := NewLoop(provider, &mockCatalog{}, toolmanager.NewToolManager(&mockCaller{}), Config{FallbackText: "The Oracle is silent."}, nil)

	res, err := l.Run(context.Background(), userTurn("?"), nil)

	require.NoError(t, err)
	assert.Equal(t, "The Oracle is silent.", res.Text)
}

func TestRun_ModelErrorWrapped(t *testing.T) {
	providerErr := &models.ProviderError{Code: models.ErrorCodeRateLimit, Message: "slow down", Retryable: true}
	var calls int
	provider := &mockProvider{
		GenerateFunc: func(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
			calls++
			if calls == 1 {
				return &models.GenerateResponse{Message: toolReply("", models.ToolCall{ID: "1", Name: "lore__search"})}, nil
			}
			return nil, providerErr
		},
	}
	executor := toolmanager.NewToolManager(&mockCaller{
		CallToolFunc: func(ctx context.Context, server, tool string, args map[string]any) (*toolserver.CallResult, error) {
			return &toolserver.CallResult{Content: "ok"}, nil
		},
	})
	l := NewLoop(provider, &mockCatalog{}, executor, Config{}, nil)

	res, err := l.Run(context.Background(), userTurn("hi"), nil)

	assert.Nil(t, res)
	var mre *ModelRequestError
	require.True(t, errors.As(err, &mre))
	assert.Equal(t, 2, mre.Iteration)
	assert.ErrorIs(t, err, models.ErrRateLimit)
	assert.True(t, models.IsRetryable(err))
}

func TestRun_SeedIsNotMutated(t *testing.T) {
	provider, _ := scriptedProvider(
		toolReply("", models.ToolCall{ID: "1", Name: "lore__search"}),
		models.NewTextMessage(models.RoleAssistant, "ok"),
	)
	executor := toolmanager.NewToolManager(&mockCaller{
		CallToolFunc: func(ctx context.Context, server, tool string, args map[string]any) (*toolserver.CallResult, error) {
			return &toolserver.CallResult{Content: "ok"}, nil
		},
	})
	req := userTurn("hi")
	seed := make([]models.Message, 1, 8)
	copy(seed, req.Messages)
	req.Messages = seed

	_, err := NewLoop(provider, &mockCatalog{}, executor, Config{}, nil).Run(context.Background(), req, nil)

	require.NoError(t, err)
	assert.Len(t, req.Messages, 1)
	assert.Equal(t, "hi", seed[:cap(seed)][0].Text())
	assert.Empty(t, seed[:cap(seed)][1].Blocks)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "awaiting_model", PhaseAwaitingModel.String())
	assert.Equal(t, "executing_tools", PhaseExecutingTools.String())
	assert.Equal(t, "done", PhaseDone.String())
	assert.Equal(t, "aborted", PhaseAborted.String())
}
