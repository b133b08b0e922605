package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctbritt/dark-sun-assistant/internal/conversation"
	"github.com/ctbritt/dark-sun-assistant/internal/provider/models"
	"github.com/ctbritt/dark-sun-assistant/internal/toolserver"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow/loop"
)

type mockRunner struct {
	RunFunc func(ctx context.Context, req loop.Request, sink workflow.Sink) (*loop.Result, error)
}

func (m *mockRunner) Run(ctx context.Context, req loop.Request, sink workflow.Sink) (*loop.Result, error) {
	return m.RunFunc(ctx, req, sink)
}

type mockStatus struct {
	statuses []toolserver.ServerStatus
}

func (m *mockStatus) Status() []toolserver.ServerStatus { return m.statuses }

type recordingStream struct {
	events []workflow.Event
	closed bool
}

func (r *recordingStream) Emit(ev workflow.Event) { r.events = append(r.events, ev) }
func (r *recordingStream) Close()                 { r.closed = true }

func answering(text string, captured *loop.Request) *mockRunner {
	return &mockRunner{
		RunFunc: func(ctx context.Context, req loop.Request, sink workflow.Sink) (*loop.Result, error) {
			if captured != nil {
				*captured = req
			}
			sink.Emit(workflow.ProgressEvent{Message: "Calling search on lore"})
			return &loop.Result{Text: text, Iterations: 1}, nil
		},
	}
}

func TestSend_NewConversation(t *testing.T) {
	store := conversation.NewStore()
	var got loop.Request
	svc := NewService(store, answering("Kalak rules Tyr.", &got), nil, "", nil)

	resp, err := svc.Send(context.Background(), Request{Message: "Who rules Tyr?"})

	require.NoError(t, err)
	assert.Equal(t, "Kalak rules Tyr.", resp.Message.Content)
	assert.Equal(t, conversation.RoleAssistant, resp.Message.Role)

	conv, err := store.Get(resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Who rules Tyr?", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, conversation.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Who rules Tyr?", conv.Messages[0].Content)
	assert.Equal(t, resp.Message.ID, conv.Messages[1].ID)

	require.Len(t, got.Messages, 1)
	assert.Equal(t, "Who rules Tyr?", got.Messages[0].Text())
	assert.True(t, strings.HasPrefix(got.SystemPrompt, "You are the Oracle of Athas"))
}

func TestSend_SeedsHistoryFromExistingConversation(t *testing.T) {
	store := conversation.NewStore()
	conv := store.Create("Tyr")
	_, err := store.AddMessage(conv.ID, conversation.RoleUser, "Who rules Tyr?", nil)
	require.NoError(t, err)
	_, err = store.AddMessage(conv.ID, conversation.RoleAssistant, "Kalak.", nil)
	require.NoError(t, err)
	var got loop.Request
	svc := NewService(store, answering("He is a sorcerer-king.", &got), nil, "", nil)

	resp, err := svc.Send(context.Background(), Request{Message: "What is he?", ConversationID: conv.ID})

	require.NoError(t, err)
	assert.Equal(t, conv.ID, resp.ConversationID)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, models.RoleUser, got.Messages[0].Role)
	assert.Equal(t, models.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "Kalak.", got.Messages[1].Text())
	assert.Equal(t, "What is he?", got.Messages[2].Text())

	stored, err := store.Get(conv.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 4)
	assert.Equal(t, "Tyr", stored.Title)
}

func TestSend_UnknownConversationStartsNew(t *testing.T) {
	store := conversation.NewStore()
	svc := NewService(store, answering("ok", nil), nil, "", nil)

	resp, err := svc.Send(context.Background(), Request{Message: "hello", ConversationID: "conv_gone"})

	require.NoError(t, err)
	assert.NotEqual(t, "conv_gone", resp.ConversationID)
	assert.Len(t, store.List(), 1)
}

func TestSend_EmptyMessage(t *testing.T) {
	svc := NewService(conversation.NewStore(), &mockRunner{
		RunFunc: func(ctx context.Context, req loop.Request, sink workflow.Sink) (*loop.Result, error) {
			t.Fatal("loop must not run")
			return nil, nil
		},
	}, nil, "", nil)

	_, err := svc.Send(context.Background(), Request{Message: "  \n"})

	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSend_ModelFailurePersistsNothing(t *testing.T) {
	store := conversation.NewStore()
	conv := store.Create("Tyr")
	modelErr := &loop.ModelRequestError{Iteration: 1, Err: &models.ProviderError{Code: models.ErrorCodeUnavailable, Message: "down"}}
	svc := NewService(store, &mockRunner{
		RunFunc: func(ctx context.Context, req loop.Request, sink workflow.Sink) (*loop.Result, error) {
			return nil, modelErr
		},
	}, nil, "", nil)

	_, err := svc.Send(context.Background(), Request{Message: "hello", ConversationID: conv.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrServiceUnavailable)

	stored, err := store.Get(conv.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Messages)

	_, err = svc.Send(context.Background(), Request{Message: "hello"})
	require.Error(t, err)
	assert.Len(t, store.List(), 1)
}

func TestSend_InlinesAttachments(t *testing.T) {
	var got loop.Request
	svc := NewService(conversation.NewStore(), answering("ok", &got), nil, "", nil)

	_, err := svc.Send(context.Background(), Request{
		Message: "Summarize these",
		Attachments: []conversation.Attachment{
			{Name: "a.md", OriginalName: "notes.md", MimeType: "text/markdown", Content: "Session 3 recap", IsProcessed: true},
			{Name: "b.png", MimeType: "image/png"},
		},
	})

	require.NoError(t, err)
	text := got.Messages[0].Text()
	assert.Contains(t, text, "Summarize these\n\n[Attachment: notes.md]\nSession 3 recap")
	assert.Contains(t, text, "[Attachment: b.png (image/png, content not available as text)]")
}

func TestStream_EmitsProgressThenFinal(t *testing.T) {
	svc := NewService(conversation.NewStore(), answering("Kalak.", nil), nil, "", nil)
	stream := &recordingStream{}

	resp, err := svc.Stream(context.Background(), Request{Message: "Who rules Tyr?"}, stream)

	require.NoError(t, err)
	assert.True(t, stream.closed)
	require.Len(t, stream.events, 2)
	assert.IsType(t, workflow.ProgressEvent{}, stream.events[0])
	final, ok := stream.events[1].(workflow.FinalEvent)
	require.True(t, ok)
	assert.Equal(t, resp.ConversationID, final.ConversationID)
	assert.Equal(t, "Kalak.", final.Message.Content)
}

func TestStream_EmitsErrorOnFailure(t *testing.T) {
	svc := NewService(conversation.NewStore(), &mockRunner{
		RunFunc: func(ctx context.Context, req loop.Request, sink workflow.Sink) (*loop.Result, error) {
			return nil, errors.New("model unavailable")
		},
	}, nil, "", nil)
	stream := &recordingStream{}

	_, err := svc.Stream(context.Background(), Request{Message: "hi"}, stream)

	require.Error(t, err)
	assert.True(t, stream.closed)
	require.Len(t, stream.events, 1)
	errEv, ok := stream.events[0].(workflow.ErrorEvent)
	require.True(t, ok)
	assert.Contains(t, errEv.Message, "model unavailable")
}

func TestSystemPrompt_ListsConnectedServers(t *testing.T) {
	var got loop.Request
	status := &mockStatus{statuses: []toolserver.ServerStatus{
		{Name: "obsidian-vault", State: toolserver.StateConnected},
		{Name: "notion", State: toolserver.StateError, Error: "timeout"},
		{Name: "foundry-vtt", State: toolserver.StateConnected},
	}}
	svc := NewService(conversation.NewStore(), answering("ok", &got), status, "Custom persona.", nil)

	_, err := svc.Send(context.Background(), Request{Message: "hi"})

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.SystemPrompt, "Custom persona."))
	assert.Contains(t, got.SystemPrompt, "- obsidian-vault (tools are named obsidian-vault__<tool>)")
	assert.Contains(t, got.SystemPrompt, "- foundry-vtt")
	assert.NotContains(t, got.SystemPrompt, "- notion")
}

func TestSystemPrompt_NoServers(t *testing.T) {
	prompt := systemPrompt("Base.", nil)

	assert.Contains(t, prompt, "No tool servers are connected")
}

func TestTitleFrom(t *testing.T) {
	assert.Equal(t, "Who rules Tyr?", titleFrom("  Who rules\n Tyr?  "))

	long := strings.Repeat("á", 60)
	title := titleFrom(long)
	assert.Equal(t, strings.Repeat("á", 50)+"...", title)
}
