// Package chat answers user messages with the tool-calling loop and records the
// exchange in the conversation store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ctbritt/dark-sun-assistant/internal/conversation"
	"github.com/ctbritt/dark-sun-assistant/internal/provider/models"
	"github.com/ctbritt/dark-sun-assistant/internal/toolserver"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow/loop"
)

// ErrEmptyMessage is returned when the user message is blank.
var ErrEmptyMessage = errors.New("message is required")

const maxTitleRunes = 50

type runner interface {
	Run(ctx context.Context, req loop.Request, sink workflow.Sink) (*loop.Result, error)
}

type statusSource interface {
	Status() []toolserver.ServerStatus
}

// EventStream is where Stream delivers progress and the terminal event.
type EventStream interface {
	workflow.Sink
	Close()
}

// Request is one user message.
type Request struct {
	Message        string                    `json:"message"`
	ConversationID string                    `json:"conversationId,omitempty"`
	Attachments    []conversation.Attachment `json:"attachments,omitempty"`
}

// Response is the committed assistant reply.
type Response struct {
	ConversationID string               `json:"conversationId"`
	Message        conversation.Message `json:"message"`
}

// Service is safe for concurrent use.
type Service struct {
	store  *conversation.Store
	loop   runner
	status statusSource
	prompt string
	logger *slog.Logger
}

// NewService creates a Service. An empty prompt selects DefaultSystemPrompt.
func NewService(store *conversation.Store, l runner, status statusSource, prompt string, logger *slog.Logger) *Service {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultSystemPrompt
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		store:  store,
		loop:   l,
		status: status,
		prompt: prompt,
		logger: logger.With("component", "chat"),
	}
}

// Send answers req and returns the stored assistant message.
func (s *Service) Send(ctx context.Context, req Request) (*Response, error) {
	return s.answer(ctx, req, workflow.Discard)
}

// Stream answers req, reporting tool progress to events. It always finishes events
// with a FinalEvent or an ErrorEvent and closes it.
func (s *Service) Stream(ctx context.Context, req Request, events EventStream) (*Response, error) {
	defer events.Close()

	resp, err := s.answer(ctx, req, events)
	if err != nil {
		events.Emit(workflow.ErrorEvent{Message: err.Error()})
		return nil, err
	}
	events.Emit(workflow.FinalEvent{ConversationID: resp.ConversationID, Message: resp.Message})
	return resp, nil
}

func (s *Service) answer(ctx context.Context, req Request, sink workflow.Sink) (*Response, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	var history []conversation.Message
	convID := ""
	if req.ConversationID != "" {
		conv, err := s.store.Get(req.ConversationID)
		switch {
		case err == nil:
			history = conv.Messages
			convID = conv.ID
		case errors.Is(err, conversation.ErrNotFound):
			s.logger.Info("unknown conversation, starting a new one", "conversation_id", req.ConversationID)
		default:
			return nil, err
		}
	}

	seed := make([]models.Message, 0, len(history)+1)
	for _, m := range history {
		seed = append(seed, toModelMessage(m))
	}
	seed = append(seed, models.NewTextMessage(models.RoleUser, userContent(message, req.Attachments)))

	var statuses []toolserver.ServerStatus
	if s.status != nil {
		statuses = s.status.Status()
	}

	result, err := s.loop.Run(ctx, loop.Request{
		SystemPrompt: systemPrompt(s.prompt, statuses),
		Messages:     seed,
	}, sink)
	if err != nil {
		s.logger.Error("chat request failed", "conversation_id", convID, "err", err)
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	s.logger.Info("chat request answered",
		"conversation_id", convID,
		"iterations", result.Iterations,
		"aborted", result.Aborted)

	if convID == "" {
		convID = s.store.Create(titleFrom(message)).ID
	}
	if _, err := s.store.AddMessage(convID, conversation.RoleUser, message, req.Attachments); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}
	reply, err := s.store.AddMessage(convID, conversation.RoleAssistant, result.Text, nil)
	if err != nil {
		return nil, fmt.Errorf("store assistant message: %w", err)
	}

	return &Response{ConversationID: convID, Message: reply}, nil
}

func toModelMessage(m conversation.Message) models.Message {
	if m.Role == conversation.RoleAssistant {
		return models.NewTextMessage(models.RoleAssistant, m.Content)
	}
	return models.NewTextMessage(models.RoleUser, userContent(m.Content, m.Attachments))
}

// userContent inlines attachments after the message text.
func userContent(message string, attachments []conversation.Attachment) string {
	if len(attachments) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString(message)
	for _, a := range attachments {
		name := a.OriginalName
		if name == "" {
			name = a.Name
		}
		if a.IsProcessed && a.Content != "" {
			fmt.Fprintf(&b, "\n\n[Attachment: %s]\n%s", name, a.Content)
			continue
		}
		fmt.Fprintf(&b, "\n\n[Attachment: %s (%s, content not available as text)]", name, a.MimeType)
	}
	return b.String()
}

func titleFrom(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "..."
}
