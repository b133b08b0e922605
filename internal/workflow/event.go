package workflow

import "github.com/ctbritt/dark-sun-assistant/internal/conversation"

// Event is the interface for all workflow events.
// Consumers handle events via type switch.
type Event interface {
	// Kind is the wire name of the event: progress, final or error.
	Kind() string
	isEvent()
}

// Sink receives events from a running loop. Emit must not block.
type Sink interface {
	Emit(Event)
}

// ProgressPhase marks where a tool call is in its lifecycle.
type ProgressPhase string

const (
	PhaseStarted   ProgressPhase = "started"
	PhaseSucceeded ProgressPhase = "succeeded"
	PhaseFailed    ProgressPhase = "failed"
)

// ProgressEvent describes the tool call currently being made.
type ProgressEvent struct {
	Message string        `json:"message"`
	Server  string        `json:"server,omitempty"`
	Tool    string        `json:"tool,omitempty"`
	Phase   ProgressPhase `json:"phase,omitempty"`
}

func (ProgressEvent) Kind() string { return "progress" }
func (ProgressEvent) isEvent()     {}

// FinalEvent carries the committed assistant message.
type FinalEvent struct {
	ConversationID string               `json:"conversationId"`
	Message        conversation.Message `json:"message"`
}

func (FinalEvent) Kind() string { return "final" }
func (FinalEvent) isEvent()     {}

// ErrorEvent reports a terminal failure of the request.
type ErrorEvent struct {
	Message string `json:"error"`
}

func (ErrorEvent) Kind() string { return "error" }
func (ErrorEvent) isEvent()     {}

// Terminal reports whether ev ends a stream.
func Terminal(ev Event) bool {
	switch ev.(type) {
	case FinalEvent, ErrorEvent:
		return true
	default:
		return false
	}
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) {}
