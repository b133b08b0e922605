package models

import (
	"strings"

	"github.com/ctbritt/dark-sun-assistant/internal/tool"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ToolCall is a tool invocation requested by the model.
// Name is the qualified tool name from the catalog.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult answers exactly one ToolCall, referenced by CallID.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ContentBlock is one ordered element of a message. Exactly one of Text, ToolCall or
// ToolResult is meaningful, selected by Type.
type ContentBlock struct {
	Type       BlockType   `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool invocation block.
func ToolUseBlock(call ToolCall) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolCall: &call}
}

// ToolResultBlock builds a tool result block.
func ToolResultBlock(result ToolResult) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolResult: &result}
}

// Message is one conversation turn sent to or received from the model.
type Message struct {
	Role   Role           `json:"role"`
	Blocks []ContentBlock `json:"blocks"`
}

// NewTextMessage returns a message holding a single text block.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Blocks: []ContentBlock{TextBlock(text)}}
}

// Text joins the message's text blocks in order, separated by newlines.
func (m Message) Text() string {
	var parts []string
	for _, b := range m.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolCalls returns the tool invocations in the order the model emitted them.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse && b.ToolCall != nil {
			calls = append(calls, *b.ToolCall)
		}
	}
	return calls
}

// ToolResults returns the tool results held by the message, in order.
func (m Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, b := range m.Blocks {
		if b.Type == BlockToolResult && b.ToolResult != nil {
			results = append(results, *b.ToolResult)
		}
	}
	return results
}

// GenerateRequest encapsulates all parameters for a generation request.
type GenerateRequest struct {
	// SystemPrompt is sent as the model's system instruction
	SystemPrompt string

	// Messages is the ordered conversation, oldest first
	Messages []Message

	// Tools is the catalog offered to the model; empty means no tools
	Tools []tool.Declaration

	// Config contains optional generation parameters
	Config *GenerateConfig
}

// GenerateConfig contains optional generation parameters.
// Pointer fields distinguish between "not set" and "zero value".
type GenerateConfig struct {
	MaxOutputTokens int
	Temperature     *float32
	TopP            *float32
}

// GenerateResponse contains the model's response and metadata.
type GenerateResponse struct {
	// Message holds text and tool_use blocks in the order the model produced them
	Message Message

	// Metadata contains information about the generation
	Metadata ResponseMetadata
}

// ResponseMetadata contains information about the generation.
type ResponseMetadata struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ModelUsed        string
	FinishReason     string
	LatencyMs        int64
}
