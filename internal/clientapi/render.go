package clientapi

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/ctbritt/dark-sun-assistant/internal/toolserver"
	"github.com/ctbritt/dark-sun-assistant/internal/workflow"
)

// MarkdownRenderer turns markdown into terminal output.
type MarkdownRenderer interface {
	Render(in string) (string, error)
}

var (
	progressStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	succeededStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	labelStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	dimStyle       = lipgloss.NewStyle().Faint(true)
)

// Renderer formats stream events for a terminal. Plain disables styling and markdown.
type Renderer struct {
	markdown MarkdownRenderer
	plain    bool
}

// NewRenderer builds a glamour-backed renderer wrapping at width columns.
func NewRenderer(width int, plain bool) (*Renderer, error) {
	if plain {
		return &Renderer{plain: true}, nil
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}
	return &Renderer{markdown: md}, nil
}

// NewRendererWith uses md for answers.
func NewRendererWith(md MarkdownRenderer) *Renderer {
	return &Renderer{markdown: md}
}

// Progress formats one progress line.
func (r *Renderer) Progress(ev workflow.ProgressEvent) string {
	if r.plain {
		return "... " + ev.Message
	}
	switch ev.Phase {
	case workflow.PhaseFailed:
		return failedStyle.Render("✗ " + ev.Message)
	case workflow.PhaseSucceeded:
		return succeededStyle.Render("✔ " + ev.Message)
	default:
		return progressStyle.Render("› " + ev.Message)
	}
}

// Answer renders the final assistant text. Markdown failures fall back to plain text.
func (r *Renderer) Answer(text string) string {
	if r.plain || r.markdown == nil {
		return text
	}
	out, err := r.markdown.Render(text)
	if err != nil {
		return text
	}
	return out
}

// Error formats a failure.
func (r *Renderer) Error(msg string) string {
	if r.plain {
		return "error: " + msg
	}
	return errorStyle.Render("✗ " + msg)
}

// Footer shows the id to continue the conversation.
func (r *Renderer) Footer(conversationID string) string {
	line := "conversation: " + conversationID
	if r.plain {
		return line
	}
	return dimStyle.Render(line)
}

// Health formats a server health report.
func (r *Renderer) Health(h *Health) string {
	var b strings.Builder
	label := func(s string) string {
		if r.plain {
			return s
		}
		return labelStyle.Render(s)
	}
	fmt.Fprintf(&b, "%s %s\n", label("status:"), h.Status)
	if h.Model != "" {
		fmt.Fprintf(&b, "%s %s\n", label("model:"), h.Model)
	}
	fmt.Fprintf(&b, "%s\n", label("tool servers:"))
	if len(h.MCPServers) == 0 {
		b.WriteString("  (none configured)\n")
	}
	for _, s := range h.MCPServers {
		line := fmt.Sprintf("  %-20s %s", s.Name, s.State)
		if s.Disabled {
			line += " (disabled)"
		}
		if s.Error != "" {
			line += "  " + s.Error
		}
		if !r.plain {
			switch s.State {
			case toolserver.StateConnected:
				line = succeededStyle.Render(line)
			case toolserver.StateError:
				line = failedStyle.Render(line)
			default:
				line = dimStyle.Render(line)
			}
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
