package gemini

import (
	"context"
	"log/slog"
	"time"

	"github.com/ctbritt/dark-sun-assistant/internal/provider/models"
	"google.golang.org/genai"
)

// GeminiProvider implements models.Provider for Google Gemini.
type GeminiProvider struct {
	client          GeminiClient
	modelName       string
	maxOutputTokens int
	logger          *slog.Logger
}

// Option configures a GeminiProvider.
type Option func(*GeminiProvider)

// WithMaxOutputTokens sets the default output token limit used when a request has no config.
func WithMaxOutputTokens(n int) Option {
	return func(p *GeminiProvider) { p.maxOutputTokens = n }
}

// WithLogger sets the logger used for per-call debug records.
func WithLogger(logger *slog.Logger) Option {
	return func(p *GeminiProvider) { p.logger = logger }
}

// New creates a GeminiProvider with the specified client and model.
func New(client GeminiClient, modelName string, opts ...Option) *GeminiProvider {
	p := &GeminiProvider{
		client:    client,
		modelName: modelName,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate sends the conversation and tool catalog to Gemini and converts the reply.
func (p *GeminiProvider) Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	contents := toGeminiContents(req.Messages)
	config := toGeminiConfig(req.Config, p.maxOutputTokens)
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if tools := toGeminiTools(req.Tools); tools != nil {
		config.Tools = tools
	}

	start := time.Now()
	resp, err := p.client.GenerateContent(ctx, p.modelName, contents, config)
	if err != nil {
		return nil, mapGeminiError(err)
	}

	out, err := fromGeminiResponse(resp, p.modelName)
	if out != nil {
		out.Metadata.LatencyMs = time.Since(start).Milliseconds()
		p.logger.Debug("gemini response",
			"model", p.modelName,
			"finish_reason", out.Metadata.FinishReason,
			"total_tokens", out.Metadata.TotalTokens,
			"tool_calls", len(out.Message.ToolCalls()),
			"latency_ms", out.Metadata.LatencyMs,
		)
	}
	return out, err
}

// Model returns the active model name.
func (p *GeminiProvider) Model() string {
	return p.modelName
}

// ListModels returns available gemini model names.
func (p *GeminiProvider) ListModels(ctx context.Context) ([]string, error) {
	names, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, mapGeminiError(err)
	}
	return names, nil
}
