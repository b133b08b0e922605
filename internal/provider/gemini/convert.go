package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/ctbritt/dark-sun-assistant/internal/provider/models"
	"github.com/ctbritt/dark-sun-assistant/internal/tool"
)

// toGeminiContents converts conversation turns to Gemini contents, skipping empty turns.
func toGeminiContents(messages []models.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if content := messageToGeminiContent(msg); content != nil {
			contents = append(contents, content)
		}
	}
	return contents
}

// messageToGeminiContent converts a single message, keeping block order.
func messageToGeminiContent(msg models.Message) *genai.Content {
	role := "user"
	if msg.Role == models.RoleAssistant {
		role = "model"
	}

	parts := make([]*genai.Part, 0, len(msg.Blocks))
	for _, block := range msg.Blocks {
		switch block.Type {
		case models.BlockText:
			if block.Text != "" {
				parts = append(parts, &genai.Part{Text: block.Text})
			}
		case models.BlockToolUse:
			if block.ToolCall == nil {
				continue
			}
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   block.ToolCall.ID,
					Name: block.ToolCall.Name,
					Args: block.ToolCall.Args,
				},
			})
		case models.BlockToolResult:
			if block.ToolResult == nil {
				continue
			}
			key := "output"
			if block.ToolResult.IsError {
				key = "error"
			}
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       block.ToolResult.CallID,
					Name:     block.ToolResult.Name,
					Response: map[string]any{key: block.ToolResult.Content},
				},
			})
		}
	}

	if len(parts) == 0 {
		return nil
	}
	return &genai.Content{Role: role, Parts: parts}
}

// toGeminiConfig converts internal GenerateConfig to Gemini config.
func toGeminiConfig(config *models.GenerateConfig, defaultMaxTokens int) *genai.GenerateContentConfig {
	geminiConfig := &genai.GenerateContentConfig{
		SafetySettings: defaultSafetySettings(),
	}
	if defaultMaxTokens > 0 {
		geminiConfig.MaxOutputTokens = int32(defaultMaxTokens)
	}

	if config == nil {
		return geminiConfig
	}

	if config.MaxOutputTokens > 0 {
		geminiConfig.MaxOutputTokens = int32(config.MaxOutputTokens)
	}
	if config.Temperature != nil {
		geminiConfig.Temperature = config.Temperature
	}
	if config.TopP != nil {
		geminiConfig.TopP = config.TopP
	}

	return geminiConfig
}

// defaultSafetySettings turns off blocking for every category. Dark Sun lore is violent.
func defaultSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHateSpeech,
		genai.HarmCategoryDangerousContent,
		genai.HarmCategoryHarassment,
		genai.HarmCategorySexuallyExplicit,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockThresholdOff})
	}
	return settings
}

// toGeminiTools converts the tool catalog into a single Gemini tool. Nil when empty.
func toGeminiTools(decls []tool.Declaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}

	functionDeclarations := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		fd := &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
		}
		if d.Parameters != nil {
			fd.Parameters = toGeminiSchema(d.Parameters)
		}
		functionDeclarations = append(functionDeclarations, fd)
	}

	return []*genai.Tool{{FunctionDeclarations: functionDeclarations}}
}

// toGeminiSchema converts a tool schema recursively.
func toGeminiSchema(s *tool.Schema) *genai.Schema {
	if s == nil {
		return nil
	}

	out := &genai.Schema{
		Type:        toGeminiType(s.Type),
		Description: s.Description,
		Format:      s.Format,
	}
	if s.Nullable {
		nullable := true
		out.Nullable = &nullable
	}
	if len(s.Enum) > 0 {
		out.Enum = s.Enum
	}
	if len(s.Required) > 0 {
		out.Required = s.Required
	}
	if s.Items != nil {
		out.Items = toGeminiSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGeminiSchema(prop)
		}
	}
	return out
}

func toGeminiType(t tool.Type) genai.Type {
	switch t {
	case tool.TypeString:
		return genai.TypeString
	case tool.TypeNumber:
		return genai.TypeNumber
	case tool.TypeInteger:
		return genai.TypeInteger
	case tool.TypeBoolean:
		return genai.TypeBoolean
	case tool.TypeArray:
		return genai.TypeArray
	case tool.TypeObject:
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// fromGeminiResponse converts the first candidate into an assistant message whose blocks
// follow the order of the candidate's parts.
func fromGeminiResponse(resp *genai.GenerateContentResponse, modelUsed string) (*models.GenerateResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, &models.ProviderError{
			Code:    models.ErrorCodeEmptyResponse,
			Message: "no candidates in response",
		}
	}

	candidate := resp.Candidates[0]

	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, &models.ProviderError{
			Code:    models.ErrorCodeContentBlocked,
			Message: "content blocked by safety filters",
		}
	}

	msg := models.Message{Role: models.RoleAssistant}
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			if part.FunctionCall != nil {
				id := part.FunctionCall.ID
				if id == "" {
					id = "call_" + uuid.NewString()
				}
				msg.Blocks = append(msg.Blocks, models.ToolUseBlock(models.ToolCall{
					ID:   id,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				}))
				continue
			}
			if part.Text != "" {
				msg.Blocks = append(msg.Blocks, models.TextBlock(part.Text))
			}
		}
	}

	return &models.GenerateResponse{
		Message:  msg,
		Metadata: buildMetadata(resp.UsageMetadata, modelUsed, string(candidate.FinishReason)),
	}, nil
}

// buildMetadata builds response metadata from usage data.
func buildMetadata(usage *genai.GenerateContentResponseUsageMetadata, modelUsed, finishReason string) models.ResponseMetadata {
	metadata := models.ResponseMetadata{
		ModelUsed:    modelUsed,
		FinishReason: finishReason,
	}
	if usage != nil {
		metadata.PromptTokens = int(usage.PromptTokenCount)
		metadata.CompletionTokens = int(usage.CandidatesTokenCount)
		metadata.TotalTokens = int(usage.TotalTokenCount)
	}
	return metadata
}

// mapGeminiError maps Gemini API errors to provider errors.
func mapGeminiError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &models.ProviderError{
			Code:       models.ErrorCodeTimeout,
			Message:    "request timed out",
			Underlying: err,
			Retryable:  true,
		}
	}

	var apiErr *genai.APIError
	if !errors.As(err, &apiErr) {
		return &models.ProviderError{
			Code:       models.ErrorCodeNetwork,
			Message:    "network error",
			Underlying: err,
			Retryable:  true,
		}
	}

	switch apiErr.Code {
	case 401:
		return &models.ProviderError{Code: models.ErrorCodeAuth, Message: "authentication failed", Underlying: err}
	case 403:
		return &models.ProviderError{Code: models.ErrorCodePermission, Message: "permission denied", Underlying: err}
	case 404:
		return &models.ProviderError{Code: models.ErrorCodeInvalidModel, Message: apiErr.Message, Underlying: err}
	case 429:
		return &models.ProviderError{Code: models.ErrorCodeRateLimit, Message: "rate limit exceeded", Underlying: err, Retryable: true}
	case 400:
		return &models.ProviderError{
			Code:       models.ErrorCodeInvalidRequest,
			Message:    fmt.Sprintf("invalid request: %s", apiErr.Message),
			Underlying: err,
		}
	case 500, 502, 503, 504:
		return &models.ProviderError{Code: models.ErrorCodeUnavailable, Message: "service unavailable", Underlying: err, Retryable: true}
	default:
		return &models.ProviderError{
			Code:       models.ErrorCodeNetwork,
			Message:    fmt.Sprintf("API error: %s", apiErr.Message),
			Underlying: err,
			Retryable:  true,
		}
	}
}
