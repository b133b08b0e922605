package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/ctbritt/dark-sun-assistant/internal/provider/models"
	"github.com/ctbritt/dark-sun-assistant/internal/tool"
)

func TestGenerate_TextResponse(t *testing.T) {
	var gotModel string
	var gotConfig *genai.GenerateContentConfig
	var gotContents []*genai.Content
	mockClient := &MockGeminiClient{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gotModel, gotContents, gotConfig = model, contents, config
			return textResponse("The sun is dark."), nil
		},
	}

	p := New(mockClient, "gemini-mock", WithMaxOutputTokens(2048))
	resp, err := p.Generate(context.Background(), &models.GenerateRequest{
		SystemPrompt: "You are the Oracle.",
		Messages:     []models.Message{models.NewTextMessage(models.RoleUser, "Why is the sun dark?")},
	})

	require.NoError(t, err)
	assert.Equal(t, "The sun is dark.", resp.Message.Text())
	assert.Equal(t, models.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "gemini-mock", gotModel)
	require.Len(t, gotContents, 1)
	require.NotNil(t, gotConfig.SystemInstruction)
	assert.Equal(t, "You are the Oracle.", gotConfig.SystemInstruction.Parts[0].Text)
	assert.Equal(t, int32(2048), gotConfig.MaxOutputTokens)
	assert.Nil(t, gotConfig.Tools, "empty catalog sends no tools")
}

func TestGenerate_SendsToolCatalog(t *testing.T) {
	var gotConfig *genai.GenerateContentConfig
	mockClient := &MockGeminiClient{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gotConfig = config
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []*genai.Part{
						{FunctionCall: &genai.FunctionCall{ID: "c1", Name: "lore__search", Args: map[string]any{"q": "Kalak"}}},
					}},
					FinishReason: genai.FinishReasonStop,
				}},
			}, nil
		},
	}

	p := New(mockClient, "gemini-mock")
	resp, err := p.Generate(context.Background(), &models.GenerateRequest{
		Messages: []models.Message{models.NewTextMessage(models.RoleUser, "Who is Kalak?")},
		Tools:    []tool.Declaration{{Name: "lore__search", Description: "search"}},
	})

	require.NoError(t, err)
	require.Len(t, gotConfig.Tools, 1)
	assert.Equal(t, "lore__search", gotConfig.Tools[0].FunctionDeclarations[0].Name)
	calls := resp.Message.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].ID)
	assert.Equal(t, "Kalak", calls[0].Args["q"])
}

func TestGenerate_MapsClientError(t *testing.T) {
	mockClient := &MockGeminiClient{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, &genai.APIError{Code: 429, Message: "quota"}
		},
	}

	_, err := New(mockClient, "gemini-mock").Generate(context.Background(), &models.GenerateRequest{})

	assert.ErrorIs(t, err, models.ErrRateLimit)
	assert.True(t, models.IsRetryable(err))
}

func TestListModels(t *testing.T) {
	mockClient := &MockGeminiClient{
		ListModelsFunc: func(ctx context.Context) ([]string, error) {
			return []string{"gemini-2.5-flash", "gemini-2.5-pro"}, nil
		},
	}
	p := New(mockClient, "gemini-2.5-flash")

	names, err := p.ListModels(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.5-pro"}, names)
	assert.Equal(t, "gemini-2.5-flash", p.Model())

	mockClient.ListModelsFunc = func(ctx context.Context) ([]string, error) {
		return nil, errors.New("offline")
	}
	_, err = p.ListModels(context.Background())
	assert.ErrorIs(t, err, models.ErrNetwork)
}
