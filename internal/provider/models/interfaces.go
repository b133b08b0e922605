package models

import "context"

// Provider defines the interface for LLM backends.
type Provider interface {
	// Generate sends a request to the model and returns the response.
	// A reply cut short by the output token limit is returned without error;
	// Metadata.FinishReason records the truncation.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

	// Model returns the active model name.
	Model() string

	// ListModels returns the model names available to the configured credentials.
	ListModels(ctx context.Context) ([]string, error)
}
