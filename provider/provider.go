package provider

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/taxpilot/config"
	openai_provider "github.com/mohammad-safakhou/taxpilot/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the interface the advice engine depends on. Both operations
// talk to an external service: embeddings must be deterministic for the same
// text, generation is opaque and may be slow or fail.
type Provider interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
	GenerateAdvice(ctx context.Context, prompt string) (string, error)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(client Client, cfg config.OpenAIConfig) (Provider, error) {
	switch client {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai api key not configured")
		}
		return openai_provider.NewOpenAIClient(
			cfg.APIKey,
			cfg.CompletionModel,
			cfg.EmbeddingModel,
			cfg.Temperature,
			cfg.MaxTokens,
			cfg.Timeout,
		), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
