package ai

import (
	"context"
	"fmt"
)

const (
	ProviderCompatible = "compatible"
	ProviderOpenAI     = "openai"
)

// Provider embeds text and generates completions.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Generate(ctx context.Context, prompt string) (string, error)
}

// NewProvider returns the client named by provider.
func NewProvider(provider string, cfg Config) (Provider, error) {
	switch provider {
	case "", ProviderCompatible:
		if cfg.BaseURL == "" || cfg.Model == "" || cfg.EmbeddingModel == "" {
			return nil, fmt.Errorf("llm config is invalid: base_url, model and embedding_model are required")
		}
		return NewOpenAICompatibleClient(cfg), nil
	case ProviderOpenAI:
		return NewSDKClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
