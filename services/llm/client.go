package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/faultlineio/faultline/services/config"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, system, prompt string, params GenerationParams) (string, error)
}

// Embedder computes vector embeddings for text. Backends that cannot embed
// return ErrEmbeddingUnsupported.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewFromConfig builds the configured LLM backend.
func NewFromConfig(cfg config.LLMConfig) (LLMClient, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "openai":
		return NewOpenAIClient(cfg)
	case "ollama":
		return NewOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("unknown LLM backend %q (want openai or ollama)", cfg.Backend)
	}
}
