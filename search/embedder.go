package search

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// EmbedderConfig selects and configures the embedding provider.
type EmbedderConfig struct {
	Provider string // "openai" (default) or "ollama"
	Model    string // Embedding model name
	APIURL   string // Base URL override; the Ollama server URL for ollama
	APIKey   string // API token, openai only
}

// NewEmbedder builds a langchaingo embedder for the configured provider.
func NewEmbedder(cfg EmbedderConfig) (embeddings.Embedder, error) {
	var client embeddings.EmbedderClient

	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		opts := []ollama.Option{}
		if cfg.APIURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.APIURL))
		}
		if cfg.Model != "" {
			opts = append(opts, ollama.WithModel(cfg.Model))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedding client: %w", err)
		}
		client = llm

	case "openai", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedding API key is required for the openai provider")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithEmbeddingModel(cfg.Model))
		}
		if cfg.APIURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.APIURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedding client: %w", err)
		}
		client = llm

	default:
		return nil, fmt.Errorf("embedding provider %q is not supported", cfg.Provider)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}
