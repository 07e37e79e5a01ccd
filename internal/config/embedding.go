package config

import (
	"fmt"
	"time"
)

// EmbeddingConfig configures the vector embedding engine.
// Supports OpenAI-compatible HTTP endpoints, Ollama (local), and Google GenAI.
type EmbeddingConfig struct {
	// Provider: "openai", "ollama", or "genai"
	Provider string `yaml:"provider" json:"provider"`

	// APIKey is the bearer credential for cloud providers.
	APIKey string `yaml:"api_key" json:"api_key"`

	// BaseURL for OpenAI-compatible endpoints.
	// Default: "https://api.openai.com/v1"
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Model identifies the embedding model/version.
	// Defaults: openai "text-embedding-3-small", ollama "embeddinggemma",
	// genai "gemini-embedding-001".
	Model string `yaml:"model" json:"model"`

	// OllamaEndpoint for the local Ollama server.
	OllamaEndpoint string `yaml:"ollama_endpoint" json:"ollama_endpoint"`

	// Dimensions is the required vector dimensionality. Rows marked ready
	// must carry exactly this many floats.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// InlineTimeoutMs bounds the store-time embed attempt.
	InlineTimeoutMs int `yaml:"inline_timeout_ms" json:"inline_timeout_ms"`

	// BackfillTimeoutMs bounds per-row backfill embed attempts.
	BackfillTimeoutMs int `yaml:"backfill_timeout_ms" json:"backfill_timeout_ms"`

	// MaxContentChars truncates text before transport.
	MaxContentChars int `yaml:"max_content_chars" json:"max_content_chars"`
}

// DefaultEmbeddingConfig returns sensible defaults.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:          "openai",
		BaseURL:           "https://api.openai.com/v1",
		Model:             "text-embedding-3-small",
		OllamaEndpoint:    "http://localhost:11434",
		Dimensions:        1536,
		InlineTimeoutMs:   5000,
		BackfillTimeoutMs: 10000,
		MaxContentChars:   8000,
	}
}

// InlineTimeout returns the store-time embed deadline.
func (c EmbeddingConfig) InlineTimeout() time.Duration {
	if c.InlineTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.InlineTimeoutMs) * time.Millisecond
}

// BackfillTimeout returns the per-row backfill embed deadline.
func (c EmbeddingConfig) BackfillTimeout() time.Duration {
	if c.BackfillTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.BackfillTimeoutMs) * time.Millisecond
}

// Validate checks the embedding configuration.
func (c EmbeddingConfig) Validate() error {
	switch c.Provider {
	case "openai", "ollama", "genai", "":
	default:
		return fmt.Errorf("invalid embedding provider: %s (valid: openai, ollama, genai)", c.Provider)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}
	return nil
}
