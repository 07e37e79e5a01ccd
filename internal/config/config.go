// Package config holds configuration for the memory engine. Defaults are
// defined per concern (embedding, retrieval, supersession, backfill) in
// their own files; this file owns loading, env overrides, and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all memory engine configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// SQLite database path
	DatabasePath string `yaml:"database_path"`

	// Data directory (logs, local config)
	DataDir string `yaml:"data_dir"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval pipeline configuration
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Supersession transaction configuration
	Supersession SupersessionConfig `yaml:"supersession"`

	// Backfill worker configuration
	Backfill BackfillConfig `yaml:"backfill"`

	// Feature flags
	Features FeatureFlags `yaml:"features"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// FeatureFlags gates optional behavior.
type FeatureFlags struct {
	// AllowCrossModeTransfer permits non-vault retrievals to also read
	// truth-general rows when the request opts in.
	AllowCrossModeTransfer bool `yaml:"allow_cross_mode_transfer"`

	// ClassifierFallback enables the bounded model fallback when the
	// deterministic fingerprint pass produces nothing.
	ClassifierFallback bool `yaml:"classifier_fallback"`

	// AdaptiveCentroid enables the per-user priority centroid boost.
	AdaptiveCentroid bool `yaml:"adaptive_centroid"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Debug  bool   `yaml:"debug"`  // enable file logging
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "sitemonkeys-memory",
		Version: "1.0.0",

		DatabasePath: "data/memory.db",
		DataDir:      "data",

		Embedding:    DefaultEmbeddingConfig(),
		Retrieval:    DefaultRetrievalConfig(),
		Supersession: DefaultSupersessionConfig(),
		Backfill:     DefaultBackfillConfig(),

		Features: FeatureFlags{
			AllowCrossModeTransfer: false,
			ClassifierFallback:     false,
			AdaptiveCentroid:       false,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Debug:  false,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Embedding API credentials (check in priority order)
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Embedding.APIKey = key
		if c.Embedding.Provider == "" {
			c.Embedding.Provider = "openai"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = key
		c.Embedding.Provider = "genai"
	}

	if url := os.Getenv("EMBEDDING_BASE_URL"); url != "" {
		c.Embedding.BaseURL = url
	}

	// Database path from environment
	if path := os.Getenv("MEMORY_DB"); path != "" {
		c.DatabasePath = path
	}

	// Feature flags
	if v := os.Getenv("MEMORY_CROSS_MODE"); v == "true" || v == "1" {
		c.Features.AllowCrossModeTransfer = true
	}
	if v := os.Getenv("MEMORY_CLASSIFIER_FALLBACK"); v == "true" || v == "1" {
		c.Features.ClassifierFallback = true
	}
	if v := os.Getenv("MEMORY_ADAPTIVE_CENTROID"); v == "true" || v == "1" {
		c.Features.AdaptiveCentroid = true
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path not configured")
	}
	if err := c.Embedding.Validate(); err != nil {
		return err
	}
	if c.Retrieval.MaxCandidates <= 0 {
		return fmt.Errorf("retrieval max_candidates must be positive")
	}
	if c.Retrieval.DefaultTokenBudget <= 0 {
		return fmt.Errorf("retrieval default_token_budget must be positive")
	}
	if c.Supersession.MinConfidence <= 0 || c.Supersession.MinConfidence > 1 {
		return fmt.Errorf("supersession min_confidence must be in (0,1]")
	}
	return nil
}
