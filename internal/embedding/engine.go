// Package embedding provides vector embedding generation for semantic memory.
// Supports OpenAI-compatible HTTP endpoints, Ollama (local), and Google GenAI.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/config"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text. The context deadline
	// bounds the call; a deadline hit surfaces as types.ErrEmbeddingTimeout
	// through ClassifyError.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name (provider:model)
	Name() string
}

// HealthChecker is an optional interface for embedding engines that support
// health checks.
type HealthChecker interface {
	// HealthCheck verifies the embedding service is reachable.
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Embedding("Creating embedding engine with provider=%s", cfg.Provider)
	logging.EmbeddingDebug("Engine config: provider=%s, model=%s, dimensions=%d, max_content_chars=%d",
		cfg.Provider, cfg.Model, cfg.Dimensions, cfg.MaxContentChars)

	var engine Engine
	var err error

	switch cfg.Provider {
	case "openai", "":
		engine, err = NewOpenAIEngine(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimensions, cfg.MaxContentChars)
	case "ollama":
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.Model, cfg.Dimensions, cfg.MaxContentChars)
	case "genai":
		engine, err = NewGenAIEngine(cfg.APIKey, cfg.Model, cfg.Dimensions, cfg.MaxContentChars)
	default:
		err = fmt.Errorf("unsupported embedding provider: %s (use 'openai', 'ollama' or 'genai')", cfg.Provider)
		logging.Get(logging.CategoryEmbedding).Error("Unsupported embedding provider: %s", cfg.Provider)
		return nil, err
	}

	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embedding("Embedding engine created: name=%s, dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// ClassifyError maps a raw engine error onto the engine taxonomy: deadline
// hits become ErrEmbeddingTimeout (retryable via backfill), everything else
// becomes ErrEmbeddingFailure. Nil passes through.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", types.ErrEmbeddingTimeout, err)
	}
	if errors.Is(err, types.ErrEmbeddingTimeout) || errors.Is(err, types.ErrEmbeddingFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrEmbeddingFailure, err)
}

// =============================================================================
// TEXT TRUNCATION
// =============================================================================

// Truncate clips text to maxChars before transport. A non-positive maxChars
// disables truncation.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	clipped := text[:maxChars]
	// Avoid splitting a multi-byte rune at the boundary.
	for len(clipped) > 0 && !utf8.ValidString(clipped) {
		clipped = clipped[:len(clipped)-1]
	}
	return clipped
}

// =============================================================================
// COSINE SIMILARITY UTILITY
// =============================================================================

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i] * b[i])
		aMagnitude += float64(a[i] * a[i])
		bMagnitude += float64(b[i] * b[i])
	}

	if aMagnitude == 0 || bMagnitude == 0 {
		logging.Get(logging.CategoryEmbedding).Warn("CosineSimilarity: zero magnitude vector detected")
		return 0, nil
	}

	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude)), nil
}

// MeanVector computes the element-wise mean of a set of equal-length vectors.
// Used for the adaptive priority centroid.
func MeanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	count := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i := range v {
			sum[i] += float64(v[i])
		}
		count++
	}
	if count == 0 {
		return nil
	}
	mean := make([]float32, dim)
	for i := range sum {
		mean[i] = float32(sum[i] / float64(count))
	}
	return mean
}
