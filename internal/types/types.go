// Package types provides shared type definitions used across the memory engine.
// This package exists to break import cycles between store, retrieval, and the
// service facade. Types in this package should be foundational data structures
// with no complex dependencies.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// MODES
// =============================================================================

// Mode partitions a user's memories. It affects retrieval visibility, not
// fact identity for supersession.
const (
	// ModeTruthGeneral is the default partition for general conversation.
	ModeTruthGeneral = "truth-general"

	// ModeBusinessValidation is the business-context partition.
	ModeBusinessValidation = "business-validation"

	// ModeSiteMonkeys is the vault mode: it may read across all of the
	// user's partitions.
	ModeSiteMonkeys = "site-monkeys"
)

// IsVaultMode reports whether the mode reads across all partitions.
func IsVaultMode(mode string) bool {
	return mode == ModeSiteMonkeys
}

// =============================================================================
// EMBEDDING STATUS
// =============================================================================

// EmbeddingStatus tracks the lifecycle of a memory's embedding.
type EmbeddingStatus string

const (
	EmbeddingPending    EmbeddingStatus = "pending"    // awaiting embed (inline timeout or not yet attempted)
	EmbeddingProcessing EmbeddingStatus = "processing" // claimed by a backfill worker
	EmbeddingReady      EmbeddingStatus = "ready"      // vector stored, retrievable semantically
	EmbeddingFailed     EmbeddingStatus = "failed"     // non-retryable failure, error in metadata
	EmbeddingSkipped    EmbeddingStatus = "skipped"    // deliberately not embedded
)

// =============================================================================
// MEMORY ENTITY
// =============================================================================

// Memory is the unit of storage. A zero SupersededBy means "not superseded";
// an empty FactFingerprint means "no fingerprint".
type Memory struct {
	ID                    int64
	UserID                string
	Mode                  string
	Category              string
	Content               string
	TokenCount            int
	Embedding             []float32 // nil when absent
	EmbeddingStatus       EmbeddingStatus
	EmbeddingModel        string
	EmbeddingUpdatedAt    time.Time
	FactFingerprint       string
	FingerprintConfidence float64
	IsCurrent             bool
	SupersededBy          int64
	SupersededAt          time.Time
	RelevanceScore        float64
	UsageFrequency        int
	LastAccessed          time.Time
	CreatedAt             time.Time
	Metadata              map[string]interface{}
}

// MetaBool reads a boolean metadata flag, tolerating absent metadata.
func (m *Memory) MetaBool(key string) bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// MetaString reads a string metadata value, tolerating absent metadata.
func (m *Memory) MetaString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	v, ok := m.Metadata[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// =============================================================================
// SCORED MEMORY
// =============================================================================

// ScoredMemory carries a memory through the retrieval pipeline with its
// evolving score components.
type ScoredMemory struct {
	Memory *Memory

	// Similarity is the raw cosine (or text-heuristic) score.
	Similarity float64

	// Boosted is similarity after safety/ordinal/recall boosts.
	Boosted float64

	// Hybrid is the final ranking score (boosted + recency + confidence).
	Hybrid float64

	// TextFallback marks rows scored without an embedding.
	TextFallback bool
}

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// EstimateTokens approximates the token count of free text. The classic
// chars/4 heuristic, floored at 1 for non-empty content.
func EstimateTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
