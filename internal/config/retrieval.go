package config

import "time"

// RetrievalConfig configures the retrieval pipeline. The thresholds are
// tiered: recall queries get the loosest gate, personal-fact queries a
// middle one, everything else the strict default.
type RetrievalConfig struct {
	// MaxCandidates caps the SQL prefilter result set.
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates"`

	// DefaultTopK is the result count when the request does not specify one.
	DefaultTopK int `yaml:"default_top_k" json:"default_top_k"`

	// MinSimilarity is the default similarity floor.
	MinSimilarity float64 `yaml:"min_similarity" json:"min_similarity"`

	// MinSimilarityPersonal applies to first-person personal-fact queries.
	MinSimilarityPersonal float64 `yaml:"min_similarity_personal" json:"min_similarity_personal"`

	// MinSimilarityRecall applies to explicit memory-recall queries.
	MinSimilarityRecall float64 `yaml:"min_similarity_recall" json:"min_similarity_recall"`

	// RecencyBoostDays is the smooth-decay window for the recency component.
	RecencyBoostDays int `yaml:"recency_boost_days" json:"recency_boost_days"`

	// RecencyBoostWeight scales the recency component.
	RecencyBoostWeight float64 `yaml:"recency_boost_weight" json:"recency_boost_weight"`

	// ConfidenceWeight scales the fingerprint-confidence component.
	ConfidenceWeight float64 `yaml:"confidence_weight" json:"confidence_weight"`

	// QueryEmbeddingTimeoutMs bounds the Stage 1 query embed.
	QueryEmbeddingTimeoutMs int `yaml:"query_embedding_timeout_ms" json:"query_embedding_timeout_ms"`

	// DefaultTokenBudget is the per-request injection budget.
	DefaultTokenBudget int `yaml:"default_token_budget" json:"default_token_budget"`

	// CentroidBoostWeight scales the adaptive priority centroid boost.
	CentroidBoostWeight float64 `yaml:"centroid_boost_weight" json:"centroid_boost_weight"`

	// QueryCacheSize bounds the per-process query-embedding LRU cache.
	QueryCacheSize int `yaml:"query_cache_size" json:"query_cache_size"`
}

// DefaultRetrievalConfig returns sensible defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		MaxCandidates:           500,
		DefaultTopK:             10,
		MinSimilarity:           0.25,
		MinSimilarityPersonal:   0.18,
		MinSimilarityRecall:     0.10,
		RecencyBoostDays:        7,
		RecencyBoostWeight:      0.10,
		ConfidenceWeight:        0.05,
		QueryEmbeddingTimeoutMs: 5000,
		DefaultTokenBudget:      2000,
		CentroidBoostWeight:     0.15,
		QueryCacheSize:          256,
	}
}

// QueryEmbeddingTimeout returns the Stage 1 query embed deadline.
func (c RetrievalConfig) QueryEmbeddingTimeout() time.Duration {
	if c.QueryEmbeddingTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.QueryEmbeddingTimeoutMs) * time.Millisecond
}
