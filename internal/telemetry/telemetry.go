// Package telemetry records structured observations of every store and
// retrieval operation. Emission is unconditional: an empty result set emits
// a record exactly like a full one, so silent degradation is impossible to
// miss in the logs.
package telemetry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
)

// =============================================================================
// RECORDS
// =============================================================================

// PhaseTimings breaks retrieval latency down by pipeline stage, in
// milliseconds.
type PhaseTimings struct {
	EmbedMs     int64 `json:"embed_ms"`
	PrefilterMs int64 `json:"prefilter_ms"`
	ScoreMs     int64 `json:"score_ms"`
	TotalMs     int64 `json:"total_ms"`
}

// RetrievalRecord captures one retrieval, successful or degraded.
type RetrievalRecord struct {
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
	UserID        string    `json:"user_id"`
	Mode          string    `json:"mode"`

	// Method is "semantic", "text_fallback", "mixed", or "aborted" when
	// the query embedding failed and the retrieval returned an error.
	Method string `json:"method"`

	QueryLength int      `json:"query_length"`
	Categories  []string `json:"categories,omitempty"`

	CandidateCount int `json:"candidate_count"`

	// WithEmbeddings counts prefiltered candidates carrying a vector;
	// VectorsCompared counts the cosine comparisons actually performed.
	WithEmbeddings  int `json:"with_embeddings"`
	VectorsCompared int `json:"vectors_compared"`

	// ScoredCount counts candidates that cleared the similarity floor.
	ScoredCount   int     `json:"scored_count"`
	InjectedCount int     `json:"injected_count"`
	InjectedIDs   []int64 `json:"injected_ids"`

	TopScores []float64 `json:"top_scores,omitempty"`

	TokenBudget int `json:"token_budget"`
	TokensUsed  int `json:"tokens_used"`

	FallbackUsed   bool   `json:"fallback_used"`
	FallbackReason string `json:"fallback_reason,omitempty"`

	SafetyDetected bool `json:"safety_detected"`
	SafetyBoosted  int  `json:"safety_boosted"`

	// WrongUserMemoriesFiltered counts rows rejected by the isolation
	// sentinel. Anything above zero is a bug upstream.
	WrongUserMemoriesFiltered int `json:"wrong_user_memories_filtered"`

	Timings PhaseTimings `json:"timings"`
}

// StoreRecord captures one store operation.
type StoreRecord struct {
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
	UserID        string    `json:"user_id"`
	Mode          string    `json:"mode"`

	MemoryID          int64   `json:"memory_id"`
	Fingerprint       string  `json:"fingerprint,omitempty"`
	FingerprintMethod string  `json:"fingerprint_method"`
	Confidence        float64 `json:"confidence"`

	SupersessionApplied bool    `json:"supersession_applied"`
	SupersededIDs       []int64 `json:"superseded_ids,omitempty"`
	GateReason          string  `json:"gate_reason,omitempty"`

	EmbeddingStatus string `json:"embedding_status"`
	InlineEmbedMs   int64  `json:"inline_embed_ms"`
	TotalMs         int64  `json:"total_ms"`
}

// =============================================================================
// SINK
// =============================================================================

// Sink receives telemetry records. The default sink writes them to the
// telemetry log category as single-line JSON.
type Sink interface {
	RecordRetrieval(rec RetrievalRecord)
	RecordStore(rec StoreRecord)
}

// NewCorrelationID returns a fresh id for tying a record to its log lines.
func NewCorrelationID() string {
	return uuid.NewString()
}

// LogSink emits records through the categorized logger.
type LogSink struct{}

// NewLogSink returns the default logging sink.
func NewLogSink() *LogSink { return &LogSink{} }

func (s *LogSink) RecordRetrieval(rec RetrievalRecord) {
	if rec.CorrelationID == "" {
		rec.CorrelationID = NewCorrelationID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		logging.Get(logging.CategoryTelemetry).Warn("Failed to serialize retrieval record: %v", err)
		return
	}
	logging.Telemetry("retrieval %s", string(data))
}

func (s *LogSink) RecordStore(rec StoreRecord) {
	if rec.CorrelationID == "" {
		rec.CorrelationID = NewCorrelationID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		logging.Get(logging.CategoryTelemetry).Warn("Failed to serialize store record: %v", err)
		return
	}
	logging.Telemetry("store %s", string(data))
}

// =============================================================================
// MEMORY SINK (tests, stats endpoint)
// =============================================================================

// MemorySink retains the most recent records in a ring. Useful in tests and
// for the stats surface.
type MemorySink struct {
	mu         sync.Mutex
	capacity   int
	retrievals []RetrievalRecord
	stores     []StoreRecord
}

// NewMemorySink creates a sink retaining up to capacity records per kind.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 128
	}
	return &MemorySink{capacity: capacity}
}

func (s *MemorySink) RecordRetrieval(rec RetrievalRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.retrievals = append(s.retrievals, rec)
	if len(s.retrievals) > s.capacity {
		s.retrievals = s.retrievals[len(s.retrievals)-s.capacity:]
	}
}

func (s *MemorySink) RecordStore(rec StoreRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.stores = append(s.stores, rec)
	if len(s.stores) > s.capacity {
		s.stores = s.stores[len(s.stores)-s.capacity:]
	}
}

// Retrievals returns a copy of the retained retrieval records.
func (s *MemorySink) Retrievals() []RetrievalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RetrievalRecord, len(s.retrievals))
	copy(out, s.retrievals)
	return out
}

// Stores returns a copy of the retained store records.
func (s *MemorySink) Stores() []StoreRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoreRecord, len(s.stores))
	copy(out, s.stores)
	return out
}

// MultiSink fans records out to several sinks.
type MultiSink []Sink

func (m MultiSink) RecordRetrieval(rec RetrievalRecord) {
	for _, s := range m {
		s.RecordRetrieval(rec)
	}
}

func (m MultiSink) RecordStore(rec StoreRecord) {
	for _, s := range m {
		s.RecordStore(rec)
	}
}
