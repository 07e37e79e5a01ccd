// Package memory is the service facade over the store, fingerprint,
// embedding, retrieval, and backfill subsystems. Callers (the CLI, an
// embedding host process) talk to Service; the subsystems never talk to
// each other directly.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/backfill"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/config"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/embedding"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/fingerprint"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/retrieval"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/store"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/telemetry"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

// Service wires the memory engine together.
type Service struct {
	cfg        *config.Config
	store      *store.MemoryStore
	embedder   embedding.Engine
	classifier *fingerprint.Classifier
	engine     *retrieval.Engine
	worker     *backfill.Worker
	sink       telemetry.Sink
}

// ServiceOption customizes construction, mainly for tests.
type ServiceOption func(*Service)

// WithEmbedder overrides the embedding engine (tests inject mocks here).
func WithEmbedder(e embedding.Engine) ServiceOption {
	return func(s *Service) { s.embedder = e }
}

// WithSink overrides the telemetry sink.
func WithSink(sink telemetry.Sink) ServiceOption {
	return func(s *Service) { s.sink = sink }
}

// WithModelClassifier sets the fingerprint model fallback.
func WithModelClassifier(mc fingerprint.ModelClassifier) ServiceOption {
	return func(s *Service) {
		if s.cfg.Features.ClassifierFallback {
			s.classifier = fingerprint.NewClassifier(mc)
		}
	}
}

// NewService builds a Service from configuration.
func NewService(cfg *config.Config, opts ...ServiceOption) (*Service, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "NewService")
	defer timer.Stop()

	st, err := store.NewMemoryStore(cfg.DatabasePath,
		store.WithDimensions(cfg.Embedding.Dimensions),
		store.WithSupersessionConfig(cfg.Supersession))
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:        cfg,
		store:      st,
		classifier: fingerprint.NewClassifier(nil),
		sink:       telemetry.NewLogSink(),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.embedder == nil {
		engine, err := embedding.NewEngine(cfg.Embedding)
		if err != nil {
			// The engine is degraded without embeddings but still
			// functional: stores go pending, retrieval uses text fallback.
			logging.Get(logging.CategoryBoot).Warn("Embedding engine unavailable, running degraded: %v", err)
		} else {
			svc.embedder = engine
		}
	}

	svc.engine = retrieval.NewEngine(st, svc.embedder, cfg.Retrieval, cfg.Features, svc.sink)
	svc.worker = backfill.NewWorker(st, svc.embedder, cfg.Backfill, cfg.Embedding)

	logging.Boot("Memory service ready (db=%s, embedder=%v)", cfg.DatabasePath, svc.embedder != nil)
	return svc, nil
}

// =============================================================================
// STORE
// =============================================================================

// StoreInput is the external store surface.
type StoreInput struct {
	UserID   string
	Mode     string
	Category string
	Content  string
	Metadata map[string]interface{}
}

// StoreOutput reports what happened, including the embedding path taken.
type StoreOutput struct {
	Memory        *types.Memory
	SupersededIDs []int64
	Fingerprint   fingerprint.Result
}

// Store classifies, persists, and embeds one memory. The inline embed is
// bounded; on timeout the memory is already durable and the backfill worker
// picks it up.
func (s *Service) Store(ctx context.Context, in StoreInput) (*StoreOutput, error) {
	start := time.Now()
	corrID := telemetry.NewCorrelationID()

	fp := s.classifier.Classify(ctx, in.Content)

	res, err := s.store.Store(ctx, store.StoreRequest{
		UserID:      in.UserID,
		Mode:        in.Mode,
		Category:    in.Category,
		Content:     in.Content,
		Metadata:    in.Metadata,
		Fingerprint: fp,
	})
	if err != nil {
		return nil, err
	}

	rec := telemetry.StoreRecord{
		CorrelationID:       corrID,
		UserID:              in.UserID,
		Mode:                res.Memory.Mode,
		MemoryID:            res.Memory.ID,
		Fingerprint:         res.Memory.FactFingerprint,
		FingerprintMethod:   string(fp.Method),
		Confidence:          fp.Confidence,
		SupersessionApplied: res.SupersessionApplied,
		SupersededIDs:       res.SupersededIDs,
		GateReason:          res.GateReason,
	}

	// Inline embed: bounded, best-effort. The row is durable either way.
	embedStart := time.Now()
	s.embedInline(ctx, res.Memory)
	rec.InlineEmbedMs = time.Since(embedStart).Milliseconds()
	rec.EmbeddingStatus = string(res.Memory.EmbeddingStatus)
	rec.TotalMs = time.Since(start).Milliseconds()
	s.sink.RecordStore(rec)

	return &StoreOutput{
		Memory:        res.Memory,
		SupersededIDs: res.SupersededIDs,
		Fingerprint:   fp,
	}, nil
}

// embedInline attempts the store-time embed within the inline deadline and
// updates the row's status in place.
func (s *Service) embedInline(ctx context.Context, mem *types.Memory) {
	if s.embedder == nil {
		return // stays pending for backfill
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.cfg.Embedding.InlineTimeout())
	defer cancel()

	text := embedding.Truncate(mem.Content, s.cfg.Embedding.MaxContentChars)
	vec, err := s.embedder.Embed(embedCtx, text)
	if err != nil {
		classified := embedding.ClassifyError(err)
		if errors.Is(classified, types.ErrEmbeddingTimeout) {
			logging.Embedding("Inline embed timed out for memory %d, deferring to backfill", mem.ID)
			// Already pending; nothing to update.
			return
		}
		if merr := s.store.MarkEmbeddingFailed(ctx, mem.ID, classified); merr != nil {
			logging.Get(logging.CategoryEmbedding).Error("Failed to record embed failure for %d: %v", mem.ID, merr)
		}
		mem.EmbeddingStatus = types.EmbeddingFailed
		return
	}

	if err := s.store.MarkEmbeddingReady(ctx, mem.ID, vec, s.embedder.Name()); err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to store embedding for %d: %v", mem.ID, err)
		if merr := s.store.MarkEmbeddingFailed(ctx, mem.ID, err); merr != nil {
			logging.Get(logging.CategoryEmbedding).Error("Failed to record embed failure for %d: %v", mem.ID, merr)
		}
		mem.EmbeddingStatus = types.EmbeddingFailed
		return
	}
	mem.Embedding = vec
	mem.EmbeddingStatus = types.EmbeddingReady
	mem.EmbeddingModel = s.embedder.Name()
}

// =============================================================================
// RETRIEVE
// =============================================================================

// Retrieve runs the retrieval pipeline.
func (s *Service) Retrieve(ctx context.Context, opts retrieval.Options) (*retrieval.Result, error) {
	return s.engine.Retrieve(ctx, opts)
}

// =============================================================================
// BACKFILL / MAINTENANCE
// =============================================================================

// Backfill drains unembedded rows within the given budgets. The status
// filter defaults to pending.
func (s *Service) Backfill(ctx context.Context, limit, maxSeconds int, statusFilter ...types.EmbeddingStatus) (*backfill.Result, error) {
	if s.embedder == nil {
		return nil, types.ErrEmbeddingFailure
	}
	return s.worker.Run(ctx, limit, maxSeconds, statusFilter...)
}

// Maintain repairs invariant violations left by older versions: duplicate
// current facts and stuck processing rows.
func (s *Service) Maintain(ctx context.Context) (duplicates, stuck int, err error) {
	duplicates, err = s.store.CleanupDuplicateCurrentFacts(ctx)
	if err != nil {
		return 0, 0, err
	}
	stuck, err = s.store.SweepStuckProcessing(ctx, s.cfg.Backfill.StuckProcessingAge())
	return duplicates, stuck, err
}

// Flush clears per-session caches for a user. Stored memories are untouched.
func (s *Service) Flush(userID string) int {
	n := s.engine.FlushUser(userID)
	logging.Session("Flushed session state for user %s (%d cache entries)", userID, n)
	return n
}

// Stats reports store-wide counters.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.store.GetStats(ctx)
}

// StoreHandle returns the underlying store for maintenance surfaces.
func (s *Service) StoreHandle() *store.MemoryStore {
	return s.store
}

// Close drains background work and releases the database.
func (s *Service) Close() error {
	s.engine.Close()
	return s.store.Close()
}
