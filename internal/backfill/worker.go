// Package backfill embeds memories whose inline embed timed out or was
// deferred. The worker is deliberately sequential: one row at a time, a
// delay between rows, bounded by both a row count and a wall clock, so a
// deep queue never monopolizes the embedding provider.
package backfill

import (
	"context"
	"errors"
	"time"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/config"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/embedding"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/store"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

// Worker drains the pending-embedding queue.
type Worker struct {
	store    *store.MemoryStore
	embedder embedding.Engine
	cfg      config.BackfillConfig

	// perRowTimeout bounds each individual embed call.
	perRowTimeout time.Duration

	maxChars int
}

// NewWorker creates a backfill worker.
func NewWorker(st *store.MemoryStore, embedder embedding.Engine, cfg config.BackfillConfig, embedCfg config.EmbeddingConfig) *Worker {
	return &Worker{
		store:         st,
		embedder:      embedder,
		cfg:           cfg,
		perRowTimeout: embedCfg.BackfillTimeout(),
		maxChars:      embedCfg.MaxContentChars,
	}
}

// Result summarizes one backfill run.
type Result struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// Remaining counts rows still pending after the run.
	Remaining int `json:"remaining"`

	SecondsElapsed float64 `json:"seconds_elapsed"`
}

// Run processes up to limit unembedded rows, newest first, stopping early
// when the wall-clock budget or the context expires. Zero arguments use the
// configured defaults. The status filter defaults to pending; passing failed
// as well re-drives rows retired by a transient provider outage.
func (w *Worker) Run(ctx context.Context, limit, maxSeconds int, statusFilter ...types.EmbeddingStatus) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryBackfill, "Run")
	defer timer.Stop()

	if limit <= 0 {
		limit = w.cfg.DefaultLimit
	}
	if maxSeconds <= 0 {
		maxSeconds = w.cfg.DefaultMaxSeconds
	}
	deadline := time.Now().Add(time.Duration(maxSeconds) * time.Second)
	start := time.Now()

	// Reclaim rows orphaned by a dead worker before selecting.
	if n, err := w.store.SweepStuckProcessing(ctx, w.cfg.StuckProcessingAge()); err != nil {
		logging.Get(logging.CategoryBackfill).Warn("Stuck-processing sweep failed: %v", err)
	} else if n > 0 {
		logging.Backfill("Reclaimed %d stuck processing rows", n)
	}

	pending, err := w.store.PendingBackfill(ctx, limit, statusFilter...)
	if err != nil {
		return nil, err
	}
	logging.Backfill("Backfill run starting: %d pending rows (limit=%d, budget=%ds)",
		len(pending), limit, maxSeconds)

	result := &Result{}
	for i, mem := range pending {
		if time.Now().After(deadline) {
			logging.Backfill("Wall-clock budget exhausted after %d rows", result.Processed)
			break
		}
		if ctx.Err() != nil {
			break
		}

		// Rate hygiene between rows, not before the first.
		if i > 0 {
			select {
			case <-ctx.Done():
				return w.finish(ctx, result, start), nil
			case <-time.After(w.cfg.InterRowDelay()):
			}
		}

		w.processRow(ctx, mem, result)
	}

	return w.finish(ctx, result, start), nil
}

func (w *Worker) finish(ctx context.Context, result *Result, start time.Time) *Result {
	result.SecondsElapsed = time.Since(start).Seconds()
	if remaining, err := w.store.CountPending(ctx); err == nil {
		result.Remaining = remaining
	}
	logging.Backfill("Backfill run complete: processed=%d succeeded=%d failed=%d remaining=%d elapsed=%.1fs",
		result.Processed, result.Succeeded, result.Failed, result.Remaining, result.SecondsElapsed)
	return result
}

// processRow claims, embeds, and finalizes a single row. Timeouts put the
// row back in the queue; hard failures retire it with the error recorded.
func (w *Worker) processRow(ctx context.Context, mem *types.Memory, result *Result) {
	claimed, err := w.store.ClaimForBackfill(ctx, mem.ID, mem.EmbeddingStatus)
	if err != nil {
		logging.Get(logging.CategoryBackfill).Warn("Failed to claim memory %d: %v", mem.ID, err)
		return
	}
	if !claimed {
		logging.BackfillDebug("Memory %d already claimed, skipping", mem.ID)
		return
	}
	result.Processed++

	embedCtx, cancel := context.WithTimeout(ctx, w.perRowTimeout)
	vec, err := w.embedder.Embed(embedCtx, embedding.Truncate(mem.Content, w.maxChars))
	cancel()

	if err != nil {
		classified := embedding.ClassifyError(err)
		if errors.Is(classified, types.ErrEmbeddingTimeout) {
			// Timeout is retryable: back to pending for the next run.
			if rerr := w.store.MarkEmbeddingPending(ctx, mem.ID); rerr != nil {
				logging.Get(logging.CategoryBackfill).Error("Failed to requeue memory %d: %v", mem.ID, rerr)
			}
			logging.BackfillDebug("Memory %d embed timed out, requeued", mem.ID)
		} else {
			if rerr := w.store.MarkEmbeddingFailed(ctx, mem.ID, classified); rerr != nil {
				logging.Get(logging.CategoryBackfill).Error("Failed to retire memory %d: %v", mem.ID, rerr)
			}
		}
		result.Failed++
		return
	}

	if err := w.store.MarkEmbeddingReady(ctx, mem.ID, vec, w.embedder.Name()); err != nil {
		// Dimension mismatch or a vanished row; record and move on.
		if rerr := w.store.MarkEmbeddingFailed(ctx, mem.ID, err); rerr != nil {
			logging.Get(logging.CategoryBackfill).Error("Failed to retire memory %d: %v", mem.ID, rerr)
		}
		result.Failed++
		return
	}
	result.Succeeded++
	logging.BackfillDebug("Memory %d embedded (%d dims)", mem.ID, len(vec))
}
