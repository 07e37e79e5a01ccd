package store

import (
	"context"
	"fmt"
	"time"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

// =============================================================================
// EMBEDDING LIFECYCLE
// =============================================================================

// MarkEmbeddingReady stores the vector and flips the row to ready. The
// vector must match the configured dimensionality; a mismatched vector is a
// constraint violation, never silently stored.
func (s *MemoryStore) MarkEmbeddingReady(ctx context.Context, id int64, vec []float32, model string) error {
	if len(vec) != s.dims {
		return fmt.Errorf("%w: embedding has %d dimensions, want %d",
			types.ErrConstraintViolation, len(vec), s.dims)
	}

	encoded, err := encodeVector(vec)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInternal, err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories
		 SET embedding = ?, embedding_status = ?, embedding_model = ?, embedding_updated_at = ?
		 WHERE id = ?`,
		encoded, string(types.EmbeddingReady), model, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark embedding ready: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: memory %d not found", types.ErrInvalidInput, id)
	}

	logging.EmbeddingDebug("Memory %d embedding ready (model=%s, dims=%d)", id, model, len(vec))
	return nil
}

// MarkEmbeddingPending returns a row to the backfill queue. Used after an
// inline-embed timeout: the memory is stored, the vector comes later.
func (s *MemoryStore) MarkEmbeddingPending(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET embedding_status = ? WHERE id = ?`,
		string(types.EmbeddingPending), id)
	if err != nil {
		return fmt.Errorf("failed to mark embedding pending: %w", err)
	}
	return nil
}

// MarkEmbeddingFailed records a non-retryable embedding failure, preserving
// the error in metadata for diagnosis.
func (s *MemoryStore) MarkEmbeddingFailed(ctx context.Context, id int64, cause error) error {
	mem, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	meta := mem.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["embedding_error"] = cause.Error()
	meta["embedding_failed_at"] = time.Now().UTC().Format(time.RFC3339)
	metaJSON, err := encodeMetadata(meta)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInternal, err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE memories SET embedding_status = ?, metadata = ? WHERE id = ?`,
		string(types.EmbeddingFailed), metaJSON, id)
	if err != nil {
		return fmt.Errorf("failed to mark embedding failed: %w", err)
	}

	logging.Get(logging.CategoryEmbedding).Warn("Memory %d embedding failed permanently: %v", id, cause)
	return nil
}

// ClaimForBackfill atomically flips a row from its observed status to
// processing so only one worker embeds it. Returns false when another worker
// got there first. An empty from defaults to pending. The claim stamps
// embedding_updated_at; the stuck-row sweeper ages claims off that stamp,
// never off the row's creation time.
func (s *MemoryStore) ClaimForBackfill(ctx context.Context, id int64, from ...types.EmbeddingStatus) (bool, error) {
	source := types.EmbeddingPending
	if len(from) > 0 && from[0] != "" {
		source = from[0]
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET embedding_status = ?, embedding_updated_at = ?
		 WHERE id = ? AND embedding_status = ?`,
		string(types.EmbeddingProcessing), time.Now().UTC(), id, string(source))
	if err != nil {
		return false, fmt.Errorf("failed to claim memory for backfill: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetByID fetches a single memory.
func (s *MemoryStore) GetByID(ctx context.Context, id int64) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	mem, err := scanMemory(row)
	if err != nil {
		return nil, fmt.Errorf("%w: memory %d: %v", types.ErrInvalidInput, id, err)
	}
	return mem, nil
}
