package store

import (
	"context"
	"fmt"
	"time"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

// =============================================================================
// MAINTENANCE
// =============================================================================

// CleanupDuplicateCurrentFacts repairs databases written before the partial
// unique index existed: for each (user_id, fact_fingerprint) with multiple
// current rows, every row except the newest is retired. Returns the number
// of rows retired.
func (s *MemoryStore) CleanupDuplicateCurrentFacts(ctx context.Context) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CleanupDuplicateCurrentFacts")
	defer timer.Stop()

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET is_current = 0, superseded_at = ?
		WHERE is_current = 1 AND fact_fingerprint IS NOT NULL
		  AND id NOT IN (
			SELECT MAX(id) FROM memories
			WHERE is_current = 1 AND fact_fingerprint IS NOT NULL
			GROUP BY user_id, fact_fingerprint
		  )`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean duplicate current facts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Store("Retired %d duplicate current fact rows", n)
	}
	return int(n), nil
}

// SweepStuckProcessing returns rows stuck in processing (a backfill worker
// died mid-claim) back to pending. A claim counts as stuck once its
// embedding_updated_at stamp is older than the threshold; rows claimed
// before the stamp existed fall back to creation time. Keying off the claim
// time, not row age, keeps a concurrent worker's fresh claim on an old row
// from being stolen mid-embed.
func (s *MemoryStore) SweepStuckProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET embedding_status = ?
		 WHERE embedding_status = ? AND COALESCE(embedding_updated_at, created_at) < ?`,
		string(types.EmbeddingPending), string(types.EmbeddingProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stuck processing rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Store("Returned %d stuck processing rows to pending", n)
	}
	return int(n), nil
}

// DeleteUserMemories removes every row belonging to a user, including their
// centroid. Returns the number of memories deleted.
func (s *MemoryStore) DeleteUserMemories(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user_id is required", types.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user memories: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_centroids WHERE user_id = ?`, userID); err != nil {
		return int(n), fmt.Errorf("failed to delete user centroid: %w", err)
	}
	logging.Store("Deleted %d memories for user %s", n, userID)
	return int(n), nil
}
