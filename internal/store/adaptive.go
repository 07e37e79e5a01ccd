package store

import (
	"context"
	"fmt"
	"time"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/embedding"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
)

// =============================================================================
// ADAPTIVE PRIORITY
// =============================================================================

// TouchMemories records that the given memories were injected into a
// response: usage_frequency increments, relevance_score nudges toward 1.0,
// last_accessed updates. Callers invoke this best-effort after retrieval;
// a failure here never fails the retrieval.
func (s *MemoryStore) TouchMemories(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, id := range ids {
		_, err := s.db.ExecContext(ctx,
			`UPDATE memories
			 SET usage_frequency = usage_frequency + 1,
			     relevance_score = MIN(1.0, relevance_score + 0.05),
			     last_accessed = ?
			 WHERE id = ?`, now, id)
		if err != nil {
			return fmt.Errorf("failed to touch memory %d: %w", id, err)
		}
	}
	logging.StoreDebug("Touched %d memories (adaptive priority update)", len(ids))
	return nil
}

// UserCentroid returns the user's engagement centroid, or nil when the user
// has no recorded engagement yet.
func (s *MemoryStore) UserCentroid(ctx context.Context, userID string) ([]float32, int, error) {
	var encoded string
	var samples int
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding, sample_count FROM user_centroids WHERE user_id = ?`,
		userID).Scan(&encoded, &samples)
	if err != nil {
		return nil, 0, nil // no centroid yet
	}
	vec, err := decodeVector(encoded)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode centroid: %w", err)
	}
	return vec, samples, nil
}

// UpdateUserCentroid folds the embeddings of newly-engaged memories into the
// user's centroid as a running mean.
func (s *MemoryStore) UpdateUserCentroid(ctx context.Context, userID string, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	current, samples, err := s.UserCentroid(ctx, userID)
	if err != nil {
		return err
	}

	batch := embedding.MeanVector(vectors)
	if batch == nil {
		return nil
	}

	var next []float32
	var nextSamples int
	if current == nil || len(current) != len(batch) {
		next = batch
		nextSamples = len(vectors)
	} else {
		// Weighted running mean over all samples seen so far.
		total := float64(samples + len(vectors))
		next = make([]float32, len(current))
		for i := range current {
			next[i] = float32((float64(current[i])*float64(samples) +
				float64(batch[i])*float64(len(vectors))) / total)
		}
		nextSamples = samples + len(vectors)
	}

	encoded, err := encodeVector(next)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_centroids (user_id, embedding, sample_count, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			embedding = excluded.embedding,
			sample_count = excluded.sample_count,
			updated_at = excluded.updated_at`,
		userID, encoded, nextSamples, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert centroid: %w", err)
	}

	logging.StoreDebug("Updated centroid for user %s (samples=%d)", userID, nextSamples)
	return nil
}
