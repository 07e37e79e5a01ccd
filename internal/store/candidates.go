package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

// =============================================================================
// CANDIDATE PREFILTER
// =============================================================================

// Prefilter narrows the candidate set before any vector math. The user_id
// predicate is non-negotiable and always the first condition: cross-user
// isolation is enforced here, at the SQL layer, not downstream.
type Prefilter struct {
	UserID     string
	Mode       string
	Categories []string

	// CrossMode widens a non-vault mode to also see truth-general rows.
	CrossMode bool

	// AllModes drops the mode filter entirely, like vault mode.
	AllModes bool

	// IncludeUnembedded keeps rows whose embedding has not landed. Used for
	// history-style queries; the semantic path requires ready embeddings.
	IncludeUnembedded bool

	// Limit caps the candidate set; zero means the configured default.
	Limit int
}

// Candidates returns current, embedded memories matching the prefilter,
// ordered by adaptive priority then recency.
func (s *MemoryStore) Candidates(ctx context.Context, pf Prefilter) ([]*types.Memory, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Candidates")
	defer timer.Stop()

	if strings.TrimSpace(pf.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", types.ErrInvalidInput)
	}
	limit := pf.Limit
	if limit <= 0 {
		limit = 500
	}

	conditions := []string{"user_id = ?"}
	args := []interface{}{pf.UserID}

	conditions = append(conditions, "is_current = 1")
	if !pf.IncludeUnembedded {
		conditions = append(conditions, "embedding_status = ?")
		args = append(args, string(types.EmbeddingReady))
	}

	switch {
	case pf.AllModes, types.IsVaultMode(pf.Mode):
		// Vault mode reads across all of the user's partitions.
	case pf.CrossMode && pf.Mode != types.ModeTruthGeneral:
		conditions = append(conditions, "mode IN (?, ?)")
		args = append(args, pf.Mode, types.ModeTruthGeneral)
	case pf.Mode != "":
		conditions = append(conditions, "mode = ?")
		args = append(args, pf.Mode)
	}

	if len(pf.Categories) > 0 {
		placeholders := make([]string, len(pf.Categories))
		for i, c := range pf.Categories {
			placeholders[i] = "?"
			args = append(args, c)
		}
		conditions = append(conditions, "category IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE ` +
		strings.Join(conditions, " AND ") +
		` ORDER BY relevance_score DESC, created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}

	logging.StoreDebug("Prefilter matched %d candidates (user=%s mode=%s categories=%d)",
		len(out), pf.UserID, pf.Mode, len(pf.Categories))
	return out, nil
}

// RecentUnembedded returns current rows stored within the window whose
// embedding has not landed yet. Retrieval uses these for the embedding-lag
// fallback so a fact stored seconds ago is not invisible.
func (s *MemoryStore) RecentUnembedded(ctx context.Context, pf Prefilter, window time.Duration, limit int) ([]*types.Memory, error) {
	if strings.TrimSpace(pf.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", types.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 5
	}
	cutoff := time.Now().UTC().Add(-window)

	conditions := []string{"user_id = ?", "is_current = 1", "embedding_status != ?", "created_at >= ?"}
	args := []interface{}{pf.UserID, string(types.EmbeddingReady), cutoff}

	switch {
	case pf.AllModes, types.IsVaultMode(pf.Mode):
	case pf.CrossMode && pf.Mode != types.ModeTruthGeneral:
		conditions = append(conditions, "mode IN (?, ?)")
		args = append(args, pf.Mode, types.ModeTruthGeneral)
	case pf.Mode != "":
		conditions = append(conditions, "mode = ?")
		args = append(args, pf.Mode)
	}

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE ` +
		strings.Join(conditions, " AND ") +
		` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unembedded rows: %w", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unembedded row: %w", err)
		}
		out = append(out, mem)
	}
	return out, rows.Err()
}

// FindByFingerprint returns the user's rows for a fact key, current first,
// newest first. Mode is deliberately absent: fact identity spans partitions.
func (s *MemoryStore) FindByFingerprint(ctx context.Context, userID, fp string) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE user_id = ? AND fact_fingerprint = ?
		 ORDER BY is_current DESC, created_at DESC`,
		userID, fp)
	if err != nil {
		return nil, fmt.Errorf("failed to query by fingerprint: %w", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint row: %w", err)
		}
		out = append(out, mem)
	}
	return out, rows.Err()
}

// PendingBackfill returns unembedded rows newest-first for the backfill
// worker. The status filter defaults to pending; passing failed as well lets
// an operator re-drive rows that were retired by a transient provider outage.
func (s *MemoryStore) PendingBackfill(ctx context.Context, limit int, statuses ...types.EmbeddingStatus) ([]*types.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	if len(statuses) == 0 {
		statuses = []types.EmbeddingStatus{types.EmbeddingPending}
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, 0, len(statuses)+1)
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE embedding IS NULL AND content IS NOT NULL
		   AND embedding_status IN (`+strings.Join(placeholders, ", ")+`)
		 ORDER BY created_at DESC LIMIT ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending backfill rows: %w", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending row: %w", err)
		}
		out = append(out, mem)
	}
	return out, rows.Err()
}

// CountPending returns how many rows still await embedding.
func (s *MemoryStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE embedding_status = ?`,
		string(types.EmbeddingPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending rows: %w", err)
	}
	return n, nil
}
