package store

import (
	"context"
	"fmt"
)

// Stats summarizes the state of the store for operators.
type Stats struct {
	TotalMemories   int            `json:"total_memories"`
	CurrentMemories int            `json:"current_memories"`
	Superseded      int            `json:"superseded"`
	ByStatus        map[string]int `json:"by_status"`
	ByMode          map[string]int `json:"by_mode"`
	Users           int            `json:"users"`
	VectorExtension bool           `json:"vector_extension"`
}

// GetStats collects store-wide counters.
func (s *MemoryStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus:        map[string]int{},
		ByMode:          map[string]int{},
		VectorExtension: s.vectorExt,
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN is_current = 1 THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT user_id)
		FROM memories`).Scan(&stats.TotalMemories, &stats.CurrentMemories, &stats.Users)
	if err != nil {
		return nil, fmt.Errorf("failed to collect base stats: %w", err)
	}
	stats.Superseded = stats.TotalMemories - stats.CurrentMemories

	rows, err := s.db.QueryContext(ctx,
		`SELECT embedding_status, COUNT(*) FROM memories GROUP BY embedding_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to collect status stats: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByStatus[status] = n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT mode, COUNT(*) FROM memories GROUP BY mode`)
	if err != nil {
		return nil, fmt.Errorf("failed to collect mode stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mode string
		var n int
		if err := rows.Scan(&mode, &n); err != nil {
			return nil, err
		}
		stats.ByMode[mode] = n
	}
	return stats, rows.Err()
}
