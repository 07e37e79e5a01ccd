package store

import (
	"database/sql"
	"time"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

// memoryColumns is the canonical SELECT column list. Every scan goes through
// scanMemory so column order changes happen in exactly one place.
const memoryColumns = `id, user_id, mode, category, content, token_count,
	embedding, embedding_status, embedding_model, embedding_updated_at,
	fact_fingerprint, fingerprint_confidence, is_current, superseded_by,
	superseded_at, relevance_score, usage_frequency, last_accessed,
	created_at, metadata`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMemory hydrates a Memory from a row selected with memoryColumns.
func scanMemory(row rowScanner) (*types.Memory, error) {
	var (
		m             types.Memory
		category      sql.NullString
		embedding     sql.NullString
		status        sql.NullString
		embedModel    sql.NullString
		embedUpdated  sql.NullTime
		fingerprint   sql.NullString
		fpConfidence  sql.NullFloat64
		supersededBy  sql.NullInt64
		supersededAt  sql.NullTime
		relevance     sql.NullFloat64
		usageFreq     sql.NullInt64
		lastAccessed  sql.NullTime
		createdAt     sql.NullTime
		metadata      sql.NullString
	)

	err := row.Scan(
		&m.ID, &m.UserID, &m.Mode, &category, &m.Content, &m.TokenCount,
		&embedding, &status, &embedModel, &embedUpdated,
		&fingerprint, &fpConfidence, &m.IsCurrent, &supersededBy,
		&supersededAt, &relevance, &usageFreq, &lastAccessed,
		&createdAt, &metadata,
	)
	if err != nil {
		return nil, err
	}

	m.Category = category.String
	m.EmbeddingStatus = types.EmbeddingStatus(status.String)
	m.EmbeddingModel = embedModel.String
	m.FactFingerprint = fingerprint.String
	m.FingerprintConfidence = fpConfidence.Float64
	m.SupersededBy = supersededBy.Int64
	m.RelevanceScore = relevance.Float64
	m.UsageFrequency = int(usageFreq.Int64)
	if embedUpdated.Valid {
		m.EmbeddingUpdatedAt = embedUpdated.Time
	}
	if supersededAt.Valid {
		m.SupersededAt = supersededAt.Time
	}
	if lastAccessed.Valid {
		m.LastAccessed = lastAccessed.Time
	}
	if createdAt.Valid {
		m.CreatedAt = createdAt.Time
	} else {
		m.CreatedAt = time.Now().UTC()
	}

	if embedding.Valid && embedding.String != "" {
		vec, err := decodeVector(embedding.String)
		if err == nil {
			m.Embedding = vec
		}
	}
	m.Metadata = decodeMetadata(metadata.String)

	return &m, nil
}
