package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/fingerprint"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

// =============================================================================
// STORE + SUPERSESSION
// =============================================================================

// StoreRequest is the input to Store. Fingerprint carries the classifier
// output verbatim; the supersession gate is evaluated here, not upstream.
type StoreRequest struct {
	UserID   string
	Mode     string
	Category string
	Content  string
	Metadata map[string]interface{}

	Fingerprint fingerprint.Result
}

// StoreResult reports what a Store call did.
type StoreResult struct {
	Memory *types.Memory

	// SupersededIDs lists the previously-current rows this fact replaced.
	SupersededIDs []int64

	// SupersessionApplied is true when the fact passed the gate and engaged
	// the one-current-fact invariant (even if nothing existed to supersede).
	SupersessionApplied bool

	// GateReason explains why supersession was skipped ("" when applied).
	GateReason string
}

// Store inserts a memory, superseding any previously-current row with the
// same (user_id, fact_fingerprint) when the fingerprint passes the gate:
// present, not "none", confidence at or above the threshold, and backed by
// a literal value signature. Supersession is all-or-nothing within a single
// immediate transaction, retried on lock contention or a unique-index race.
func (s *MemoryStore) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Store")
	defer timer.Stop()

	if err := validateStoreRequest(&req); err != nil {
		return nil, err
	}

	gateOK, gateReason := s.supersessionGate(req.Fingerprint)
	if gateOK {
		logging.StoreDebug("Supersession gate passed: user=%s fingerprint=%s confidence=%.2f",
			req.UserID, req.Fingerprint.Fingerprint, req.Fingerprint.Confidence)
	} else {
		logging.StoreDebug("Supersession gate skipped (%s): user=%s", gateReason, req.UserID)
	}

	var result *StoreResult
	var lastErr error
	for attempt := 0; attempt <= s.superCfg.MaxRetries; attempt++ {
		if attempt > 0 {
			logging.Store("Retrying supersession transaction (attempt %d/%d): %v",
				attempt, s.superCfg.MaxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", types.ErrSupersessionConflict, ctx.Err())
			case <-time.After(s.superCfg.RetryDelay()):
			}
		}

		result, lastErr = s.storeOnce(ctx, req, gateOK, gateReason)
		if lastErr == nil {
			return result, nil
		}
		if !isRetryable(lastErr) {
			return nil, lastErr
		}
	}

	logging.Get(logging.CategoryStore).Error("Supersession transaction exhausted retries: user=%s fingerprint=%s: %v",
		req.UserID, req.Fingerprint.Fingerprint, lastErr)
	return nil, fmt.Errorf("%w: retries exhausted: %v", types.ErrSupersessionConflict, lastErr)
}

// StoreWithoutSupersession inserts a memory bypassing the gate entirely.
// Used for content that should never engage fact identity (vault loads,
// bulk imports).
func (s *MemoryStore) StoreWithoutSupersession(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	if err := validateStoreRequest(&req); err != nil {
		return nil, err
	}
	return s.storeOnce(ctx, req, false, "bypassed")
}

func validateStoreRequest(req *StoreRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", types.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Content) == "" {
		return fmt.Errorf("%w: content is required", types.ErrInvalidInput)
	}
	if req.Mode == "" {
		req.Mode = types.ModeTruthGeneral
	}
	return nil
}

// supersessionGate decides whether the classified fingerprint may engage
// fact identity. All four conditions must hold.
func (s *MemoryStore) supersessionGate(fp fingerprint.Result) (bool, string) {
	if fp.Fingerprint == "" || fp.Fingerprint == fingerprint.None {
		return false, "no_fingerprint"
	}
	if fp.Confidence < s.superCfg.MinConfidence {
		return false, fmt.Sprintf("low_confidence_%.2f", fp.Confidence)
	}
	if !fp.ValueSignature {
		return false, "no_value_signature"
	}
	return true, ""
}

// storeOnce runs one attempt of the supersession transaction:
//
//  1. select currently-current rows for (user_id, fingerprint) across ALL
//     modes (fact identity ignores partitioning)
//  2. mark them superseded
//  3. insert the new row as current, embedding pending
//  4. point the old rows' superseded_by at the new id
//
// The partial unique index catches any race this misses; the caller retries.
func (s *MemoryStore) storeOnce(ctx context.Context, req StoreRequest, gateOK bool, gateReason string) (*StoreResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result := &StoreResult{SupersessionApplied: gateOK, GateReason: gateReason}

	var fpValue interface{}
	var fpConfidence interface{}
	if gateOK {
		fpValue = req.Fingerprint.Fingerprint
		fpConfidence = req.Fingerprint.Confidence

		// Step 1: previous current rows for this fact, in any mode.
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM memories
			 WHERE user_id = ? AND fact_fingerprint = ? AND is_current = 1`,
			req.UserID, req.Fingerprint.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("failed to query current facts: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan current fact id: %w", err)
			}
			result.SupersededIDs = append(result.SupersededIDs, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to iterate current facts: %w", err)
		}
		rows.Close()

		// Step 2: retire them before the insert so the unique index never
		// sees two current rows.
		if len(result.SupersededIDs) > 0 {
			_, err := tx.ExecContext(ctx,
				`UPDATE memories SET is_current = 0, superseded_at = ?
				 WHERE user_id = ? AND fact_fingerprint = ? AND is_current = 1`,
				now, req.UserID, req.Fingerprint.Fingerprint)
			if err != nil {
				return nil, fmt.Errorf("failed to retire superseded facts: %w", err)
			}
		}
	}

	metaJSON, err := encodeMetadata(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	tokenCount := types.EstimateTokens(req.Content)

	// Step 3: insert the new current row. Embedding starts pending; the
	// service layer attempts the inline embed after commit.
	res, err := tx.ExecContext(ctx,
		`INSERT INTO memories (
			user_id, mode, category, content, token_count,
			embedding_status, fact_fingerprint, fingerprint_confidence,
			is_current, relevance_score, usage_frequency, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0.5, 0, ?, NULLIF(?, ''))`,
		req.UserID, req.Mode, req.Category, req.Content, tokenCount,
		string(types.EmbeddingPending), fpValue, fpConfidence, now, metaJSON)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted id: %w", err)
	}

	// Step 4: backfill the supersession chain pointer.
	if len(result.SupersededIDs) > 0 {
		for _, oldID := range result.SupersededIDs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE memories SET superseded_by = ? WHERE id = ?`, newID, oldID); err != nil {
				return nil, fmt.Errorf("failed to link superseded fact %d: %w", oldID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classifyStoreError(err)
	}

	mem := &types.Memory{
		ID:              newID,
		UserID:          req.UserID,
		Mode:            req.Mode,
		Category:        req.Category,
		Content:         req.Content,
		TokenCount:      tokenCount,
		EmbeddingStatus: types.EmbeddingPending,
		IsCurrent:       true,
		RelevanceScore:  0.5,
		CreatedAt:       now,
		Metadata:        req.Metadata,
	}
	if gateOK {
		mem.FactFingerprint = req.Fingerprint.Fingerprint
		mem.FingerprintConfidence = req.Fingerprint.Confidence
	}
	result.Memory = mem

	if len(result.SupersededIDs) > 0 {
		logging.Store("Stored memory %d for user %s, superseded %d prior fact(s) [%s]",
			newID, req.UserID, len(result.SupersededIDs), mem.FactFingerprint)
	} else {
		logging.StoreDebug("Stored memory %d for user %s (no supersession)", newID, req.UserID)
	}

	return result, nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// classifyStoreError maps driver errors onto the storage error taxonomy.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch {
		case serr.ExtendedCode == sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %v", types.ErrSupersessionConflict, err)
		case serr.Code == sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", types.ErrConstraintViolation, err)
		case serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", types.ErrSupersessionConflict, err)
		}
	}
	// String fallback for wrapped driver errors.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", types.ErrSupersessionConflict, err)
	case strings.Contains(msg, "constraint failed"):
		return fmt.Errorf("%w: %v", types.ErrConstraintViolation, err)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "database table is locked"):
		return fmt.Errorf("%w: %v", types.ErrSupersessionConflict, err)
	}
	return fmt.Errorf("%w: %v", types.ErrInternal, err)
}

// isRetryable reports whether a store error is worth another attempt: lock
// contention or a unique-index race, never validation failures.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
