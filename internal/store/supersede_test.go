package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/fingerprint"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	st, err := NewMemoryStore(filepath.Join(t.TempDir(), "memory.db"), WithDimensions(4))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func phoneFingerprint(confidence float64) fingerprint.Result {
	return fingerprint.Result{
		Fingerprint:    fingerprint.UserPhoneNumber,
		Confidence:     confidence,
		Method:         fingerprint.MethodDeterministic,
		ValueSignature: true,
	}
}

func TestStoreBasicInsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	res, err := st.Store(ctx, StoreRequest{
		UserID:  "u1",
		Content: "the weather was nice today",
	})
	require.NoError(t, err)
	assert.NotZero(t, res.Memory.ID)
	assert.Equal(t, types.ModeTruthGeneral, res.Memory.Mode)
	assert.Equal(t, types.EmbeddingPending, res.Memory.EmbeddingStatus)
	assert.True(t, res.Memory.IsCurrent)
	assert.False(t, res.SupersessionApplied)
	assert.Equal(t, "no_fingerprint", res.GateReason)
	assert.Empty(t, res.SupersededIDs)
}

func TestStoreValidation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Store(ctx, StoreRequest{UserID: "", Content: "x"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = st.Store(ctx, StoreRequest{UserID: "u1", Content: "   "})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestSupersessionReplacesCurrentFact(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.Store(ctx, StoreRequest{
		UserID:      "u1",
		Content:     "My phone number is 555-123-4567",
		Fingerprint: phoneFingerprint(0.95),
	})
	require.NoError(t, err)
	require.True(t, first.SupersessionApplied)
	require.Empty(t, first.SupersededIDs)

	second, err := st.Store(ctx, StoreRequest{
		UserID:      "u1",
		Content:     "My phone number is 555-999-0000",
		Fingerprint: phoneFingerprint(0.95),
	})
	require.NoError(t, err)
	require.Equal(t, []int64{first.Memory.ID}, second.SupersededIDs)

	old, err := st.GetByID(ctx, first.Memory.ID)
	require.NoError(t, err)
	assert.False(t, old.IsCurrent)
	assert.Equal(t, second.Memory.ID, old.SupersededBy)
	assert.False(t, old.SupersededAt.IsZero())

	// Exactly one current row for the fact.
	rows, err := st.FindByFingerprint(ctx, "u1", fingerprint.UserPhoneNumber)
	require.NoError(t, err)
	current := 0
	for _, m := range rows {
		if m.IsCurrent {
			current++
			assert.Equal(t, second.Memory.ID, m.ID)
		}
	}
	assert.Equal(t, 1, current)
}

func TestSupersessionSpansModes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.Store(ctx, StoreRequest{
		UserID:      "u1",
		Mode:        types.ModeTruthGeneral,
		Content:     "My phone number is 555-123-4567",
		Fingerprint: phoneFingerprint(0.95),
	})
	require.NoError(t, err)

	// Same fact stored from a different mode still supersedes: fact
	// identity ignores partitioning.
	second, err := st.Store(ctx, StoreRequest{
		UserID:      "u1",
		Mode:        types.ModeBusinessValidation,
		Content:     "My phone number is 555-999-0000",
		Fingerprint: phoneFingerprint(0.95),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{first.Memory.ID}, second.SupersededIDs)
}

func TestSupersessionIsPerUser(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.Store(ctx, StoreRequest{
		UserID:      "alice",
		Content:     "My phone number is 555-123-4567",
		Fingerprint: phoneFingerprint(0.95),
	})
	require.NoError(t, err)

	b, err := st.Store(ctx, StoreRequest{
		UserID:      "bob",
		Content:     "My phone number is 555-999-0000",
		Fingerprint: phoneFingerprint(0.95),
	})
	require.NoError(t, err)
	assert.Empty(t, b.SupersededIDs)

	aliceRow, err := st.GetByID(ctx, a.Memory.ID)
	require.NoError(t, err)
	assert.True(t, aliceRow.IsCurrent)
}

func TestSupersessionGate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		fp     fingerprint.Result
		reason string
	}{
		{"no fingerprint", fingerprint.Result{}, "no_fingerprint"},
		{"none sentinel", fingerprint.Result{Fingerprint: fingerprint.None, Confidence: 0.95, ValueSignature: true}, "no_fingerprint"},
		{"low confidence", fingerprint.Result{Fingerprint: fingerprint.UserPhoneNumber, Confidence: 0.75, ValueSignature: true}, "low_confidence_0.75"},
		{"no value signature", fingerprint.Result{Fingerprint: fingerprint.UserPhoneNumber, Confidence: 0.95, ValueSignature: false}, "no_value_signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := st.Store(ctx, StoreRequest{
				UserID:      "u1",
				Content:     "some content with 5551234567 in it",
				Fingerprint: tt.fp,
			})
			require.NoError(t, err)
			assert.False(t, res.SupersessionApplied)
			assert.Equal(t, tt.reason, res.GateReason)
			// Gated-out rows never engage fact identity.
			assert.Empty(t, res.Memory.FactFingerprint)
		})
	}

	// None of the gated rows superseded each other.
	rows, err := st.FindByFingerprint(ctx, "u1", fingerprint.UserPhoneNumber)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPartialIndexRejectsDuplicateCurrent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Store(ctx, StoreRequest{
		UserID:      "u1",
		Content:     "My phone number is 555-123-4567",
		Fingerprint: phoneFingerprint(0.95),
	})
	require.NoError(t, err)

	// Bypass the transaction and try to force a second current row.
	_, err = st.db.ExecContext(ctx, `
		INSERT INTO memories (user_id, mode, content, token_count, embedding_status, fact_fingerprint, fingerprint_confidence, is_current)
		VALUES ('u1', 'truth-general', 'dup', 1, 'pending', ?, 0.95, 1)`,
		fingerprint.UserPhoneNumber)
	require.Error(t, err)
	classified := classifyStoreError(err)
	assert.True(t, errors.Is(classified, types.ErrSupersessionConflict))
}

func TestStoreWithoutSupersession(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.Store(ctx, StoreRequest{
		UserID:      "u1",
		Content:     "My phone number is 555-123-4567",
		Fingerprint: phoneFingerprint(0.95),
	})
	require.NoError(t, err)

	res, err := st.StoreWithoutSupersession(ctx, StoreRequest{
		UserID:      "u1",
		Content:     "vault bulk import row",
		Fingerprint: phoneFingerprint(0.95),
	})
	require.NoError(t, err)
	assert.False(t, res.SupersessionApplied)

	// The original fact is untouched.
	row, err := st.GetByID(ctx, first.Memory.ID)
	require.NoError(t, err)
	assert.True(t, row.IsCurrent)
}

func TestCleanupDuplicateCurrentFacts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Simulate a pre-index database: drop the constraint, insert duplicates.
	_, err := st.db.ExecContext(ctx, `DROP INDEX idx_memories_current_fact`)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := st.db.ExecContext(ctx, `
			INSERT INTO memories (user_id, mode, content, token_count, embedding_status, fact_fingerprint, fingerprint_confidence, is_current)
			VALUES ('u1', 'truth-general', 'dup', 1, 'pending', ?, 0.95, 1)`,
			fingerprint.UserPhoneNumber)
		require.NoError(t, err)
	}

	n, err := st.CleanupDuplicateCurrentFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := st.FindByFingerprint(ctx, "u1", fingerprint.UserPhoneNumber)
	require.NoError(t, err)
	current := 0
	for _, m := range rows {
		if m.IsCurrent {
			current++
		}
	}
	assert.Equal(t, 1, current)

	// The constraint can be re-established once the data is clean.
	_, err = st.CreateSupersessionConstraint()
	require.NoError(t, err)
}

func TestConcurrentStoresSameFingerprint(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Parallel writers racing on one fact: the retry loop absorbs lock
	// contention and unique-index races, every write lands, and exactly
	// one row ends up current.
	const writers = 6
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = st.Store(ctx, StoreRequest{
				UserID:      "u1",
				Content:     fmt.Sprintf("My phone number is 555-000-%04d", i),
				Fingerprint: phoneFingerprint(0.95),
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	rows, err := st.FindByFingerprint(ctx, "u1", fingerprint.UserPhoneNumber)
	require.NoError(t, err)
	assert.Len(t, rows, writers)

	current := 0
	for _, m := range rows {
		if m.IsCurrent {
			current++
		} else {
			assert.NotZero(t, m.SupersededBy)
			assert.False(t, m.SupersededAt.IsZero())
		}
	}
	assert.Equal(t, 1, current)
}
