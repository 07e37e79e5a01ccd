package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

func storeReady(t *testing.T, st *MemoryStore, userID, mode, category, content string, vec []float32) *types.Memory {
	t.Helper()
	res, err := st.Store(context.Background(), StoreRequest{
		UserID:   userID,
		Mode:     mode,
		Category: category,
		Content:  content,
	})
	require.NoError(t, err)
	require.NoError(t, st.MarkEmbeddingReady(context.Background(), res.Memory.ID, vec, "test:model"))
	mem, err := st.GetByID(context.Background(), res.Memory.ID)
	require.NoError(t, err)
	return mem
}

func TestEmbeddingLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	res, err := st.Store(ctx, StoreRequest{UserID: "u1", Content: "hello"})
	require.NoError(t, err)
	id := res.Memory.ID

	// Wrong dimensionality is refused outright.
	err = st.MarkEmbeddingReady(ctx, id, []float32{1, 2}, "test:model")
	assert.ErrorIs(t, err, types.ErrConstraintViolation)

	require.NoError(t, st.MarkEmbeddingReady(ctx, id, []float32{1, 0, 0, 0}, "test:model"))
	mem, err := st.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingReady, mem.EmbeddingStatus)
	assert.Equal(t, []float32{1, 0, 0, 0}, mem.Embedding)
	assert.Equal(t, "test:model", mem.EmbeddingModel)
	assert.False(t, mem.EmbeddingUpdatedAt.IsZero())
}

func TestMarkEmbeddingFailedRecordsCause(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	res, err := st.Store(ctx, StoreRequest{UserID: "u1", Content: "hello"})
	require.NoError(t, err)

	require.NoError(t, st.MarkEmbeddingFailed(ctx, res.Memory.ID, assert.AnError))
	mem, err := st.GetByID(ctx, res.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingFailed, mem.EmbeddingStatus)
	assert.Contains(t, mem.MetaString("embedding_error"), assert.AnError.Error())
}

func TestClaimForBackfill(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	res, err := st.Store(ctx, StoreRequest{UserID: "u1", Content: "hello"})
	require.NoError(t, err)

	claimed, err := st.ClaimForBackfill(ctx, res.Memory.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim loses the race.
	claimed, err = st.ClaimForBackfill(ctx, res.Memory.ID)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestCandidatesFiltersStatusAndCurrency(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ready := storeReady(t, st, "u1", "", "", "embedded row", []float32{1, 0, 0, 0})

	// Pending row is excluded from semantic candidates.
	_, err := st.Store(ctx, StoreRequest{UserID: "u1", Content: "pending row"})
	require.NoError(t, err)

	got, err := st.Candidates(ctx, Prefilter{UserID: "u1", Mode: types.ModeTruthGeneral})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ready.ID, got[0].ID)
}

func TestCandidatesModeRules(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	storeReady(t, st, "u1", types.ModeTruthGeneral, "", "general row", []float32{1, 0, 0, 0})
	storeReady(t, st, "u1", types.ModeBusinessValidation, "", "business row", []float32{0, 1, 0, 0})

	// Strict mode filter.
	got, err := st.Candidates(ctx, Prefilter{UserID: "u1", Mode: types.ModeBusinessValidation})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "business row", got[0].Content)

	// Cross-mode widens to truth-general.
	got, err = st.Candidates(ctx, Prefilter{UserID: "u1", Mode: types.ModeBusinessValidation, CrossMode: true})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Vault mode sees everything.
	got, err = st.Candidates(ctx, Prefilter{UserID: "u1", Mode: types.ModeSiteMonkeys})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCandidatesNeverCrossUsers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	storeReady(t, st, "alice", "", "", "alice memory", []float32{1, 0, 0, 0})
	storeReady(t, st, "bob", "", "", "bob memory", []float32{0, 1, 0, 0})

	got, err := st.Candidates(ctx, Prefilter{UserID: "alice", Mode: types.ModeSiteMonkeys})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].UserID)
}

func TestCandidatesCategoryFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	storeReady(t, st, "u1", "", "health_wellness", "allergic to peanuts", []float32{1, 0, 0, 0})
	storeReady(t, st, "u1", "", "preferences", "likes jazz", []float32{0, 1, 0, 0})

	got, err := st.Candidates(ctx, Prefilter{
		UserID:     "u1",
		Mode:       types.ModeTruthGeneral,
		Categories: []string{"health_wellness"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "health_wellness", got[0].Category)
}

func TestRecentUnembedded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	res, err := st.Store(ctx, StoreRequest{UserID: "u1", Content: "fresh pending row"})
	require.NoError(t, err)
	storeReady(t, st, "u1", "", "", "embedded row", []float32{1, 0, 0, 0})

	got, err := st.RecentUnembedded(ctx, Prefilter{UserID: "u1", Mode: types.ModeTruthGeneral}, 2*time.Minute, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, res.Memory.ID, got[0].ID)
}

func TestTouchMemoriesCapsRelevance(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	res, err := st.Store(ctx, StoreRequest{UserID: "u1", Content: "touched often"})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, st.TouchMemories(ctx, []int64{res.Memory.ID}))
	}

	mem, err := st.GetByID(ctx, res.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, mem.UsageFrequency)
	assert.InDelta(t, 1.0, mem.RelevanceScore, 1e-9)
	assert.False(t, mem.LastAccessed.IsZero())
}

func TestUserCentroidRunningMean(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	vec, samples, err := st.UserCentroid(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, vec)
	assert.Zero(t, samples)

	require.NoError(t, st.UpdateUserCentroid(ctx, "u1", [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, st.UpdateUserCentroid(ctx, "u1", [][]float32{{0, 1, 0, 0}}))

	vec, samples, err = st.UserCentroid(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, samples)
	assert.InDelta(t, 0.5, float64(vec[0]), 1e-6)
	assert.InDelta(t, 0.5, float64(vec[1]), 1e-6)
}

func TestSweepStuckProcessing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	res, err := st.Store(ctx, StoreRequest{UserID: "u1", Content: "stuck row"})
	require.NoError(t, err)
	claimed, err := st.ClaimForBackfill(ctx, res.Memory.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	// Recent processing rows are left alone.
	n, err := st.SweepStuckProcessing(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	// With a zero age everything processing is reclaimed.
	n, err = st.SweepStuckProcessing(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mem, err := st.GetByID(ctx, res.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingPending, mem.EmbeddingStatus)
}

func TestSweepStuckProcessingSparesFreshClaims(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	res, err := st.Store(ctx, StoreRequest{UserID: "u1", Content: "old row, fresh claim"})
	require.NoError(t, err)
	id := res.Memory.ID

	// Age the row well past the stuck threshold, then claim it now. The
	// sweeper must key off the claim stamp, not the row's creation time,
	// or it would steal the claim out from under the worker.
	_, err = st.db.ExecContext(ctx,
		`UPDATE memories SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-2*time.Hour), id)
	require.NoError(t, err)

	claimed, err := st.ClaimForBackfill(ctx, id)
	require.NoError(t, err)
	require.True(t, claimed)

	n, err := st.SweepStuckProcessing(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n, "a fresh claim on an old row must not be swept")

	mem, err := st.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingProcessing, mem.EmbeddingStatus)

	// Once the claim itself ages out, the sweep reclaims it.
	_, err = st.db.ExecContext(ctx,
		`UPDATE memories SET embedding_updated_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), id)
	require.NoError(t, err)

	n, err = st.SweepStuckProcessing(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mem, err = st.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingPending, mem.EmbeddingStatus)
}

func TestDeleteUserMemories(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	storeReady(t, st, "u1", "", "", "row one", []float32{1, 0, 0, 0})
	storeReady(t, st, "u2", "", "", "row two", []float32{0, 1, 0, 0})
	require.NoError(t, st.UpdateUserCentroid(ctx, "u1", [][]float32{{1, 0, 0, 0}}))

	n, err := st.DeleteUserMemories(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.Candidates(ctx, Prefilter{UserID: "u2", Mode: types.ModeSiteMonkeys})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestGetStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	storeReady(t, st, "u1", "", "", "embedded", []float32{1, 0, 0, 0})
	_, err := st.Store(ctx, StoreRequest{UserID: "u2", Content: "pending"})
	require.NoError(t, err)

	stats, err := st.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalMemories)
	assert.Equal(t, 2, stats.CurrentMemories)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 1, stats.ByStatus["ready"])
	assert.Equal(t, 1, stats.ByStatus["pending"])
}
