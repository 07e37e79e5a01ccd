package backfill

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/config"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/store"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockEmbedder struct {
	embedFunc func(ctx context.Context, text string) ([]float32, error)
	calls     int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	return m.embedFunc(ctx, text)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int { return 4 }
func (m *mockEmbedder) Name() string    { return "mock:test" }

func newTestWorker(t *testing.T, embedder *mockEmbedder) (*Worker, *store.MemoryStore) {
	t.Helper()
	st, err := store.NewMemoryStore(filepath.Join(t.TempDir(), "memory.db"), store.WithDimensions(4))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bcfg := config.DefaultBackfillConfig()
	bcfg.InterRowDelayMs = 1 // keep tests fast
	w := NewWorker(st, embedder, bcfg, config.DefaultEmbeddingConfig())
	return w, st
}

func seedPending(t *testing.T, st *store.MemoryStore, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		res, err := st.Store(context.Background(), store.StoreRequest{
			UserID:  "u1",
			Content: "pending row",
		})
		require.NoError(t, err)
		ids = append(ids, res.Memory.ID)
	}
	return ids
}

func TestRunEmbedsPendingRows(t *testing.T) {
	embedder := &mockEmbedder{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 0, 0, 0}, nil
		},
	}
	w, st := newTestWorker(t, embedder)
	ids := seedPending(t, st, 3)

	res, err := w.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 3, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Remaining)

	for _, id := range ids {
		mem, err := st.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, types.EmbeddingReady, mem.EmbeddingStatus)
		assert.Equal(t, "mock:test", mem.EmbeddingModel)
	}
}

func TestRunRespectsRowLimit(t *testing.T) {
	embedder := &mockEmbedder{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 0, 0, 0}, nil
		},
	}
	w, st := newTestWorker(t, embedder)
	seedPending(t, st, 5)

	res, err := w.Run(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 3, res.Remaining)
}

func TestRunTimeoutRequeues(t *testing.T) {
	embedder := &mockEmbedder{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, context.DeadlineExceeded
		},
	}
	w, st := newTestWorker(t, embedder)
	ids := seedPending(t, st, 1)

	res, err := w.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	// Timed-out rows go back to pending for the next run.
	mem, err := st.GetByID(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingPending, mem.EmbeddingStatus)
	assert.Equal(t, 1, res.Remaining)
}

func TestRunHardFailureRetires(t *testing.T) {
	embedder := &mockEmbedder{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("invalid api key")
		},
	}
	w, st := newTestWorker(t, embedder)
	ids := seedPending(t, st, 1)

	res, err := w.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	mem, err := st.GetByID(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingFailed, mem.EmbeddingStatus)
	assert.NotEmpty(t, mem.MetaString("embedding_error"))
	assert.Zero(t, res.Remaining, "failed rows must leave the queue")
}

func TestRunDimensionMismatchRetires(t *testing.T) {
	embedder := &mockEmbedder{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 0}, nil // wrong dimensionality
		},
	}
	w, st := newTestWorker(t, embedder)
	ids := seedPending(t, st, 1)

	res, err := w.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	mem, err := st.GetByID(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingFailed, mem.EmbeddingStatus)
}

func TestRunCancelledContextStopsEarly(t *testing.T) {
	embedder := &mockEmbedder{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 0, 0, 0}, nil
		},
	}
	w, st := newTestWorker(t, embedder)
	seedPending(t, st, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := w.Run(ctx, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestRunReclaimsStuckRows(t *testing.T) {
	embedder := &mockEmbedder{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 0, 0, 0}, nil
		},
	}
	w, st := newTestWorker(t, embedder)
	ids := seedPending(t, st, 1)

	// Simulate a worker that died mid-claim an hour ago.
	claimed, err := st.ClaimForBackfill(context.Background(), ids[0])
	require.NoError(t, err)
	require.True(t, claimed)
	_, err = st.DB().ExecContext(context.Background(),
		`UPDATE memories SET created_at = datetime('now', '-1 hour') WHERE id = ?`, ids[0])
	require.NoError(t, err)

	res, err := w.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}
