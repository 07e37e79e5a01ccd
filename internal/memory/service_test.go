package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/config"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/fingerprint"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/retrieval"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/telemetry"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

func TestMain(m *testing.M) {
	// opencensus (linked transitively via the genai client) starts a worker
	// goroutine in package init that can never be stopped from here.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// testEmbedder embeds onto a tiny topic basis so related texts score close.
type testEmbedder struct {
	embedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (e *testEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedFunc != nil {
		return e.embedFunc(ctx, text)
	}
	topics := [][]string{
		{"phone", "number", "call"},
		{"peanut", "allergy", "allergic", "dinner", "eat", "food"},
		{"job", "work", "engineer", "employer"},
	}
	vec := make([]float32, 4)
	lower := strings.ToLower(text)
	for i, words := range topics {
		for _, w := range words {
			if strings.Contains(lower, w) {
				vec[i] = 1
				break
			}
		}
	}
	vec[3] = 0.01
	return vec, nil
}

func (e *testEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *testEmbedder) Dimensions() int { return 4 }
func (e *testEmbedder) Name() string    { return "test:topics" }

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *telemetry.MemorySink) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DatabasePath = filepath.Join(dir, "memory.db")
	cfg.DataDir = dir
	cfg.Embedding.Dimensions = 4

	sink := telemetry.NewMemorySink(64)
	base := []ServiceOption{WithEmbedder(&testEmbedder{}), WithSink(sink)}
	svc, err := NewService(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, sink
}

func TestStoreClassifiesAndEmbeds(t *testing.T) {
	svc, sink := newTestService(t)
	ctx := context.Background()

	out, err := svc.Store(ctx, StoreInput{
		UserID:  "u1",
		Content: "My phone number is 555-123-4567",
	})
	require.NoError(t, err)
	assert.Equal(t, fingerprint.UserPhoneNumber, out.Memory.FactFingerprint)
	assert.Equal(t, types.EmbeddingReady, out.Memory.EmbeddingStatus)
	assert.Equal(t, "test:topics", out.Memory.EmbeddingModel)

	recs := sink.Stores()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].SupersessionApplied)
	assert.Equal(t, "ready", recs[0].EmbeddingStatus)
	assert.Equal(t, "deterministic", recs[0].FingerprintMethod)
}

func TestStoreThenUpdateThenRetrieve(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, StoreInput{
		UserID:  "u1",
		Content: "My phone number is 555-123-4567",
	})
	require.NoError(t, err)

	updated, err := svc.Store(ctx, StoreInput{
		UserID:  "u1",
		Content: "My new phone number is 555-999-0000",
	})
	require.NoError(t, err)
	require.Len(t, updated.SupersededIDs, 1)

	opts, err := retrieval.NewOptions("u1", "what is my phone number?", "")
	require.NoError(t, err)
	res, err := svc.Retrieve(ctx, opts)
	require.NoError(t, err)

	// Only the current value surfaces; the superseded one is invisible.
	require.NotEmpty(t, res.Memories)
	for _, sm := range res.Memories {
		assert.NotContains(t, sm.Memory.Content, "555-123-4567")
	}
	assert.Contains(t, res.Memories[0].Memory.Content, "555-999-0000")
}

func TestNonFactsAccumulate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Store(ctx, StoreInput{UserID: "u1", Content: "had a great day at the park"})
	require.NoError(t, err)
	b, err := svc.Store(ctx, StoreInput{UserID: "u1", Content: "had a rough day at the office"})
	require.NoError(t, err)

	assert.Empty(t, a.SupersededIDs)
	assert.Empty(t, b.SupersededIDs)
	assert.Empty(t, a.Memory.FactFingerprint)
}

func TestInlineEmbedFailureDegradesAndBackfills(t *testing.T) {
	failing := &testEmbedder{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, context.DeadlineExceeded
		},
	}
	svc, sink := newTestService(t, WithEmbedder(failing))
	ctx := context.Background()

	out, err := svc.Store(ctx, StoreInput{
		UserID:  "u1",
		Content: "Remember that my gate code is 4417",
	})
	require.NoError(t, err, "store must succeed even when embedding is down")
	assert.Equal(t, types.EmbeddingPending, out.Memory.EmbeddingStatus)

	recs := sink.Stores()
	require.Len(t, recs, 1)
	assert.Equal(t, "pending", recs[0].EmbeddingStatus)

	// While the provider is down, query-time retrieval aborts with the
	// distinct embedding error; the caller decides what to do next.
	opts, err := retrieval.NewOptions("u1", "do you remember my gate code?", "")
	require.NoError(t, err)
	_, err = svc.Retrieve(ctx, opts)
	assert.ErrorIs(t, err, types.ErrEmbeddingTimeout)

	// Provider recovers: the still-unembedded fact surfaces through the
	// embedding-lag window before backfill ever runs.
	failing.embedFunc = nil
	res, err := svc.Retrieve(ctx, opts)
	require.NoError(t, err)
	require.NotEmpty(t, res.Memories)
	assert.True(t, res.Memories[0].TextFallback)

	// Backfill catches the row up.
	bres, err := svc.Backfill(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, bres.Succeeded)

	mem, err := svc.StoreHandle().GetByID(ctx, out.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingReady, mem.EmbeddingStatus)
}

func TestHardEmbedFailureMarksFailed(t *testing.T) {
	failing := &testEmbedder{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("401 unauthorized")
		},
	}
	svc, _ := newTestService(t, WithEmbedder(failing))
	ctx := context.Background()

	out, err := svc.Store(ctx, StoreInput{UserID: "u1", Content: "some note"})
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingFailed, out.Memory.EmbeddingStatus)

	mem, err := svc.StoreHandle().GetByID(ctx, out.Memory.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, mem.MetaString("embedding_error"))
}

func TestSafetyScenario(t *testing.T) {
	svc, sink := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, StoreInput{
		UserID:   "u1",
		Category: "health_wellness",
		Content:  "I am severely allergic to peanuts",
	})
	require.NoError(t, err)

	opts, err := retrieval.NewOptions("u1", "what should I eat for dinner?", "")
	require.NoError(t, err)
	res, err := svc.Retrieve(ctx, opts)
	require.NoError(t, err)

	require.NotEmpty(t, res.Memories)
	assert.Contains(t, res.Memories[0].Memory.Content, "allergic")

	recs := sink.Retrievals()
	require.NotEmpty(t, recs)
	assert.True(t, recs[len(recs)-1].SafetyDetected)
}

func TestFlushClearsSessionStateOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, StoreInput{UserID: "u1", Content: "My phone number is 555-123-4567"})
	require.NoError(t, err)

	opts, err := retrieval.NewOptions("u1", "what is my phone number?", "")
	require.NoError(t, err)
	_, err = svc.Retrieve(ctx, opts)
	require.NoError(t, err)

	svc.Flush("u1")

	// Stored memories survive the flush.
	res, err := svc.Retrieve(ctx, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Memories)
}

func TestMaintainAndStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, StoreInput{UserID: "u1", Content: "My phone number is 555-123-4567"})
	require.NoError(t, err)

	duplicates, stuck, err := svc.Maintain(ctx)
	require.NoError(t, err)
	assert.Zero(t, duplicates)
	assert.Zero(t, stuck)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalMemories)
}
