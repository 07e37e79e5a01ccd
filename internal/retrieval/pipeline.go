package retrieval

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/config"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/embedding"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/store"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/telemetry"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

// embeddingLagWindow bounds how far back the text-fallback path looks for
// rows whose embedding has not landed, and embeddingLagCap bounds how many
// it will consider.
const (
	embeddingLagWindow = 2 * time.Minute
	embeddingLagCap    = 5
)

// Engine runs the retrieval pipeline.
type Engine struct {
	store    *store.MemoryStore
	embedder embedding.Engine
	cache    *embedding.QueryCache
	cfg      config.RetrievalConfig
	features config.FeatureFlags
	sink     telemetry.Sink

	// adaptive tracks the fire-and-forget update goroutines so Close can
	// drain them.
	adaptive sync.WaitGroup
}

// NewEngine wires a retrieval engine. A nil sink falls back to the logging
// sink; telemetry is never optional.
func NewEngine(st *store.MemoryStore, embedder embedding.Engine, cfg config.RetrievalConfig, features config.FeatureFlags, sink telemetry.Sink) *Engine {
	if sink == nil {
		sink = telemetry.NewLogSink()
	}
	return &Engine{
		store:    st,
		embedder: embedder,
		cache:    embedding.NewQueryCache(cfg.QueryCacheSize),
		cfg:      cfg,
		features: features,
		sink:     sink,
	}
}

// Result is the outcome of one retrieval.
type Result struct {
	Memories []*types.ScoredMemory

	TokensUsed  int
	TokenBudget int

	// Method is "semantic", "text_fallback", or "mixed".
	Method string

	FallbackUsed   bool
	FallbackReason string

	CorrelationID string
}

// Retrieve runs the full pipeline. A failing embedding provider aborts the
// call with a distinct error so the caller decides how to proceed; text
// scoring is reserved for deployments with no engine configured and for
// rows whose embedding has not landed. An empty store produces an empty
// result, and telemetry records which path ran, aborts included.
func (e *Engine) Retrieve(ctx context.Context, opts Options) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Retrieve")
	defer timer.Stop()

	start := time.Now()
	corrID := telemetry.NewCorrelationID()

	if strings.TrimSpace(opts.UserID) == "" || strings.TrimSpace(opts.Query) == "" {
		return nil, types.ErrInvalidInput
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}
	budget := opts.TokenBudget
	if budget <= 0 {
		budget = e.cfg.DefaultTokenBudget
	}

	analysis := AnalyzeQuery(opts.Query)
	logging.RetrievalDebug("Query analysis: recall=%v personal=%v ordinals=%v safety=%v terms=%d",
		analysis.Recall, analysis.Personal, analysis.Ordinals, analysis.Safety.Detected, len(analysis.Terms))

	rec := telemetry.RetrievalRecord{
		CorrelationID:  corrID,
		UserID:         opts.UserID,
		Mode:           opts.Mode,
		TokenBudget:    budget,
		SafetyDetected: analysis.Safety.Detected,
	}
	defer func() {
		rec.Timings.TotalMs = time.Since(start).Milliseconds()
		e.sink.RecordRetrieval(rec)
	}()

	// Stage 1: query embedding. Cache hit skips the provider entirely. A
	// provider failure aborts the retrieval; the deferred telemetry record
	// still fires with the abort noted.
	embedStart := time.Now()
	queryVec, embedErr := e.embedQuery(ctx, opts.UserID, opts.Query)
	rec.Timings.EmbedMs = time.Since(embedStart).Milliseconds()
	if embedErr != nil {
		rec.Method = "aborted"
		rec.FallbackReason = "query_embedding_failed"
		logging.Get(logging.CategoryRetrieval).Warn("Query embedding failed, aborting retrieval: %v", embedErr)
		return nil, embedErr
	}
	if queryVec == nil {
		rec.FallbackUsed = true
		rec.FallbackReason = "query_embedding_unavailable"
	}

	// Stage 2: candidate prefilter and embedding-lag query, concurrently.
	// Safety widening is additive to the caller's category filter.
	categories := opts.Categories
	if extra := SafetyCategories(analysis.Safety); len(extra) > 0 && len(categories) > 0 {
		categories = append(append([]string{}, categories...), extra...)
	}
	pf := store.Prefilter{
		UserID:            opts.UserID,
		Mode:              opts.Mode,
		Categories:        categories,
		CrossMode:         opts.CrossMode || e.features.AllowCrossModeTransfer,
		AllModes:          opts.AllModes,
		IncludeUnembedded: opts.IncludeUnembedded,
		Limit:             e.cfg.MaxCandidates,
	}
	rec.Categories = categories
	rec.QueryLength = len(opts.Query)

	prefilterStart := time.Now()
	var candidates, lagged []*types.Memory
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		candidates, err = e.store.Candidates(gctx, pf)
		return err
	})
	g.Go(func() error {
		var err error
		lagged, err = e.store.RecentUnembedded(gctx, pf, embeddingLagWindow, embeddingLagCap)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	rec.Timings.PrefilterMs = time.Since(prefilterStart).Milliseconds()

	// Isolation sentinel: the prefilter already binds user_id, but a row
	// crossing tenants here would be catastrophic, so verify anyway and
	// count what gets dropped.
	candidates, dropped1 := filterWrongUser(candidates, opts.UserID)
	lagged, dropped2 := filterWrongUser(lagged, opts.UserID)
	rec.WrongUserMemoriesFiltered = dropped1 + dropped2
	if rec.WrongUserMemoriesFiltered > 0 {
		logging.Get(logging.CategoryRetrieval).Error(
			"Isolation sentinel dropped %d rows not belonging to user %s",
			rec.WrongUserMemoriesFiltered, opts.UserID)
	}
	rec.CandidateCount = len(candidates) + len(lagged)
	for _, mem := range candidates {
		if len(mem.Embedding) > 0 {
			rec.WithEmbeddings++
		}
	}

	// Stage 3+4: score, boost, hybrid-rank, threshold.
	scoreStart := time.Now()
	now := time.Now().UTC()
	centroid := e.loadCentroid(ctx, opts.UserID)
	floor := similarityFloor(analysis, e.cfg)

	var scored []*types.ScoredMemory
	usedTextFallback := false
	safetyBoosted := 0

	scoreOne := func(mem *types.Memory, sim float64, textFallback bool) {
		boosted := applyBoosts(analysis, mem, sim)
		if boosted > sim && SafetyBoost(analysis.Safety, mem.Content) > 0 {
			safetyBoosted++
		}
		hybrid := hybridScore(analysis, mem, boosted, now, e.cfg)
		if centroid != nil && len(mem.Embedding) > 0 {
			if csim, err := embedding.CosineSimilarity(centroid, mem.Embedding); err == nil && csim > 0 {
				hybrid += csim * e.cfg.CentroidBoostWeight
			}
		}
		if boosted < floor {
			return
		}
		scored = append(scored, &types.ScoredMemory{
			Memory:       mem,
			Similarity:   sim,
			Boosted:      boosted,
			Hybrid:       hybrid,
			TextFallback: textFallback,
		})
	}

	for _, mem := range candidates {
		if queryVec != nil {
			rec.VectorsCompared++
			scoreOne(mem, cosineOrZero(queryVec, mem), false)
		} else {
			// No engine configured: the embedded candidates are scored by
			// the same text heuristic as the lagged rows.
			scoreOne(mem, textFallbackScore(analysis, opts.Query, mem, now), true)
			usedTextFallback = true
		}
	}
	for _, mem := range lagged {
		scoreOne(mem, textFallbackScore(analysis, opts.Query, mem, now), true)
		usedTextFallback = true
	}
	rec.ScoredCount = len(scored)
	rec.Timings.ScoreMs = time.Since(scoreStart).Milliseconds()

	if len(candidates) == 0 && len(lagged) > 0 && !rec.FallbackUsed {
		rec.FallbackUsed = true
		rec.FallbackReason = "embedding_missing"
	}

	// Stage 5: budget selection.
	selected, tokensUsed := selectWithinBudget(scored, topK, budget)

	result := &Result{
		Memories:      selected,
		TokensUsed:    tokensUsed,
		TokenBudget:   budget,
		CorrelationID: corrID,
		FallbackUsed:  rec.FallbackUsed,
	}
	result.Method = injectionMethod(selected, usedTextFallback)
	result.FallbackReason = rec.FallbackReason

	rec.Method = result.Method
	rec.InjectedCount = len(selected)
	rec.TokensUsed = tokensUsed
	rec.SafetyBoosted = safetyBoosted
	for _, sm := range selected {
		rec.InjectedIDs = append(rec.InjectedIDs, sm.Memory.ID)
		if len(rec.TopScores) < 5 {
			rec.TopScores = append(rec.TopScores, sm.Hybrid)
		}
	}

	// Stage 6: best-effort adaptive update, off the request path.
	e.launchAdaptiveUpdate(opts.UserID, selected)

	logging.Retrieval("Retrieved %d/%d memories for user %s (method=%s, tokens=%d/%d)",
		len(selected), rec.CandidateCount, opts.UserID, result.Method, tokensUsed, budget)
	return result, nil
}

// embedQuery returns the query vector, from cache when possible. A nil
// vector with a nil error means no engine is configured and text scoring is
// the sanctioned path; a provider failure returns the classified error.
func (e *Engine) embedQuery(ctx context.Context, userID, query string) ([]float32, error) {
	if vec := e.cache.Get(userID, query); vec != nil {
		logging.RetrievalDebug("Query embedding cache hit")
		return vec, nil
	}
	if e.embedder == nil {
		return nil, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryEmbeddingTimeout())
	defer cancel()

	vec, err := e.embedder.Embed(embedCtx, query)
	if err != nil {
		return nil, embedding.ClassifyError(err)
	}
	e.cache.Put(userID, query, vec)
	return vec, nil
}

// loadCentroid fetches the user's priority centroid when the feature is on.
func (e *Engine) loadCentroid(ctx context.Context, userID string) []float32 {
	if !e.features.AdaptiveCentroid {
		return nil
	}
	vec, _, err := e.store.UserCentroid(ctx, userID)
	if err != nil {
		logging.RetrievalDebug("Centroid load failed (ignored): %v", err)
		return nil
	}
	return vec
}

// launchAdaptiveUpdate fires the usage-counter and centroid updates without
// blocking the response. Failures are logged and dropped; retrieval already
// succeeded.
func (e *Engine) launchAdaptiveUpdate(userID string, selected []*types.ScoredMemory) {
	if len(selected) == 0 {
		return
	}
	ids := make([]int64, 0, len(selected))
	var vectors [][]float32
	for _, sm := range selected {
		ids = append(ids, sm.Memory.ID)
		if len(sm.Memory.Embedding) > 0 {
			vectors = append(vectors, sm.Memory.Embedding)
		}
	}

	e.adaptive.Add(1)
	go func() {
		defer e.adaptive.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := e.store.TouchMemories(ctx, ids); err != nil {
			logging.Get(logging.CategoryRetrieval).Warn("Adaptive touch failed (ignored): %v", err)
		}
		if e.features.AdaptiveCentroid && len(vectors) > 0 {
			if err := e.store.UpdateUserCentroid(ctx, userID, vectors); err != nil {
				logging.Get(logging.CategoryRetrieval).Warn("Centroid update failed (ignored): %v", err)
			}
		}
	}()
}

// FlushUser drops the user's cached query embeddings. Session teardown calls
// this so a closed session cannot ghost-recall into the next.
func (e *Engine) FlushUser(userID string) int {
	return e.cache.FlushUser(userID)
}

// Close drains in-flight adaptive updates.
func (e *Engine) Close() {
	e.adaptive.Wait()
}

func filterWrongUser(mems []*types.Memory, userID string) ([]*types.Memory, int) {
	dropped := 0
	out := mems[:0]
	for _, m := range mems {
		if m.UserID != userID {
			dropped++
			continue
		}
		out = append(out, m)
	}
	return out, dropped
}

func injectionMethod(selected []*types.ScoredMemory, usedTextFallback bool) string {
	if len(selected) == 0 {
		if usedTextFallback {
			return "text_fallback"
		}
		return "semantic"
	}
	semantic, fallback := false, false
	for _, sm := range selected {
		if sm.TextFallback {
			fallback = true
		} else {
			semantic = true
		}
	}
	switch {
	case semantic && fallback:
		return "mixed"
	case fallback:
		return "text_fallback"
	default:
		return "semantic"
	}
}
