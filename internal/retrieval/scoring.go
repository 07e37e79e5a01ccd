package retrieval

import (
	"regexp"
	"strings"
	"time"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/config"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/embedding"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

// =============================================================================
// BOOSTS
// =============================================================================

// Boost magnitudes beyond the safety set. Ordinal boosts are strong because
// a positional query ("the second thing I told you") is near-useless if the
// wrong position wins on raw similarity.
const (
	OrdinalMatchBoost      = 0.40
	OrdinalMismatchPenalty = 0.20
	ExplicitRecallBoost    = 0.70
)

// applyBoosts layers the additive boosts onto a similarity score, in fixed
// order: safety first, then ordinal, then explicit recall.
func applyBoosts(analysis QueryAnalysis, mem *types.Memory, similarity float64) float64 {
	boosted := similarity

	boosted += SafetyBoost(analysis.Safety, mem.Content)

	if len(analysis.Ordinals) > 0 {
		memOrds := ordinalsIn(mem.Content)
		if len(memOrds) > 0 {
			if ordinalsIntersect(analysis.Ordinals, memOrds) {
				boosted += OrdinalMatchBoost
			} else {
				boosted -= OrdinalMismatchPenalty
			}
		}
	}

	if analysis.Recall && explicitlyStored(mem) {
		boosted += ExplicitRecallBoost
	}

	return boosted
}

// explicitlyStored reports whether the memory came from an explicit
// "remember this" request, phrased in the content or flagged by the caller
// in metadata. The legacy metadata spelling is honored alongside the
// canonical one.
func explicitlyStored(mem *types.Memory) bool {
	return explicitStorage(mem.Content) ||
		mem.MetaBool("explicit_storage_request") ||
		mem.MetaBool("explicit_storage")
}

func ordinalsIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// HYBRID SCORE
// =============================================================================

// hybridScore combines the boosted similarity with recency and fingerprint
// confidence. Recall queries use tiered recency (what the user told you
// recently dominates); everything else uses a linear decay over the boost
// window.
func hybridScore(analysis QueryAnalysis, mem *types.Memory, boosted float64, now time.Time, cfg config.RetrievalConfig) float64 {
	age := now.Sub(mem.CreatedAt)

	var recency float64
	tiered := false
	if analysis.Recall {
		tiered = true
		switch {
		case age < 15*time.Minute:
			recency = 0.50
		case age < 144*time.Minute:
			recency = 0.35
		case age < 24*time.Hour:
			recency = 0.20
		default:
			tiered = false
		}
	}
	if !tiered {
		window := time.Duration(cfg.RecencyBoostDays) * 24 * time.Hour
		if age < window && window > 0 {
			recency = cfg.RecencyBoostWeight * (1 - float64(age)/float64(window))
		}
	}

	return boosted + recency + mem.FingerprintConfidence*cfg.ConfidenceWeight
}

// similarityFloor picks the threshold for this query shape.
func similarityFloor(analysis QueryAnalysis, cfg config.RetrievalConfig) float64 {
	switch {
	case analysis.Recall:
		return cfg.MinSimilarityRecall
	case analysis.Personal:
		return cfg.MinSimilarityPersonal
	default:
		return cfg.MinSimilarity
	}
}

// =============================================================================
// TEXT FALLBACK SCORING
// =============================================================================

// highEntropyRe matches identifier-shaped tokens: confirmation codes,
// license keys, order numbers. Candidates still need a digit (checked in
// code, RE2 has no lookahead) so hyphenated words don't qualify.
var highEntropyRe = regexp.MustCompile(`\b[A-Za-z0-9]+(?:-[A-Za-z0-9]+)+\b|\b[A-Z]{2,}\d{2,}[A-Z0-9]*\b`)

var digitRe = regexp.MustCompile(`\d`)

func highEntropyTokens(text string) []string {
	var out []string
	for _, tok := range highEntropyRe.FindAllString(text, -1) {
		if digitRe.MatchString(tok) {
			out = append(out, tok)
		}
	}
	return out
}

// textFallbackScore scores a memory without an embedding against the query.
// Used for rows whose embedding has not landed yet, so a fact stored seconds
// ago still surfaces. The scale is calibrated to coexist with cosine scores:
// exact identifier matches outrank everything, term overlap lands in the
// same range as a good cosine hit.
func textFallbackScore(analysis QueryAnalysis, query string, mem *types.Memory, now time.Time) float64 {
	content := mem.Content
	lowerContent := strings.ToLower(content)

	// Explicitly-stored content under a recall query: the user asked us to
	// remember it and is now asking for it back.
	if analysis.Recall && explicitlyStored(mem) {
		return 0.99
	}

	// A shared high-entropy token (order number, confirmation code) is
	// near-certain evidence regardless of surrounding words.
	for _, tok := range highEntropyTokens(query) {
		if strings.Contains(lowerContent, strings.ToLower(tok)) {
			return 0.95
		}
	}

	// Term overlap with synonym expansion.
	if len(analysis.Terms) > 0 {
		matched := 0
		for _, term := range analysis.Terms {
			if strings.Contains(lowerContent, term) {
				matched++
			}
		}
		if matched > 0 {
			ratio := float64(matched) / float64(len(analysis.Terms))
			// Map overlap onto 0.70..0.90 so a strong overlap competes
			// with a real cosine hit.
			return 0.70 + 0.20*ratio
		}
	}

	// No lexical evidence: a weak recency-flavored floor so very fresh rows
	// are not entirely invisible under recall queries.
	if analysis.Recall && now.Sub(mem.CreatedAt) < 2*time.Minute {
		return 0.30
	}
	return 0
}

// cosineOrZero scores a memory vector against the query vector, treating
// dimension mismatches as zero rather than failing the whole retrieval.
func cosineOrZero(queryVec []float32, mem *types.Memory) float64 {
	if len(queryVec) == 0 || len(mem.Embedding) == 0 {
		return 0
	}
	sim, err := embedding.CosineSimilarity(queryVec, mem.Embedding)
	if err != nil {
		return 0
	}
	return sim
}
