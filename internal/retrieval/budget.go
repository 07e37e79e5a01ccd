package retrieval

import (
	"sort"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

// =============================================================================
// BUDGET SELECTION
// =============================================================================

// selectWithinBudget takes hybrid-ranked candidates and returns the injected
// set: best-first, skipping any memory that would overflow the token budget,
// stopping at topK. The budget is a hard ceiling, never an average; a single
// oversized memory is skipped, not truncated.
func selectWithinBudget(scored []*types.ScoredMemory, topK, tokenBudget int) ([]*types.ScoredMemory, int) {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Hybrid > scored[j].Hybrid
	})

	var selected []*types.ScoredMemory
	used := 0
	for _, sm := range scored {
		if len(selected) >= topK {
			break
		}
		cost := sm.Memory.TokenCount
		if cost <= 0 {
			cost = types.EstimateTokens(sm.Memory.Content)
		}
		if used+cost > tokenBudget {
			continue
		}
		selected = append(selected, sm)
		used += cost
	}
	return selected, used
}
