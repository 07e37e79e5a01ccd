// Package retrieval implements the scoring pipeline that turns a query into
// a token-budgeted set of memories: prefilter, cosine scoring, additive
// boosts, hybrid ranking, threshold, budget selection, then best-effort
// adaptive updates. Telemetry is emitted for every call, including empty and
// degraded ones.
package retrieval

import (
	"fmt"
	"strings"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

// Options describes one retrieval. Construct with NewOptions; the struct is
// treated as immutable once built so concurrent retrievals can share it.
type Options struct {
	UserID string
	Query  string
	Mode   string

	// Categories narrows the prefilter; empty means all categories.
	Categories []string

	// TopK caps the number of injected memories; zero means the default.
	TopK int

	// TokenBudget is the hard ceiling on injected token mass; zero means
	// the default.
	TokenBudget int

	// CrossMode lets a non-vault mode also read truth-general rows.
	CrossMode bool

	// AllModes reads across every partition of the user, the way vault mode
	// does. Requires an explicit caller opt-in.
	AllModes bool

	// IncludeUnembedded widens the prefilter to rows whose embedding has
	// not landed, for history-style queries. The normal path reaches those
	// rows only through the embedding-lag window.
	IncludeUnembedded bool
}

// NewOptions validates and normalizes retrieval options.
func NewOptions(userID, query, mode string) (Options, error) {
	if strings.TrimSpace(userID) == "" {
		return Options{}, fmt.Errorf("%w: user_id is required", types.ErrInvalidInput)
	}
	if strings.TrimSpace(query) == "" {
		return Options{}, fmt.Errorf("%w: query is required", types.ErrInvalidInput)
	}
	if mode == "" {
		mode = types.ModeTruthGeneral
	}
	return Options{UserID: userID, Query: query, Mode: mode}, nil
}
