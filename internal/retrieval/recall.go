package retrieval

import (
	"regexp"
	"strings"
)

// =============================================================================
// QUERY ANALYSIS
// =============================================================================

// QueryAnalysis is everything the pipeline derives from the raw query text
// before any vector math happens.
type QueryAnalysis struct {
	// Recall marks explicit recall intent ("what did I tell you about...").
	// Recall queries use a lower similarity floor and tiered recency.
	Recall bool

	// Personal marks first-person fact queries ("what's my number"), which
	// use the relaxed personal similarity floor.
	Personal bool

	// Ordinals lists positional references in the query, in order.
	Ordinals []string

	// Terms holds the significant query terms after stopword removal and
	// synonym expansion. Used by the text-fallback scorer.
	Terms []string

	// Safety carries detected safety-critical signals.
	Safety SafetySignal
}

var recallPhrases = []string{
	"remember",
	"recall",
	"what did i tell you",
	"what did i say",
	"what have i told you",
	"i told you",
	"i mentioned",
	"did i ever",
	"what was the",
	"remind me",
}

var personalRe = regexp.MustCompile(`(?i)\b(?:my|mine|i|i'm|i am|do i|am i|was i)\b`)

// ordinalWords are the positional references the pipeline understands. A
// query ordinal that matches a memory's ordinal gets a strong boost; a
// mismatch is penalized so "the second thing" never surfaces the first.
var ordinalWords = []string{"first", "second", "third", "last", "previous", "next"}

var ordinalRes = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(ordinalWords))
	for _, ord := range ordinalWords {
		out[ord] = regexp.MustCompile(`\b` + ord + `\b`)
	}
	return out
}()

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "do": true, "does": true, "did": true,
	"what": true, "whats": true, "who": true, "when": true, "where": true,
	"which": true, "how": true, "why": true, "i": true, "me": true, "my": true,
	"you": true, "your": true, "we": true, "it": true, "its": true, "of": true,
	"to": true, "in": true, "on": true, "at": true, "for": true, "with": true,
	"about": true, "that": true, "this": true, "have": true, "has": true,
	"had": true, "tell": true, "told": true, "say": true, "said": true,
	"and": true, "or": true, "not": true, "so": true, "can": true, "could": true,
	"please": true, "remember": true, "recall": true, "remind": true,
}

// synonyms widen term overlap so "car" finds a memory about a "vehicle".
// Deliberately small: each entry exists because a retrieval miss showed the
// gap, not because a thesaurus suggested it.
var synonyms = map[string][]string{
	"phone":     {"number", "cell", "mobile"},
	"number":    {"phone", "cell", "mobile"},
	"car":       {"vehicle", "auto"},
	"vehicle":   {"car", "auto"},
	"job":       {"work", "role", "position", "title"},
	"work":      {"job", "employer", "company"},
	"home":      {"house", "address", "live", "residence"},
	"address":   {"home", "live", "residence"},
	"wife":      {"spouse", "partner", "husband"},
	"husband":   {"spouse", "partner", "wife"},
	"spouse":    {"wife", "husband", "partner"},
	"kids":      {"children", "child", "son", "daughter"},
	"children":  {"kids", "child", "son", "daughter"},
	"doctor":    {"physician", "appointment"},
	"medicine":  {"medication", "drug", "prescription"},
	"allergy":   {"allergic", "allergies"},
	"allergic":  {"allergy", "allergies"},
	"allergies": {"allergy", "allergic"},
	"meeting":   {"standup", "sync", "appointment"},
	"email":     {"mail", "address"},
	"salary":    {"pay", "income", "compensation"},
	"birthday":  {"born", "birthdate"},
	"timezone":  {"time", "zone"},
	"color":     {"colour", "favorite", "favourite"},
	"colour":    {"color", "favorite", "favourite"},
}

var wordRe = regexp.MustCompile(`[a-z0-9']+`)

// AnalyzeQuery derives recall intent, ordinal references, personal framing,
// safety signals, and fallback terms from the query.
func AnalyzeQuery(query string) QueryAnalysis {
	lower := strings.ToLower(query)

	analysis := QueryAnalysis{
		Personal: personalRe.MatchString(query),
		Safety:   DetectSafety(query),
	}

	for _, phrase := range recallPhrases {
		if strings.Contains(lower, phrase) {
			analysis.Recall = true
			break
		}
	}

	for _, ord := range ordinalWords {
		if ordinalRes[ord].MatchString(lower) {
			analysis.Ordinals = append(analysis.Ordinals, ord)
		}
	}

	seen := map[string]bool{}
	for _, word := range wordRe.FindAllString(lower, -1) {
		word = strings.Trim(word, "'")
		if len(word) < 2 || stopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		analysis.Terms = append(analysis.Terms, word)
		for _, syn := range synonyms[word] {
			if !seen[syn] {
				seen[syn] = true
				analysis.Terms = append(analysis.Terms, syn)
			}
		}
	}

	return analysis
}

// ordinalsIn extracts the ordinal words present in memory content.
func ordinalsIn(content string) []string {
	lower := strings.ToLower(content)
	var out []string
	for _, ord := range ordinalWords {
		if ordinalRes[ord].MatchString(lower) {
			out = append(out, ord)
		}
	}
	return out
}

// explicitStorage marks content the user explicitly asked to remember.
// Recall-mode text fallback scores these near-certain.
func explicitStorage(content string) bool {
	lower := strings.ToLower(strings.TrimSpace(content))
	return strings.HasPrefix(lower, "remember that") ||
		strings.HasPrefix(lower, "remember:") ||
		strings.HasPrefix(lower, "don't forget") ||
		strings.HasPrefix(lower, "note that")
}
