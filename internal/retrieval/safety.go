package retrieval

import (
	"regexp"
	"strings"
)

// =============================================================================
// SAFETY-CRITICAL SIGNALS
// =============================================================================

// Safety boosts run before every other boost. A question about dinner must
// surface a peanut allergy even when cosine similarity alone would not.

// Safety boost magnitudes, applied additively to the similarity score.
const (
	AllergyBoost    = 0.25
	MedicationBoost = 0.20
	ConditionBoost  = 0.15
)

// SafetySignal describes safety-relevant aspects of a query.
type SafetySignal struct {
	// Detected is true when the query touches a safety-relevant domain
	// (food, physical activity, medical).
	Detected bool

	// Domains lists which safety domains matched.
	Domains []string
}

var safetyDomains = map[string]*regexp.Regexp{
	"food":     regexp.MustCompile(`(?i)\b(?:eat|eating|food|meal|dinner|lunch|breakfast|snack|restaurant|recipe|cook|cooking|dish|menu|dessert|drink)\b`),
	"physical": regexp.MustCompile(`(?i)\b(?:exercise|workout|run|running|hike|hiking|swim|swimming|gym|sport|lift|lifting|climb|climbing|bike|biking)\b`),
	"medical":  regexp.MustCompile(`(?i)\b(?:medicine|medication|pill|drug|prescription|doctor|dose|dosage|treatment|surgery|vaccine|symptom|pain)\b`),
}

var (
	allergyRe    = regexp.MustCompile(`(?i)\ballerg(?:y|ic|ies|en)\b|\banaphyla`)
	medicationRe = regexp.MustCompile(`(?i)\b(?:medication|medicine|prescription|prescribed|taking|dose|dosage|mg)\b`)
	// Stems match as prefixes so inflected forms count (diabetes, diabetic,
	// diagnosed, pregnant, epilepsy).
	conditionRe = regexp.MustCompile(`(?i)\b(?:diabet|asthma|epilep|hypertension|blood pressure|heart condition|pregnan|arthritis|migraine|chronic|diagnos)`)
)

// DetectSafety reports whether the query touches a safety-relevant domain.
func DetectSafety(query string) SafetySignal {
	var sig SafetySignal
	for domain, re := range safetyDomains {
		if re.MatchString(query) {
			sig.Detected = true
			sig.Domains = append(sig.Domains, domain)
		}
	}
	return sig
}

// SafetyCategories returns the categories to add to the prefilter when a
// safety domain is detected. Widening is additive: the caller's category
// filter keeps its entries, health_wellness joins them.
func SafetyCategories(sig SafetySignal) []string {
	if !sig.Detected {
		return nil
	}
	return []string{"health_wellness"}
}

// SafetyBoost returns the additive boost a memory earns under a
// safety-relevant query. The strongest applicable boost wins; allergies
// outrank medications outrank conditions.
func SafetyBoost(sig SafetySignal, content string) float64 {
	if !sig.Detected {
		return 0
	}
	lower := strings.ToLower(content)
	switch {
	case allergyRe.MatchString(lower):
		return AllergyBoost
	case medicationRe.MatchString(lower):
		return MedicationBoost
	case conditionRe.MatchString(lower):
		return ConditionBoost
	}
	return 0
}
