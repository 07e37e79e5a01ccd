// Package fingerprint maps free-text memory content to a canonical fact key
// (e.g. user_phone_number) with a confidence score. Classification is
// two-stage: an ordered deterministic rule pass with zero external calls,
// then an optional bounded model fallback. Every candidate must also pass
// the value-signature guard: the content has to contain a literal value of
// the kind the fingerprint names, so "I don't have a phone" never classifies
// as user_phone_number.
package fingerprint

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// Method records how a fingerprint was (or was not) produced.
type Method string

const (
	MethodDeterministic Method = "deterministic" // rule pass match
	MethodModel         Method = "model"         // classifier fallback match
	MethodNone          Method = "none"          // nothing matched
	MethodTimeout       Method = "timeout"       // fallback exceeded its deadline
	MethodRejected      Method = "rejected"      // a match failed the value-signature guard
)

// None is the sentinel fingerprint for "no fact key". The storage engine
// treats it the same as an absent fingerprint.
const None = "none"

// Result is the classifier output.
type Result struct {
	Fingerprint    string
	Confidence     float64
	Method         Method
	ValueSignature bool
}

// =============================================================================
// CANONICAL FACT KEYS (closed set)
// =============================================================================

const (
	UserName          = "user_name"
	UserPhoneNumber   = "user_phone_number"
	UserEmail         = "user_email"
	UserResidence     = "user_residence"
	UserJobTitle      = "user_job_title"
	UserEmployer      = "user_employer"
	UserSalary        = "user_salary"
	UserAge           = "user_age"
	UserMaritalStatus = "user_marital_status"
	UserSpouseName    = "user_spouse_name"
	UserChildrenCount = "user_children_count"
	UserPet           = "user_pet"
	UserTimezone      = "user_timezone"
	UserMeetingTime   = "user_meeting_time"
	UserFavoriteColor = "user_favorite_color"
)

// KnownFingerprints is the closed set of canonical fact keys.
var KnownFingerprints = map[string]bool{
	UserName:          true,
	UserPhoneNumber:   true,
	UserEmail:         true,
	UserResidence:     true,
	UserJobTitle:      true,
	UserEmployer:      true,
	UserSalary:        true,
	UserAge:           true,
	UserMaritalStatus: true,
	UserSpouseName:    true,
	UserChildrenCount: true,
	UserPet:           true,
	UserTimezone:      true,
	UserMeetingTime:   true,
	UserFavoriteColor: true,
}

// =============================================================================
// DETERMINISTIC RULES
// =============================================================================

// rule proposes a fingerprint when any of its patterns match the content.
// Rules are evaluated in order; the first rule whose patterns match AND
// whose value signature holds wins.
type rule struct {
	fingerprint string
	patterns    []*regexp.Regexp
	confidence  float64
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Ordered rule table. More specific keys (phone, email) come before looser
// ones (name, residence) so an email sentence never falls through to a
// weaker rule first.
var rules = []rule{
	{UserPhoneNumber, compile(
		`\bmy (?:phone|cell|mobile)(?: number)? is\b`,
		`\bmy number is\b`,
		`\b(?:reach|call|text) me at\b`,
		`\bnew (?:phone|cell) number\b`,
	), 0.95},
	{UserEmail, compile(
		`\bmy e?-?mail(?: address)? is\b`,
		`\bemail me at\b`,
	), 0.95},
	{UserSalary, compile(
		`\bmy salary is\b`,
		`\bi (?:make|earn|get paid)\b`,
		`\bmy (?:annual |yearly )?(?:income|compensation|pay) is\b`,
	), 0.90},
	{UserAge, compile(
		`\bi(?:'m| am) \d{1,3}(?: years old)?\b`,
		`\bmy age is\b`,
		`\bi turn(?:ed)? \d{1,3}\b`,
	), 0.85},
	{UserMeetingTime, compile(
		`\bmy (?:standing |weekly |daily )?(?:meeting|standup|sync|appointment) is\b`,
		`\bwe (?:meet|sync) (?:at|every)\b`,
	), 0.85},
	{UserTimezone, compile(
		`\bmy time ?zone is\b`,
		`\bi(?:'m| am) (?:in|on) (?:the )?[a-z]+ time\b`,
	), 0.85},
	{UserMaritalStatus, compile(
		`\bi(?:'m| am| got) (?:married|single|divorced|widowed|engaged)\b`,
		`\bmy marital status\b`,
	), 0.90},
	{UserSpouseName, compile(
		`\bmy (?:wife|husband|spouse|partner)(?:'s name)? is\b`,
	), 0.90},
	{UserChildrenCount, compile(
		`\bi have (?:\d+|one|two|three|four|five|six|no) (?:kids?|children|sons?|daughters?)\b`,
		`\bmy (?:\d+|one|two|three|four|five) (?:kids|children)\b`,
	), 0.85},
	{UserPet, compile(
		`\bmy (?:dog|cat|bird|fish|hamster|rabbit|pet)(?:'s name)? is\b`,
		`\bi have a (?:dog|cat|bird|fish|hamster|rabbit|pet)\b`,
	), 0.85},
	{UserFavoriteColor, compile(
		`\bmy favou?rite colou?r is\b`,
	), 0.90},
	{UserJobTitle, compile(
		`\bmy (?:job|title|role|position) is\b`,
		`\bi work as\b`,
		`\bi(?:'m| am) an? [a-z]+(?: [a-z]+)? (?:engineer|manager|developer|designer|analyst|consultant|director|nurse|doctor|teacher|lawyer|accountant)\b`,
	), 0.85},
	{UserEmployer, compile(
		`\bi work (?:at|for)\b`,
		`\bmy (?:employer|company) is\b`,
		`\bi(?:'m| am) employed (?:at|by)\b`,
	), 0.85},
	{UserResidence, compile(
		`\bi live (?:in|at)\b`,
		`\bi(?:'m| am) based in\b`,
		`\bi (?:just )?moved to\b`,
		`\bmy (?:home )?address is\b`,
	), 0.85},
	{UserName, compile(
		`\bmy name is\b`,
		`\bi go by\b`,
		`\bcall me [a-z]`,
	), 0.90},
}

// =============================================================================
// CLASSIFIER
// =============================================================================

// ModelClassifier is the optional external fallback. Implementations make a
// single bounded classification call and return one of the canonical keys,
// or an empty string when the content carries no known fact.
type ModelClassifier interface {
	ClassifyFingerprint(ctx context.Context, content string) (string, error)
}

// Classifier produces fact fingerprints from memory content.
type Classifier struct {
	fallback        ModelClassifier // nil disables the model pass
	fallbackTimeout time.Duration
}

// FallbackConfidenceCap bounds model-fallback confidence; deterministic rules
// always outrank model guesses.
const FallbackConfidenceCap = 0.75

// NewClassifier creates a classifier. A nil fallback disables stage 3.
func NewClassifier(fallback ModelClassifier) *Classifier {
	return &Classifier{
		fallback:        fallback,
		fallbackTimeout: 2 * time.Second,
	}
}

// Classify runs the two-stage classification. The deterministic pass cannot
// fail; fallback timeouts and unknown labels are non-fatal and produce a
// no-fingerprint result.
func (c *Classifier) Classify(ctx context.Context, content string) Result {
	timer := logging.StartTimer(logging.CategoryFingerprint, "Classify")
	defer timer.Stop()

	normalized := strings.ToLower(strings.TrimSpace(content))
	if normalized == "" {
		return Result{Fingerprint: "", Confidence: 0, Method: MethodNone}
	}

	// Stage 1+2: deterministic rules, each gated by the value signature.
	sawRejection := false
	for _, r := range rules {
		matched := false
		for _, p := range r.patterns {
			if p.MatchString(normalized) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if !HasValueSignature(r.fingerprint, content) {
			logging.FingerprintDebug("Rule %s matched but value signature failed, continuing", r.fingerprint)
			sawRejection = true
			continue
		}
		logging.FingerprintDebug("Deterministic match: %s (confidence=%.2f)", r.fingerprint, r.confidence)
		return Result{
			Fingerprint:    r.fingerprint,
			Confidence:     r.confidence,
			Method:         MethodDeterministic,
			ValueSignature: true,
		}
	}

	// Stage 3: bounded model fallback, only when enabled and stage 1 found
	// nothing at all.
	if c.fallback != nil {
		res, ok := c.classifyWithModel(ctx, content)
		if ok {
			return res
		}
		if res.Method == MethodTimeout {
			return res
		}
	}

	if sawRejection {
		return Result{Fingerprint: "", Confidence: 0, Method: MethodRejected}
	}
	return Result{Fingerprint: "", Confidence: 0, Method: MethodNone}
}

// classifyWithModel runs the bounded external classification call.
func (c *Classifier) classifyWithModel(ctx context.Context, content string) (Result, bool) {
	callCtx, cancel := context.WithTimeout(ctx, c.fallbackTimeout)
	defer cancel()

	label, err := c.fallback.ClassifyFingerprint(callCtx, content)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logging.Get(logging.CategoryFingerprint).Warn("Model fallback timed out")
			return Result{Method: MethodTimeout}, false
		}
		logging.Get(logging.CategoryFingerprint).Warn("Model fallback failed: %v", err)
		return Result{Method: MethodNone}, false
	}

	label = strings.TrimSpace(strings.ToLower(label))
	if label == "" || label == None || !KnownFingerprints[label] {
		logging.FingerprintDebug("Model fallback returned unknown label %q", label)
		return Result{Method: MethodNone}, false
	}

	// Model output is subject to the same guard as rule matches.
	if !HasValueSignature(label, content) {
		logging.FingerprintDebug("Model label %s failed value signature, rejected", label)
		return Result{Method: MethodRejected}, false
	}

	return Result{
		Fingerprint:    label,
		Confidence:     FallbackConfidenceCap,
		Method:         MethodModel,
		ValueSignature: true,
	}, true
}
