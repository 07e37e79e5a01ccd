package fingerprint

import (
	"regexp"
	"strings"
)

// =============================================================================
// VALUE SIGNATURES
// =============================================================================

// A value signature is a predicate that the content must contain a literal
// value consistent with the fingerprint: a phone fingerprint requires
// digits, an email requires an @, a meeting time requires a time format.
// A rule match without its signature is rejected.

var (
	phoneDigitsRe = regexp.MustCompile(`\d{3}[-.\s]?\d{3}[-.\s]?\d{4}|\(\d{3}\)\s?\d{3}[-.\s]?\d{4}|\d{7,}`)
	emailRe       = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	currencyRe    = regexp.MustCompile(`[$€£¥]\s?\d|\b\d{1,3}(?:,\d{3})+\b|\b\d+\s?k\b|\b\d{4,}\b`)
	ageRe         = regexp.MustCompile(`\b\d{1,3}\b`)
	timeOfDayRe   = regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}\b|\b\d{1,2}\s?(?:am|pm)\b|\b(?:noon|midnight)\b`)
	timezoneRe    = regexp.MustCompile(`(?i)\b(?:utc|gmt|[ecmp][sd]t|[a-z]+/[a-z_]+)\b|\b(?:eastern|central|mountain|pacific|[a-z]+)\s+time\b`)
	countRe       = regexp.MustCompile(`(?i)\b(?:\d+|one|two|three|four|five|six|seven|eight|nine|ten|no)\b`)
	maritalRe     = regexp.MustCompile(`(?i)\b(?:married|single|divorced|widowed|engaged|separated)\b`)
	colorRe       = regexp.MustCompile(`(?i)\b(?:red|orange|yellow|green|blue|purple|violet|pink|black|white|gray|grey|brown|teal|turquoise|magenta|gold|silver|navy|maroon|crimson)\b`)
	animalRe      = regexp.MustCompile(`(?i)\b(?:dog|cat|bird|fish|hamster|rabbit|puppy|kitten|parrot|turtle|lizard|snake|pony|horse)\b`)
	properNounRe  = regexp.MustCompile(`\b[A-Z][a-z]+`)
	wordValueRe   = regexp.MustCompile(`(?i)\b(?:is|as|at|for|in|to|by|me)\s+\S+`)
)

// signatures maps each fingerprint to its literal-value predicate.
var signatures = map[string]func(content string) bool{
	UserPhoneNumber: func(s string) bool { return phoneDigitsRe.MatchString(s) },
	UserEmail:       func(s string) bool { return emailRe.MatchString(s) },
	UserSalary:      func(s string) bool { return currencyRe.MatchString(s) },
	UserAge:         func(s string) bool { return ageRe.MatchString(s) },
	UserMeetingTime: func(s string) bool { return timeOfDayRe.MatchString(s) || dayOfWeek(s) },
	UserTimezone:    func(s string) bool { return timezoneRe.MatchString(s) },
	UserChildrenCount: func(s string) bool {
		return countRe.MatchString(s)
	},
	UserMaritalStatus: func(s string) bool { return maritalRe.MatchString(s) },
	UserFavoriteColor: func(s string) bool { return colorRe.MatchString(s) },
	UserPet:           func(s string) bool { return animalRe.MatchString(s) },

	// Name-like facts require a proper-noun token; a bare "my wife is great"
	// has no recoverable value, "my wife is Dana" does.
	UserName:       func(s string) bool { return properNounRe.MatchString(s) },
	UserSpouseName: func(s string) bool { return properNounRe.MatchString(s) },
	UserResidence:  func(s string) bool { return properNounRe.MatchString(s) || wordValueRe.MatchString(s) },

	// Job facts carry free-form values; require that the trigger is followed
	// by an actual value token.
	UserJobTitle: func(s string) bool { return wordValueRe.MatchString(s) },
	UserEmployer: func(s string) bool { return properNounRe.MatchString(s) || wordValueRe.MatchString(s) },
}

func dayOfWeek(s string) bool {
	lower := strings.ToLower(s)
	for _, d := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

// HasValueSignature reports whether content carries a literal value
// consistent with the fingerprint. Unknown fingerprints fail closed.
func HasValueSignature(fp, content string) bool {
	sig, ok := signatures[fp]
	if !ok {
		return false
	}
	return sig(content)
}
