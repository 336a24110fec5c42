package guardrail

import (
	"regexp"
	"strings"
)

// Severity of a guardrail issue
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Issue types reported by the filter
const (
	IssueBannedTerm      = "banned_term"
	IssueInformalSpeech  = "informal_speech"
	IssueMissingPolite   = "missing_polite_ending"
	IssueFallbackFailed  = "fallback_rejected"
	IssueFallbackTimeout = "fallback_timeout"
)

// Issue describes a single finding on an utterance
type Issue struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Verdict is the outcome of filtering one utterance. Corrected is only set
// when the text passed with a rewrite; the caller speaks Corrected if present,
// else the original.
type Verdict struct {
	Passed    bool    `json:"passed"`
	Issues    []Issue `json:"issues"`
	Corrected string  `json:"corrected,omitempty"`
}

// informalRule rewrites one informal-speech pattern to its formal equivalent
type informalRule struct {
	pattern     *regexp.Regexp
	replacement string
	description string
}

// bannedTerms holds per-language terms that fail an utterance outright.
// Local rules never attempt to rewrite banned content.
var bannedTerms = map[string][]string{
	"en": {"fuck", "shit", "bitch", "asshole", "bastard", "dickhead"},
	"es": {"mierda", "joder", "cabrón", "gilipollas", "puta"},
	"fr": {"merde", "putain", "connard", "salope"},
	"ko": {"씨발", "개새끼", "병신", "지랄", "좆"},
	"ja": {"くそったれ", "ちくしょう", "黙れ"},
	"zh": {"他妈的", "操你", "滚蛋"},
}

// informalRules holds per-language informal patterns with formal replacements.
// A hit is severity medium: the utterance still passes, carrying the rewrite.
var informalRules = map[string][]informalRule{
	"en": {
		{regexp.MustCompile(`(?i)\bgonna\b`), "going to", "informal contraction 'gonna'"},
		{regexp.MustCompile(`(?i)\bwanna\b`), "want to", "informal contraction 'wanna'"},
		{regexp.MustCompile(`(?i)\bgotta\b`), "have to", "informal contraction 'gotta'"},
		{regexp.MustCompile(`(?i)\bain't\b`), "is not", "informal contraction 'ain't'"},
		{regexp.MustCompile(`(?i)\byeah\b`), "yes", "informal affirmative 'yeah'"},
		{regexp.MustCompile(`(?i)\bnope\b`), "no", "informal negative 'nope'"},
		{regexp.MustCompile(`(?i)\bkinda\b`), "somewhat", "informal contraction 'kinda'"},
	},
	"es": {
		{regexp.MustCompile(`(?i)\bporfa\b`), "por favor", "informal shortening 'porfa'"},
		{regexp.MustCompile(`(?i)\bpa'\s`), "para ", "informal shortening 'pa''"},
	},
	"fr": {
		{regexp.MustCompile(`(?i)\bouais\b`), "oui", "informal affirmative 'ouais'"},
	},
	"ko": {
		{regexp.MustCompile(`야\s*[!.?]?$`), "입니다.", "informal sentence ending '야'"},
		{regexp.MustCompile(`근데`), "그런데", "informal connective '근데'"},
	},
	"ja": {
		{regexp.MustCompile(`だよ\s*[!.?]?$`), "です。", "informal sentence ending 'だよ'"},
	},
}

// politeEndings lists sentence-final forms expected in honorific-sensitive
// target languages. The check is a narrow character-class heuristic that
// misfires on many valid sentences, so its absence is reported as a
// low-severity advisory only and never affects pass/fail.
var politeEndings = map[string][]string{
	"ko": {"요", "다", "까", "니다", "세요", "습니다", "습니까"},
	"ja": {"です", "ます", "ました", "ません", "ください", "でした"},
}

// containsBannedTerm reports the first banned term found in text for the
// given target language
func containsBannedTerm(text, lang string) (string, bool) {
	terms, ok := bannedTerms[lang]
	if !ok {
		return "", false
	}
	lowered := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(lowered, strings.ToLower(term)) {
			return term, true
		}
	}
	return "", false
}

// hasPoliteEnding reports whether the check applies to lang and, if so,
// whether the sentence-final form carries an expected polite suffix
func hasPoliteEnding(text, lang string) (applies, present bool) {
	endings, ok := politeEndings[lang]
	if !ok {
		return false, false
	}

	trimmed := strings.TrimRight(strings.TrimSpace(text), ".!?。！？ ")
	if trimmed == "" {
		return false, false
	}

	for _, ending := range endings {
		if strings.HasSuffix(trimmed, ending) {
			return true, true
		}
	}
	return true, false
}
