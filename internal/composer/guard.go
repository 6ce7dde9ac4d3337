package composer

import (
	"regexp"
	"strings"
	"unicode"
)

var promisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi(?:['’]ll| will| can| am going to)\s+(?:go ahead and\s+)?(?:cancel|refund|process (?:the|your|a) refund|issue (?:a|the|your) refund)`),
	regexp.MustCompile(`(?i)\bi(?:['’]ve| have)\s+(?:cancel(?:l)?ed|refunded|processed|issued|initiated|approved)`),
	regexp.MustCompile(`(?i)\b(?:refund|cancellation)\s+(?:has been|is being|was)\s+(?:processed|initiated|approved|issued|confirmed)`),
	regexp.MustCompile(`(?i)\bi(?:['’]ll| will)\s+(?:change|update|reschedule|expedite)\s+(?:the|your)\s+(?:delivery|address|shipping)`),
	regexp.MustCompile(`(?i)\bi(?:['’]ll| will)\s+(?:give|offer|apply|send)\s+(?:you\s+)?(?:a\s+|an\s+)?(?:discount|coupon|voucher|promo)`),
	regexp.MustCompile(`(?i)\bi\s+(?:guarantee|promise)\b`),
}

// referencePattern matches an order or tracking identifier. The identifier
// must carry a digit so that "your order number with" is not read as one.
var referencePattern = regexp.MustCompile(`(?i)\b(order|tracking)\s+(?:number|id|no\.?|#)\s*(?:is\s+|:\s*)?#?([A-Z0-9-]*[0-9][A-Z0-9-]*)`)

const minReferenceLen = 4

// violation returns a description of the first rule the text breaks, or "".
func violation(text string, facts []string, forbiddenPhrases []string) string {
	for _, p := range promisePatterns {
		if m := p.FindString(text); m != "" {
			return "promise: " + m
		}
	}

	known := strings.ToUpper(strings.Join(facts, "\n"))
	for _, m := range referencePattern.FindAllStringSubmatch(text, -1) {
		if len(m[2]) < minReferenceLen {
			continue
		}
		if !strings.Contains(known, strings.ToUpper(m[2])) {
			return "unverified " + strings.ToLower(m[1]) + " reference: " + m[2]
		}
	}

	lower := strings.ToLower(text)
	for _, phrase := range forbiddenPhrases {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase != "" && strings.Contains(lower, phrase) {
			return "forbidden phrase: " + phrase
		}
	}
	return ""
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF,
		r >= 0x2600 && r <= 0x27BF,
		r >= 0x2B00 && r <= 0x2BFF,
		r == 0xFE0F, r == 0x200D:
		return true
	}
	return false
}

func stripEmoji(text string) string {
	if !strings.ContainsFunc(text, isEmoji) {
		return text
	}
	var b strings.Builder
	for _, r := range text {
		if !isEmoji(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.FieldsFunc(b.String(), func(r rune) bool { return r == ' ' }), " ")
}

// hasContent reports whether text has at least one letter or digit.
func hasContent(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0
}
