// Package emotion classifies the emotional tone of a customer message.
package emotion

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

type Label string

const (
	Neutral    Label = "neutral"
	Frustrated Label = "frustrated"
	Angry      Label = "angry"
	Urgent     Label = "urgent"
	Confused   Label = "confused"
	Positive   Label = "positive"
)

// IsNegative reports whether the label counts as frustration for escalation
// and scenario selection.
func (l Label) IsNegative() bool {
	return l == Frustrated || l == Angry
}

type Result struct {
	Label     Label    `json:"label"`
	Intensity int      `json:"intensity"`
	Triggers  []string `json:"triggers,omitempty"`
}

// Classifier is the seam for swapping the keyword detector with a model-backed one.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

var (
	frustrationWords = []string{
		"frustrated", "frustrating", "annoyed", "angry", "ridiculous", "terrible",
		"awful", "worst", "disappointed", "upset", "mad", "late", "delayed",
		"slow", "long", "why", "😠", "😡", "🤬", "😤",
	}
	urgencyWords   = []string{"urgent", "asap", "immediately", "now", "today", "emergency", "critical", "right away"}
	confusionWords = []string{"confused", "confusing", "don't understand", "dont understand", "unclear", "explain", "not sure"}
	positiveWords  = []string{"thanks", "thank you", "appreciate", "great", "perfect", "excellent", "helpful", "good"}

	tokenPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)
)

// KeywordClassifier scores messages against fixed keyword lists. It is pure
// and safe for concurrent use.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

func (c *KeywordClassifier) Classify(_ context.Context, text string) (Result, error) {
	return Detect(text), nil
}

// Detect runs the keyword rules. Frustration outranks urgency, which outranks
// confusion, which outranks positivity.
func Detect(text string) Result {
	lower := strings.ToLower(text)
	tokens := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(lower, -1) {
		tokens[tok] = struct{}{}
	}

	frustration := matches(lower, tokens, frustrationWords)
	shouting := capsRatio(text) > 0.5

	switch n := len(frustration); {
	case n >= 2 && shouting:
		return Result{Label: Angry, Intensity: 9, Triggers: frustration}
	case n >= 2:
		return Result{Label: Frustrated, Intensity: min(2*n+5, 10), Triggers: frustration}
	case n == 1 && shouting:
		return Result{Label: Angry, Intensity: 7, Triggers: frustration}
	case n == 1:
		return Result{Label: Frustrated, Intensity: 4, Triggers: frustration}
	}

	if urgency := matches(lower, tokens, urgencyWords); len(urgency) > 0 {
		return Result{Label: Urgent, Intensity: min(2*len(urgency)+4, 10), Triggers: urgency}
	}
	if confusion := matches(lower, tokens, confusionWords); len(confusion) > 0 {
		return Result{Label: Confused, Intensity: 3, Triggers: confusion}
	}
	if positive := matches(lower, tokens, positiveWords); len(positive) > 0 {
		return Result{Label: Positive, Intensity: 2, Triggers: positive}
	}
	return Result{Label: Neutral}
}

func matches(lower string, tokens map[string]struct{}, words []string) []string {
	var found []string
	for _, w := range words {
		if isWord(w) {
			if _, ok := tokens[w]; ok {
				found = append(found, w)
			}
			continue
		}
		if strings.Contains(lower, w) {
			found = append(found, w)
		}
	}
	return found
}

func isWord(w string) bool {
	for _, r := range w {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' {
			return false
		}
	}
	return true
}

// capsRatio is the share of upper-case letters; short texts never count as shouting.
func capsRatio(text string) float64 {
	var letters, upper int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters <= 5 {
		return 0
	}
	return float64(upper) / float64(letters)
}
