// Package quality grades each agent reply on five weighted dimensions.
package quality

import (
	"math"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/stellarlinkco/cxagent/internal/brand"
	"github.com/stellarlinkco/cxagent/internal/emotion"
)

const (
	weightContext    = 0.25
	weightEmpathy    = 0.20
	weightAccuracy   = 0.25
	weightEfficiency = 0.15
	weightBrandVoice = 0.15

	suggestionThreshold = 7.0
)

// Exchange is one customer message and the reply it got.
type Exchange struct {
	UserMessage string
	Response    string
	Emotion     emotion.Label
	// ActiveTopic is set when a topic was active before the turn.
	ActiveTopic bool
	// ContextUsed is set when the active topic was carried into the turn.
	ContextUsed bool
	ToolUsed    string
	ToolSuccess bool
	Escalated   bool
	Voice       *brand.Voice
}

type Score struct {
	ContextRetention float64  `json:"context_retention"`
	Empathy          float64  `json:"empathy"`
	Accuracy         float64  `json:"accuracy"`
	Efficiency       float64  `json:"efficiency"`
	BrandVoice       float64  `json:"brand_voice"`
	Overall          float64  `json:"overall"`
	Grade            string   `json:"grade"`
	Suggestions      []string `json:"suggestions,omitempty"`
}

// Scorer keeps the history of scores for averaging. Safe for concurrent use.
type Scorer struct {
	mu      sync.Mutex
	history []Score
}

func NewScorer() *Scorer {
	return &Scorer{}
}

func (s *Scorer) Score(ex Exchange) Score {
	sc := Evaluate(ex)
	s.mu.Lock()
	s.history = append(s.history, sc)
	s.mu.Unlock()
	return sc
}

// Evaluate scores one exchange without recording it.
func Evaluate(ex Exchange) Score {
	userLower := strings.ToLower(ex.UserMessage)
	respLower := strings.ToLower(ex.Response)

	sc := Score{
		ContextRetention: contextScore(ex, respLower),
		Empathy:          empathyScore(ex, respLower),
		Accuracy:         accuracyScore(ex, respLower),
		Efficiency:       efficiencyScore(ex, userLower, respLower),
		BrandVoice:       brandVoiceScore(ex, respLower),
	}
	sc.Overall = sc.ContextRetention*weightContext +
		sc.Empathy*weightEmpathy +
		sc.Accuracy*weightAccuracy +
		sc.Efficiency*weightEfficiency +
		sc.BrandVoice*weightBrandVoice

	sc.Suggestions = suggestions(sc)
	sc.Grade = Grade(sc.Overall)

	sc.ContextRetention = round1(sc.ContextRetention)
	sc.Empathy = round1(sc.Empathy)
	sc.Accuracy = round1(sc.Accuracy)
	sc.Efficiency = round1(sc.Efficiency)
	sc.BrandVoice = round1(sc.BrandVoice)
	sc.Overall = round1(sc.Overall)
	return sc
}

// Averages returns the mean of every recorded score, zero when empty.
func (s *Scorer) Averages() Score {
	s.mu.Lock()
	defer s.mu.Unlock()
	var avg Score
	n := float64(len(s.history))
	if n == 0 {
		return avg
	}
	for _, sc := range s.history {
		avg.ContextRetention += sc.ContextRetention
		avg.Empathy += sc.Empathy
		avg.Accuracy += sc.Accuracy
		avg.Efficiency += sc.Efficiency
		avg.BrandVoice += sc.BrandVoice
		avg.Overall += sc.Overall
	}
	avg.ContextRetention = round1(avg.ContextRetention / n)
	avg.Empathy = round1(avg.Empathy / n)
	avg.Accuracy = round1(avg.Accuracy / n)
	avg.Efficiency = round1(avg.Efficiency / n)
	avg.BrandVoice = round1(avg.BrandVoice / n)
	avg.Overall = round1(avg.Overall / n)
	avg.Grade = Grade(avg.Overall)
	return avg
}

func (s *Scorer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *Scorer) Reset() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

var (
	repeatQuestions   = []string{"which order", "what order", "order number", "can you provide", "could you tell me", "what is your"}
	contextAcks       = []string{"your order", "as mentioned", "as we discussed", "continuing from"}
	empathyPhrases    = []string{"i understand", "i appreciate", "i apologize", "i'm sorry", "that must be", "i can see", "frustrating", "concerning"}
	vaguePhrases      = []string{"might be", "could be", "possibly", "i think", "maybe"}
	questionWords     = []string{"where", "when", "why", "how", "what", "who"}
	directMarkers     = []string{"is", "are", "will", "can", "yes", "no"}
	clarifyRequests   = []string{"could you provide", "can you tell me", "which order", "what is"}
	casualMarkers     = []string{"hey", "hi there", "!", "great", "awesome"}
	professionalMarks = []string{"regarding", "please", "kindly", "assist"}

	digitPattern = regexp.MustCompile(`\d`)
)

func contextScore(ex Exchange, resp string) float64 {
	score := 10.0
	if ex.ActiveTopic && !ex.ContextUsed {
		score -= 3
	}
	if ex.ContextUsed && containsAny(resp, repeatQuestions) {
		score -= 4
	}
	if ex.ContextUsed && containsAny(resp, contextAcks) {
		score++
	}
	return clamp(score)
}

func empathyScore(ex Exchange, resp string) float64 {
	shown := containsAny(resp, empathyPhrases)
	var score float64
	switch ex.Emotion {
	case emotion.Frustrated, emotion.Angry, emotion.Confused, emotion.Urgent:
		score = 4
		if shown {
			score = 10
		}
	default:
		score = 7
		if shown {
			score = 9
		}
	}
	if ex.Escalated {
		if shown {
			score = 10
		} else {
			score -= 2
		}
	}
	return clamp(score)
}

func accuracyScore(ex Exchange, resp string) float64 {
	score := 10.0
	if ex.ToolUsed != "" && !ex.ToolSuccess {
		score = 6
		if strings.Contains(resp, "unable") || strings.Contains(resp, "trouble") || strings.Contains(resp, "couldn't") {
			score = 8
		}
	}
	vague := 0
	for _, p := range vaguePhrases {
		if strings.Contains(resp, p) {
			vague++
		}
	}
	if vague > 2 {
		score -= 2
	}
	if ex.ToolUsed != "" && ex.ToolSuccess {
		if digitPattern.MatchString(resp) {
			score = 10
		} else {
			score--
		}
	}
	return clamp(score)
}

func efficiencyScore(ex Exchange, user, resp string) float64 {
	var score float64
	switch n := len([]rune(resp)); {
	case n < 30:
		score = 5
	case n <= 300:
		score = 10
	case n <= 500:
		score = 8
	default:
		score = 6
	}
	if containsAny(user, questionWords) {
		first := resp
		if r := []rune(resp); len(r) > 100 {
			first = string(r[:100])
		}
		if containsAny(first, directMarkers) {
			score += 2
		} else {
			score--
		}
	}
	if containsAny(resp, clarifyRequests) && !ex.ContextUsed {
		score -= 2
	}
	return clamp(score)
}

func brandVoiceScore(ex Exchange, resp string) float64 {
	v := ex.Voice
	if v == nil {
		return 7
	}
	score := 7.0
	emoji := strings.IndexFunc(ex.Response, func(r rune) bool { return unicode.Is(unicode.So, r) }) >= 0
	switch v.EmojiUsage {
	case "none":
		if emoji {
			score -= 3
		} else {
			score++
		}
	case "moderate", "frequent":
		if emoji {
			score++
		} else {
			score--
		}
	}
	if containsAnyFold(resp, v.SignaturePhrases) {
		score += 2
	}
	if containsAnyFold(resp, v.ForbiddenPhrases) {
		score -= 3
	}
	if strings.Contains(v.Tone, "friendly") || strings.Contains(v.Tone, "casual") {
		if containsAny(resp, casualMarkers) {
			score++
		}
	}
	if strings.Contains(v.Tone, "professional") || strings.Contains(v.Tone, "formal") {
		if containsAny(resp, professionalMarks) {
			score++
		}
	}
	return clamp(score)
}

func suggestions(sc Score) []string {
	var out []string
	if sc.ContextRetention < suggestionThreshold {
		out = append(out, "Improve context retention: use the active topic to avoid repeat questions")
	}
	if sc.Empathy < suggestionThreshold {
		out = append(out, "Increase empathy: acknowledge customer emotions before providing solutions")
	}
	if sc.Accuracy < suggestionThreshold {
		out = append(out, "Enhance accuracy: use tool results more explicitly in responses")
	}
	if sc.Efficiency < suggestionThreshold {
		out = append(out, "Boost efficiency: provide direct answers earlier in the response")
	}
	if sc.BrandVoice < suggestionThreshold {
		out = append(out, "Align with brand voice: check emoji usage and signature phrases")
	}
	if min(sc.ContextRetention, sc.Empathy, sc.Accuracy, sc.Efficiency, sc.BrandVoice) >= 8 {
		out = append(out, "Excellent! All quality metrics are strong")
	}
	return out
}

var gradeBands = []struct {
	min   float64
	grade string
}{
	{9.0, "A+"}, {8.5, "A"}, {8.0, "A-"}, {7.5, "B+"}, {7.0, "B"},
	{6.5, "B-"}, {6.0, "C+"}, {5.5, "C"}, {5.0, "C-"}, {4.0, "D"},
}

func Grade(overall float64) string {
	for _, b := range gradeBands {
		if overall >= b.min {
			return b.grade
		}
	}
	return "F"
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func containsAnyFold(lowerText string, phrases []string) bool {
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(lowerText, p) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	return min(max(v, 0), 10)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
