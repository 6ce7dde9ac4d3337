// Package escalation decides when a conversation must go to a human.
//
// Evaluation is tiered. Tier 1 triggers always escalate. Tier 2 triggers
// escalate unless the customer has not yet been offered an empathetic reply,
// in which case the verdict is downgraded to tier 3 (prevented) once.
package escalation

import (
	"regexp"
	"strings"

	"github.com/stellarlinkco/cxagent/internal/emotion"
)

type Tier int

const (
	TierNone      Tier = 0
	TierMandatory Tier = 1
	TierCondition Tier = 2
	TierPrevented Tier = 3
)

type Urgency string

const (
	UrgencyNone     Urgency = "none"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

type Reason string

const (
	ReasonNone                Reason = "none"
	ReasonRefund              Reason = "refund_request"
	ReasonCancellation        Reason = "cancellation_request"
	ReasonLegal               Reason = "legal_threat"
	ReasonFraud               Reason = "chargeback_fraud"
	ReasonAbuse               Reason = "severe_abuse"
	ReasonTier1               Reason = "tier1_trigger"
	ReasonHumanRequest        Reason = "explicit_human_request"
	ReasonRepeatedFrustration Reason = "repeated_frustration"
	ReasonLowConfidence       Reason = "low_confidence"
	ReasonToolFailures        Reason = "tool_failures"
	ReasonExtremeFrustration  Reason = "extreme_frustration"
	ReasonConversationLoop    Reason = "conversation_loop"
	ReasonEmpathyFirst        Reason = "empathy_first"
)

const (
	LowConfidenceThreshold = 0.6
	ToolFailureThreshold   = 2
	LoopThreshold          = 3
	frustrationWindow      = 3
	empathyWindow          = 2
)

type Verdict struct {
	ShouldEscalate    bool     `json:"should_escalate"`
	Tier              Tier     `json:"tier"`
	Reason            Reason   `json:"reason"`
	Urgency           Urgency  `json:"urgency"`
	SuggestedMessage  string   `json:"suggested_message,omitempty"`
	PreventEscalation bool     `json:"prevent_escalation"`
	Keywords          []string `json:"keywords,omitempty"`
}

// Escalating reports whether the verdict hands the conversation off.
func (v Verdict) Escalating() bool {
	return v.ShouldEscalate && (v.Tier == TierMandatory || v.Tier == TierCondition)
}

// Input is everything a verdict depends on. History holds the labels of
// earlier turns only, oldest first.
type Input struct {
	Message      string
	Emotion      emotion.Label
	History      []emotion.Label
	ToolFailures int
	// Confidence is the caller's confidence in its own answer; nil means 1.0.
	Confidence *float64
	// EmpathyOffered is set when the previous turn was a prevented escalation.
	EmpathyOffered bool
	// LoopCount is how many times the current question has been asked.
	LoopCount int
}

type keywordRule struct {
	reason   Reason
	patterns []*regexp.Regexp
	words    []string
}

func newRule(reason Reason, words ...string) keywordRule {
	r := keywordRule{reason: reason, words: words}
	for _, w := range words {
		r.patterns = append(r.patterns, wordPattern(w))
	}
	return r
}

// wordPattern matches w on word boundaries. A trailing '*' allows suffixes.
func wordPattern(w string) *regexp.Regexp {
	if strings.HasSuffix(w, "*") {
		return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.TrimSuffix(w, "*")) + `\w*`)
	}
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
}

func (r keywordRule) match(text string) []string {
	var hits []string
	for i, p := range r.patterns {
		if p.MatchString(text) {
			hits = append(hits, strings.TrimSuffix(r.words[i], "*"))
		}
	}
	return hits
}

// Policy evaluates escalation verdicts. A Policy is immutable after
// construction and safe for concurrent use.
type Policy struct {
	mandatory   []keywordRule
	human       keywordRule
	frustration keywordRule
}

func NewPolicy() *Policy {
	return &Policy{
		mandatory: []keywordRule{
			newRule(ReasonRefund, "refund*", "money back"),
			newRule(ReasonCancellation, "cancel order", "cancel my order"),
			newRule(ReasonLegal, "lawyer*", "legal action", "sue", "court", "attorney*"),
			newRule(ReasonFraud, "chargeback*", "dispute charge", "fraud*", "scam*", "stolen"),
			newRule(ReasonAbuse, "fuck*", "shit*", "bastard*", "bitch*"),
			newRule(ReasonTier1, "consumer forum", "file complaint", "file a complaint"),
		},
		human: newRule(ReasonHumanRequest,
			"speak to human", "speak to a human", "talk to a person", "talk to a human",
			"real person", "human agent", "customer service", "manager", "supervisor"),
		frustration: newRule(ReasonExtremeFrustration,
			"ridiculous", "unacceptable", "disgusting", "horrible", "worst",
			"terrible", "pathetic", "useless"),
	}
}

var defaultPolicy = NewPolicy()

// Evaluate runs the default policy.
func Evaluate(in Input) Verdict {
	return defaultPolicy.Evaluate(in)
}

// Evaluate is a pure function of its input.
func (p *Policy) Evaluate(in Input) Verdict {
	if v, ok := p.mandatoryVerdict(in.Message); ok {
		return v
	}

	if in.LoopCount >= LoopThreshold {
		return escalate(TierCondition, ReasonConversationLoop, UrgencyHigh, nil)
	}

	v, ok := p.conditionalVerdict(in)
	if !ok {
		return Verdict{Tier: TierNone, Reason: ReasonNone, Urgency: UrgencyNone}
	}
	if !in.EmpathyOffered && needsEmpathyFirst(in.History) {
		return Verdict{
			Tier:              TierPrevented,
			Reason:            ReasonEmpathyFirst,
			Urgency:           UrgencyMedium,
			SuggestedMessage:  EmpathyMessage(in.Emotion),
			PreventEscalation: true,
			Keywords:          v.Keywords,
		}
	}
	return v
}

func (p *Policy) mandatoryVerdict(text string) (Verdict, bool) {
	for _, rule := range p.mandatory {
		if hits := rule.match(text); len(hits) > 0 {
			return escalate(TierMandatory, rule.reason, UrgencyCritical, hits), true
		}
	}
	return Verdict{}, false
}

func (p *Policy) conditionalVerdict(in Input) (Verdict, bool) {
	if hits := p.human.match(in.Message); len(hits) > 0 {
		return escalate(TierCondition, ReasonHumanRequest, UrgencyHigh, hits), true
	}
	if repeatedFrustration(in.History) {
		return escalate(TierCondition, ReasonRepeatedFrustration, UrgencyHigh, nil), true
	}
	if in.Confidence != nil && *in.Confidence < LowConfidenceThreshold {
		return escalate(TierCondition, ReasonLowConfidence, UrgencyMedium, nil), true
	}
	if in.ToolFailures >= ToolFailureThreshold {
		return escalate(TierCondition, ReasonToolFailures, UrgencyMedium, nil), true
	}
	if hits := p.frustration.match(in.Message); len(hits) >= 2 {
		return escalate(TierCondition, ReasonExtremeFrustration, UrgencyHigh, hits), true
	}
	return Verdict{}, false
}

func escalate(tier Tier, reason Reason, urgency Urgency, keywords []string) Verdict {
	return Verdict{
		ShouldEscalate:   true,
		Tier:             tier,
		Reason:           reason,
		Urgency:          urgency,
		SuggestedMessage: EscalationMessage(reason),
		Keywords:         keywords,
	}
}

func repeatedFrustration(history []emotion.Label) bool {
	if len(history) < frustrationWindow {
		return false
	}
	for _, l := range history[len(history)-frustrationWindow:] {
		if l != emotion.Frustrated {
			return false
		}
	}
	return true
}

// needsEmpathyFirst is true unless both of the last two turns were frustrated.
func needsEmpathyFirst(history []emotion.Label) bool {
	if len(history) < empathyWindow {
		return true
	}
	frustrated := 0
	for _, l := range history[len(history)-empathyWindow:] {
		if l == emotion.Frustrated {
			frustrated++
		}
	}
	return frustrated < empathyWindow
}
