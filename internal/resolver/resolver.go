// Package resolver decides whether a new message continues the active topic.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/stellarlinkco/cxagent/internal/conversation"
	"github.com/stellarlinkco/cxagent/internal/llm"
)

const (
	ActionContinue = "continue"
	ActionNewTopic = "new_topic"
	ActionClarify  = "clarify"

	DefaultContinueThreshold = 0.7
)

const (
	systemPrompt = "You are a context resolution assistant. Analyze if user messages relate to the current conversation topic. Respond ONLY with valid JSON."

	resolvePrompt = `Current conversation topic:
- Type: %s
- Entity: %s
- Context: %s

User's new message: %q

Question: Is this new message about the current topic?

Analyze:
1. Does the message reference the current topic explicitly or implicitly?
2. Are pronouns like "it", "that", "this" referring to the current topic?
3. Are short questions like "why?", "when?", "where?" asking about the current topic?
4. Or is this a completely new question or topic?

Respond with ONLY a JSON object:
{"about_current_topic": true, "confidence": 0.0, "reasoning": "brief explanation", "ambiguous": false, "suggested_action": "continue|new_topic|clarify"}

Examples:
- Topic "order 12345", message "why late?" -> about_current_topic: true
- Topic "order 12345", message "what's your return policy?" -> about_current_topic: false
- Message "it" or "that" -> about_current_topic: true (pronoun reference)`
)

// Resolution is the judgement for one message.
type Resolution struct {
	AboutCurrentTopic bool    `json:"about_current_topic"`
	Confidence        float64 `json:"confidence"`
	Ambiguous         bool    `json:"ambiguous"`
	SuggestedAction   string  `json:"suggested_action"`
	Reasoning         string  `json:"reasoning,omitempty"`
	// Degraded is set when the result did not come from a well-formed reply.
	Degraded bool `json:"degraded,omitempty"`
}

// Continues reports whether the topic should be kept.
func (r Resolution) Continues(threshold float64) bool {
	return r.AboutCurrentTopic && r.Confidence > threshold
}

// NoTopic is returned without a remote call when nothing is active.
var NoTopic = Resolution{SuggestedAction: ActionNewTopic}

// failed biases toward keeping context; it still sits below the continue threshold.
var failed = Resolution{AboutCurrentTopic: true, Confidence: 0.5, Ambiguous: true, SuggestedAction: ActionClarify, Degraded: true}

type Options struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Logger      zerolog.Logger
}

type Resolver struct {
	gen    llm.Generator
	opts   Options
	logger zerolog.Logger
}

func New(gen llm.Generator, opts Options) *Resolver {
	if gen == nil {
		gen = llm.Unavailable{}
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 150
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	return &Resolver{gen: gen, opts: opts, logger: opts.Logger}
}

// Resolve never fails: remote errors yield the conservative default.
func (r *Resolver) Resolve(ctx context.Context, message string, topic conversation.Topic) Resolution {
	if !topic.Active() {
		return NoTopic
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	text, err := r.gen.Generate(ctx, llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildPrompt(message, topic)}},
		Temperature: llm.Temperature(r.opts.Temperature),
		MaxTokens:   r.opts.MaxTokens,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("topic", topic.String()).Msg("topic resolution failed")
		return failed
	}
	return Parse(text)
}

func buildPrompt(message string, topic conversation.Topic) string {
	entity := topic.EntityID
	if entity == "" {
		entity = "N/A"
	}
	detail := topic.Reason
	if detail == "" {
		detail = "No additional context"
	}
	return fmt.Sprintf(resolvePrompt, strings.ToUpper(string(topic.Kind)), entity, detail, message)
}

// Parse reads a model reply, tolerating markdown code fences. Replies that
// are not a JSON object fall back to an affirmative-word heuristic.
func Parse(text string) Resolution {
	body := stripFence(text)
	if gjson.Valid(body) {
		if doc := gjson.Parse(body); doc.IsObject() {
			return fromJSON(doc)
		}
	}
	return heuristic(text)
}

func fromJSON(doc gjson.Result) Resolution {
	res := Resolution{
		AboutCurrentTopic: doc.Get("about_current_topic").Bool(),
		Confidence:        0.5,
		Ambiguous:         doc.Get("ambiguous").Bool(),
		SuggestedAction:   ActionClarify,
		Reasoning:         doc.Get("reasoning").String(),
	}
	if c := doc.Get("confidence"); c.Exists() {
		res.Confidence = clamp(c.Float())
	}
	if a := doc.Get("suggested_action").String(); a != "" {
		res.SuggestedAction = a
	}
	return res
}

var affirmative = []string{"yes", "true", "about", "related"}

func heuristic(text string) Resolution {
	lower := strings.ToLower(text)
	about := false
	for _, w := range affirmative {
		if strings.Contains(lower, w) {
			about = true
			break
		}
	}
	return Resolution{
		AboutCurrentTopic: about,
		Confidence:        0.6,
		Ambiguous:         true,
		SuggestedAction:   ActionClarify,
		Reasoning:         "fallback parsing",
		Degraded:          true,
	}
}

func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	return strings.TrimSpace(s)
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
