// Package composer turns a scenario and verified facts into the customer
// reply. Generated text is checked against the facts; anything that fails
// the check, or any backend failure, yields a deterministic sentence.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/cxagent/internal/brand"
	"github.com/stellarlinkco/cxagent/internal/emotion"
	"github.com/stellarlinkco/cxagent/internal/llm"
)

const baseRules = `CRITICAL RULES:
- ONLY use information provided in the FACTS
- NEVER make up order numbers, dates, prices or tracking information
- If information is missing, say so and ask for it
- Be honest about what you can and cannot do
- Keep replies short: two to four sentences`

// DefaultForbiddenActions apply to every brand on top of its own list.
var DefaultForbiddenActions = []string{
	"cancel orders",
	"process or promise refunds",
	"change delivery dates or addresses",
	"promise compensation",
}

type Options struct {
	MaxRetries     int
	InitialBackoff time.Duration
	Timeout        time.Duration
	MaxTokens      int
	Temperature    float64
	Logger         zerolog.Logger
}

type Request struct {
	Scenario Scenario
	Facts    Facts
	Emotion  emotion.Label
	Brand    *brand.Brand
	// SystemPrompt is the brand prompt; it is built from Brand when empty.
	SystemPrompt string
	// History is the rendered conversation ending with the customer's message.
	History []llm.Message
	Message string
}

type Reply struct {
	Text      string `json:"text"`
	Generated bool   `json:"generated"`
	Fallback  bool   `json:"fallback"`
	// Reason explains a fallback: the backend error or the guard violation.
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts"`
}

type Composer struct {
	gen    llm.Generator
	opts   Options
	logger zerolog.Logger
}

func New(gen llm.Generator, opts Options) *Composer {
	if gen == nil {
		gen = llm.Unavailable{}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 500
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.7
	}
	return &Composer{gen: gen, opts: opts, logger: opts.Logger}
}

// Compose always returns non-empty text.
func (c *Composer) Compose(ctx context.Context, req Request) Reply {
	switch req.Scenario {
	case ScenarioEscalation, ScenarioToolFailure, ScenarioClarification:
		return c.finish(req, Reply{Text: Fallback(req.Scenario, req.Facts, req.Emotion), Fallback: true, Reason: string(req.Scenario)})
	}
	if v := req.Facts.Escalation; v != nil && v.Escalating() {
		return c.finish(req, Reply{Text: Fallback(ScenarioEscalation, req.Facts, req.Emotion), Fallback: true, Reason: string(ScenarioEscalation)})
	}

	facts := req.Facts.Lines()
	llmReq := llm.Request{
		System:      c.systemPrompt(req),
		Messages:    c.messages(req, facts),
		Temperature: llm.Temperature(c.opts.Temperature),
		MaxTokens:   c.opts.MaxTokens,
	}

	text, attempts, err := c.generate(ctx, llmReq)
	if err != nil {
		c.logger.Warn().Err(err).Str("scenario", string(req.Scenario)).Int("attempts", attempts).Msg("generation failed, using fallback")
		return c.finish(req, Reply{Text: Fallback(req.Scenario, req.Facts, req.Emotion), Fallback: true, Reason: err.Error(), Attempts: attempts})
	}

	var forbidden []string
	if req.Brand != nil {
		forbidden = req.Brand.Voice.ForbiddenPhrases
	}
	if v := violation(text, facts, forbidden); v != "" {
		c.logger.Warn().Str("scenario", string(req.Scenario)).Str("violation", v).Msg("generated reply rejected")
		return c.finish(req, Reply{Text: Fallback(req.Scenario, req.Facts, req.Emotion), Fallback: true, Reason: v, Attempts: attempts})
	}
	return c.finish(req, Reply{Text: text, Generated: true, Attempts: attempts})
}

func (c *Composer) finish(req Request, r Reply) Reply {
	if req.Brand != nil && !req.Brand.Voice.UsesEmoji() {
		r.Text = stripEmoji(r.Text)
	}
	r.Text = strings.TrimSpace(r.Text)
	if !hasContent(r.Text) {
		r.Text = fallbackGeneral
		r.Fallback = true
	}
	return r
}

func (c *Composer) generate(ctx context.Context, req llm.Request) (string, int, error) {
	attempts := 0
	op := func() (string, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()

		text, err := c.gen.Generate(callCtx, req)
		if err == nil && strings.TrimSpace(text) == "" {
			err = llm.Transient(llm.ErrEmptyResponse)
		}
		if err != nil {
			if !llm.IsRetryable(err) {
				return "", backoff.Permanent(err)
			}
			c.logger.Debug().Err(err).Int("attempt", attempts).Msg("generation attempt failed")
			return "", err
		}
		return strings.TrimSpace(text), nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.opts.InitialBackoff << c.opts.MaxRetries

	text, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.opts.MaxRetries+1)),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return "", attempts, err
	}
	return text, attempts, nil
}

func (c *Composer) systemPrompt(req Request) string {
	prompt := req.SystemPrompt
	if prompt == "" && req.Brand != nil {
		prompt = brand.SystemPrompt(req.Brand)
	}
	parts := []string{}
	if prompt != "" {
		parts = append(parts, prompt)
	}
	parts = append(parts, baseRules, "SCENARIO: "+string(req.Scenario)+"\n"+instructions(req.Scenario))
	return strings.Join(parts, "\n\n")
}

func forbiddenActions(b *brand.Brand) []string {
	out := append([]string(nil), DefaultForbiddenActions...)
	if b == nil {
		return out
	}
	for _, a := range b.Policies.ForbiddenActions {
		if !containsFold(out, a) {
			out = append(out, a)
		}
	}
	return out
}

// messages replaces the customer's latest message with the grounded payload.
func (c *Composer) messages(req Request, facts []string) []llm.Message {
	history := append([]llm.Message(nil), req.History...)
	if n := len(history); n > 0 && history[n-1].Role == llm.RoleUser {
		history = history[:n-1]
	}
	out := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		if m.Role == llm.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: payload(req, facts)})
}

func payload(req Request, facts []string) string {
	var b strings.Builder
	if ec := emotionContext(req.Emotion); ec != "" {
		b.WriteString(ec)
		b.WriteString("\n\n")
	}
	b.WriteString("FACTS:\n")
	if len(facts) == 0 {
		b.WriteString("No verified facts are available.\n")
	}
	for i, f := range facts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, f)
	}
	b.WriteString("\nYou CANNOT:\n")
	for _, a := range forbiddenActions(req.Brand) {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	message := req.Message
	if message == "" {
		if n := len(req.History); n > 0 && req.History[n-1].Role == llm.RoleUser {
			message = req.History[n-1].Content
		}
	}
	fmt.Fprintf(&b, "\nCustomer message: %s", message)
	return b.String()
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
