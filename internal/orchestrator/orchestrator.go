// Package orchestrator runs the per-message turn protocol of one customer
// conversation: emotion, escalation, topic resolution, tool routing, and
// reply composition.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/cxagent/internal/brand"
	"github.com/stellarlinkco/cxagent/internal/composer"
	"github.com/stellarlinkco/cxagent/internal/config"
	"github.com/stellarlinkco/cxagent/internal/conversation"
	"github.com/stellarlinkco/cxagent/internal/emotion"
	"github.com/stellarlinkco/cxagent/internal/escalation"
	"github.com/stellarlinkco/cxagent/internal/handoff"
	"github.com/stellarlinkco/cxagent/internal/llm"
	"github.com/stellarlinkco/cxagent/internal/logging"
	"github.com/stellarlinkco/cxagent/internal/metrics"
	"github.com/stellarlinkco/cxagent/internal/quality"
	"github.com/stellarlinkco/cxagent/internal/resolver"
	"github.com/stellarlinkco/cxagent/internal/tools"
)

var errNoBrandLookup = errors.New("no brand lookup configured")

var defaultPolicy = escalation.NewPolicy()

// DataSource backs the order, knowledge and product tools.
type DataSource interface {
	tools.OrderSource
	tools.PolicySource
	tools.ProductSource
}

type Options struct {
	// SessionID identifies the conversation; a random id is used when empty.
	SessionID string
	Config    *config.Config

	Generator  llm.Generator
	Classifier emotion.Classifier
	Policy     *escalation.Policy
	// Data feeds the default tools. Without it only the shipping check is available.
	Data DataSource
	// Tools replaces the default tool set entirely.
	Tools    *tools.Registry
	Recorder escalation.Recorder
	Handoff  handoff.Queue
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Orchestrator owns the state of a single conversation. Turns are processed
// one at a time; separate orchestrators share nothing mutable.
type Orchestrator struct {
	mu sync.Mutex

	brand        *brand.Brand
	sessionID    string
	systemPrompt string
	threshold    float64

	classifier emotion.Classifier
	policy     *escalation.Policy
	resolver   *resolver.Resolver
	router     *tools.Router
	composer   *composer.Composer
	scorer     *quality.Scorer
	recorder   escalation.Recorder
	handoff    handoff.Queue
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time

	memory      *conversation.Memory
	topic       *conversation.TopicState
	emotions    *conversation.EmotionHistory
	loops       *loopDetector
	escalations *escalation.Log

	toolFailures   int
	empathyOffered bool
	// lowConfidence carries a weak knowledge answer into the next escalation check.
	lowConfidence *float64

	stats counters
}

type counters struct {
	messages         int
	emotions         map[emotion.Label]int
	toolCalls        map[string]int
	toolFailures     map[string]int
	topicSwitches    int
	topicsMaintained int
	fallbacks        int
	clarifications   int
	loops            int
}

// New looks the brand up once and fails fast when it does not exist.
func New(brands brand.Lookup, brandID string, opts Options) (*Orchestrator, error) {
	if brands == nil {
		return nil, fmt.Errorf("create orchestrator: %w", errNoBrandLookup)
	}
	b, err := brands.Get(brandID)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Classifier == nil {
		opts.Classifier = emotion.NewKeywordClassifier()
	}
	if opts.Policy == nil {
		opts.Policy = defaultPolicy
	}
	if opts.Handoff == nil {
		opts.Handoff = handoff.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := logging.Component(opts.Logger, "orchestrator").With().
		Str("brand", b.ID).
		Str("session", opts.SessionID).
		Logger()

	registry := opts.Tools
	if registry == nil {
		registry = defaultTools(b, opts.Data)
	}

	o := &Orchestrator{
		brand:        b,
		sessionID:    opts.SessionID,
		systemPrompt: brand.SystemPrompt(b),
		threshold:    cfg.Resolver.ContinueThreshold,
		classifier:   opts.Classifier,
		policy:       opts.Policy,
		resolver: resolver.New(opts.Generator, resolver.Options{
			Temperature: cfg.Resolver.Temperature,
			MaxTokens:   cfg.Resolver.MaxTokens,
			Timeout:     cfg.ResolverTimeout(),
			Logger:      logging.Component(opts.Logger, "resolver"),
		}),
		router: tools.NewRouter(registry, tools.RouterOptions{
			MaxRetries: cfg.Tools.MaxRetries,
			RetryDelay: cfg.ToolRetryDelay(),
			Timeout:    cfg.ToolTimeout(),
			Logger:     logging.Component(opts.Logger, "tools"),
		}),
		composer: composer.New(opts.Generator, composer.Options{
			MaxRetries:     cfg.Composer.MaxRetries,
			InitialBackoff: cfg.ComposerBackoff(),
			Timeout:        cfg.ComposerTimeout(),
			MaxTokens:      cfg.Composer.MaxTokens,
			Temperature:    cfg.Composer.Temperature,
			Logger:         logging.Component(opts.Logger, "composer"),
		}),
		scorer:      quality.NewScorer(),
		recorder:    opts.Recorder,
		handoff:     opts.Handoff,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         opts.Now,
		memory:      conversation.NewMemory(cfg.Conversation.MaxHistory, cfg.Conversation.MaxTokens),
		topic:       conversation.NewTopicState(),
		emotions:    conversation.NewEmotionHistory(conversation.DefaultEmotionWindow),
		loops:       newLoopDetector(),
		escalations: escalation.NewLog(),
	}
	o.stats.reset()
	return o, nil
}

func defaultTools(b *brand.Brand, data DataSource) *tools.Registry {
	cod := b.Policies.CODAvailable != nil && *b.Policies.CODAvailable
	reg := tools.NewRegistry(tools.NewShippingTool(b.Policies.ShippingThreshold(), cod))
	if data != nil {
		reg.Register(tools.NewOrderTool(b.ID, data))
		reg.Register(tools.NewKnowledgeTool(b.ID, data))
		reg.Register(tools.NewProductTool(b.ID, data))
	}
	return reg
}

func (c *counters) reset() {
	*c = counters{
		emotions:     map[emotion.Label]int{},
		toolCalls:    map[string]int{},
		toolFailures: map[string]int{},
	}
}

func (o *Orchestrator) Brand() *brand.Brand { return o.brand }

func (o *Orchestrator) SessionID() string { return o.sessionID }

func (o *Orchestrator) Topic() conversation.Topic {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.topic.Current()
}

// History returns a copy of the conversation memory.
func (o *Orchestrator) History() []conversation.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.memory.Messages()
}

func (o *Orchestrator) Escalations() []escalation.Record {
	return o.escalations.Records()
}

// Reset forgets the conversation: memory, topic, emotion history and loop
// tracking. Statistics and the escalation log are kept.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.memory.Clear()
	o.topic.Clear()
	o.emotions.Clear()
	o.loops.Reset()
	o.toolFailures = 0
	o.empathyOffered = false
	o.lowConfidence = nil
	o.logger.Debug().Msg("conversation reset")
}

type Stats struct {
	BrandID          string                `json:"brand_id"`
	SessionID        string                `json:"session_id"`
	Messages         int                   `json:"messages_processed"`
	Emotions         map[emotion.Label]int `json:"emotions"`
	ToolCalls        map[string]int        `json:"tool_calls"`
	ToolFailures     map[string]int        `json:"tool_failures"`
	TopicSwitches    int                   `json:"topic_switches"`
	TopicsMaintained int                   `json:"topics_maintained"`
	Fallbacks        int                   `json:"fallbacks"`
	Clarifications   int                   `json:"clarifications"`
	LoopsDetected    int                   `json:"loops_detected"`
	Escalations      escalation.Stats      `json:"escalations"`
	Quality          quality.Score         `json:"quality"`
	Memory           conversation.Usage    `json:"memory"`
	Topic            conversation.Topic    `json:"topic"`
}

func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		BrandID:          o.brand.ID,
		SessionID:        o.sessionID,
		Messages:         o.stats.messages,
		Emotions:         maps.Clone(o.stats.emotions),
		ToolCalls:        maps.Clone(o.stats.toolCalls),
		ToolFailures:     maps.Clone(o.stats.toolFailures),
		TopicSwitches:    o.stats.topicSwitches,
		TopicsMaintained: o.stats.topicsMaintained,
		Fallbacks:        o.stats.fallbacks,
		Clarifications:   o.stats.clarifications,
		LoopsDetected:    o.stats.loops,
		Escalations:      o.escalations.Stats(),
		Quality:          o.scorer.Averages(),
		Memory:           o.memory.Usage(),
		Topic:            o.topic.Current(),
	}
}

// Metadata describes how a reply was produced.
type Metadata struct {
	BrandID          string               `json:"brand_id"`
	SessionID        string               `json:"session_id"`
	Emotion          emotion.Label        `json:"emotion"`
	EmotionIntensity int                  `json:"emotion_intensity"`
	Scenario         composer.Scenario    `json:"scenario"`
	ToolUsed         string               `json:"tool_used,omitempty"`
	ToolParams       *tools.Params        `json:"tool_params,omitempty"`
	ToolSuccess      bool                 `json:"tool_success"`
	ToolError        string               `json:"tool_error,omitempty"`
	TopicMaintained  bool                 `json:"topic_maintained"`
	TopicSwitched    bool                 `json:"topic_switched"`
	Topic            conversation.Topic   `json:"topic"`
	Resolution       *resolver.Resolution `json:"resolution,omitempty"`
	Escalation       *escalation.Record   `json:"escalation,omitempty"`
	LoopCount        int                  `json:"loop_count"`
	Fallback         bool                 `json:"fallback"`
	FallbackReason   string               `json:"fallback_reason,omitempty"`
	Truncated        bool                 `json:"truncated,omitempty"`
	Quality          *quality.Score       `json:"quality,omitempty"`
	Duration         time.Duration        `json:"duration"`
}

// Escalated reports whether the turn handed the conversation to a human.
func (m Metadata) Escalated() bool {
	return m.Escalation != nil && m.Escalation.Verdict.Escalating()
}

const internalErrorReply = "I'm experiencing a technical issue. Let me connect you with our support team who can assist you better."

// ProcessMessage answers one customer message. It never fails: every
// component failure degrades to a deterministic reply. prior carries facts
// the caller has already verified; pass the zero value when there are none.
func (o *Orchestrator) ProcessMessage(ctx context.Context, text string, prior composer.Facts) (reply string, meta Metadata) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t := &turn{ctx: ctx, start: o.now(), raw: text, prior: prior}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Str("step", t.step).Msg("turn aborted")
			reply = internalErrorReply
			meta = t.meta
			meta.Fallback = true
			meta.FallbackReason = "internal error"
			meta.BrandID, meta.SessionID = o.brand.ID, o.sessionID
		}
	}()

	for _, s := range turnSteps {
		if t.clarify != "" && !s.always {
			continue
		}
		t.step = s.name
		s.run(o, t)
	}
	return t.response, t.meta
}
