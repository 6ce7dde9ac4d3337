package orchestrator

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/stellarlinkco/cxagent/internal/composer"
	"github.com/stellarlinkco/cxagent/internal/conversation"
	"github.com/stellarlinkco/cxagent/internal/emotion"
	"github.com/stellarlinkco/cxagent/internal/escalation"
	"github.com/stellarlinkco/cxagent/internal/handoff"
	"github.com/stellarlinkco/cxagent/internal/llm"
	"github.com/stellarlinkco/cxagent/internal/quality"
	"github.com/stellarlinkco/cxagent/internal/store"
	"github.com/stellarlinkco/cxagent/internal/tools"
)

const (
	MaxInputRunes = 2000

	emptyInputReply      = "I didn't receive your message. Could you please send it again?"
	unreadableInputReply = "I'm having trouble understanding. Could you rephrase that for me?"

	lowKnowledgeConfidence = 0.5
	handoffTranscript      = 6
)

// turn is the scratch state of one ProcessMessage call.
type turn struct {
	ctx   context.Context
	start time.Time
	raw   string
	text  string
	prior composer.Facts

	// clarify is set to the reply when the input cannot be processed.
	clarify string
	step    string

	emotion     emotion.Result
	verdict     escalation.Verdict
	record      *escalation.Record
	loopCount   int
	topicBefore conversation.Topic
	continued   bool

	tool    string
	params  tools.Params
	result  tools.Result
	failure *tools.Failure
	facts   composer.Facts

	scenario composer.Scenario
	reply    composer.Reply
	response string
	meta     Metadata
}

func (t *turn) escalating() bool { return t.verdict.Escalating() }

type step struct {
	name string
	run  func(*Orchestrator, *turn)
	// always steps also run for inputs that only get a clarification.
	always bool
}

// turnSteps is the fixed turn protocol, in order.
var turnSteps = []step{
	{name: "validate", run: (*Orchestrator).validate, always: true},
	{name: "record_user", run: (*Orchestrator).recordUser, always: true},
	{name: "detect_emotion", run: (*Orchestrator).detectEmotion},
	{name: "observe_loop", run: (*Orchestrator).observeLoop},
	{name: "evaluate_escalation", run: (*Orchestrator).evaluateEscalation},
	{name: "resolve_topic", run: (*Orchestrator).resolveTopic},
	{name: "route_tool", run: (*Orchestrator).routeTool},
	{name: "select_scenario", run: (*Orchestrator).selectScenario, always: true},
	{name: "compose", run: (*Orchestrator).compose, always: true},
	{name: "record_assistant", run: (*Orchestrator).recordAssistant, always: true},
	{name: "update_topic", run: (*Orchestrator).updateTopic},
	{name: "hand_off", run: (*Orchestrator).handOff},
	{name: "update_stats", run: (*Orchestrator).updateStats, always: true},
}

func (o *Orchestrator) validate(t *turn) {
	t.meta.BrandID = o.brand.ID
	t.meta.SessionID = o.sessionID
	t.topicBefore = o.topic.Current()
	t.facts = composer.Facts{}.Merge(t.prior)

	text := strings.TrimSpace(t.raw)
	if text == "" {
		t.clarify = emptyInputReply
		return
	}
	if r := []rune(text); len(r) > MaxInputRunes {
		text = strings.TrimSpace(string(r[:MaxInputRunes]))
		t.meta.Truncated = true
	}
	t.text = text
	if strings.IndexFunc(text, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) < 0 {
		t.clarify = unreadableInputReply
	}
}

func (o *Orchestrator) recordUser(t *turn) {
	if t.text == "" {
		return
	}
	if err := o.memory.Append(llm.RoleUser, t.text); err != nil {
		o.logger.Warn().Err(err).Msg("record user message")
	}
}

func (o *Orchestrator) detectEmotion(t *turn) {
	res, err := o.classifier.Classify(t.ctx, t.text)
	if err != nil || res.Label == "" {
		o.logger.Warn().Err(err).Msg("emotion classification failed, assuming neutral")
		res = emotion.Result{Label: emotion.Neutral}
	}
	t.emotion = res
	o.stats.emotions[res.Label]++
}

func (o *Orchestrator) observeLoop(t *turn) {
	t.loopCount = o.loops.Observe(t.text)
	if t.loopCount >= rephraseAt {
		o.stats.loops++
	}
}

// evaluateEscalation checks the message against the history of earlier
// turns, then appends this turn's emotion.
func (o *Orchestrator) evaluateEscalation(t *turn) {
	confidence := t.prior.Confidence
	if confidence == nil {
		confidence = o.lowConfidence
	}
	o.lowConfidence = nil

	t.verdict = o.policy.Evaluate(escalation.Input{
		Message:        t.text,
		Emotion:        t.emotion.Label,
		History:        o.emotions.Labels(),
		ToolFailures:   o.toolFailures,
		Confidence:     confidence,
		EmpathyOffered: o.empathyOffered,
		LoopCount:      t.loopCount,
	})
	o.emotions.Add(t.emotion.Label)
	o.empathyOffered = t.verdict.Tier == escalation.TierPrevented

	if t.verdict.Tier == escalation.TierNone {
		return
	}
	rec := escalation.NewRecord(o.brand.ID, o.sessionID, t.text, t.verdict, o.now())
	t.record = &rec
	o.escalations.Append(rec)
	o.metrics.ObserveEscalation(o.brand.ID, int(rec.Verdict.Tier), string(rec.Verdict.Reason))
	if o.recorder != nil {
		if err := o.recorder.RecordEscalation(t.ctx, rec); err != nil {
			o.logger.Warn().Err(err).Msg("persist escalation")
		}
	}
	if t.escalating() {
		v := t.verdict
		t.facts.Escalation = &v
	}
}

func (o *Orchestrator) resolveTopic(t *turn) {
	if t.escalating() || !t.topicBefore.Active() {
		return
	}
	res := o.resolver.Resolve(t.ctx, t.text, t.topicBefore)
	t.meta.Resolution = &res
	if res.Continues(o.threshold) {
		t.continued = true
		o.stats.topicsMaintained++
		return
	}
	o.topic.Clear()
	o.stats.topicSwitches++
	o.metrics.ObserveTopicSwitch(o.brand.ID)
	t.meta.TopicSwitched = true
}

func (o *Orchestrator) routeTool(t *turn) {
	if t.escalating() {
		return
	}
	topic := o.topic.Current()
	name := o.router.Select(t.text, topic, t.continued)
	if name == "" {
		return
	}
	t.tool = name
	t.params = o.router.Extract(name, t.text, topic)
	t.result, t.failure = o.router.Execute(t.ctx, name, t.params)

	o.stats.toolCalls[name]++
	o.metrics.ObserveTool(o.brand.ID, name, t.failure == nil)
	if t.failure != nil && t.failure.Invalid {
		// The customer left something out; ask for it instead of counting
		// a failure towards escalation.
		t.clarify = t.failure.Fallback()
		t.facts.Failure = t.failure
		return
	}
	if t.failure != nil {
		o.toolFailures++
		o.stats.toolFailures[name]++
		t.facts.Failure = t.failure
		return
	}
	o.toolFailures = 0

	switch data := t.result.Data.(type) {
	case *store.Order:
		t.facts.Order = data
	case tools.KnowledgeData:
		t.facts.Knowledge = &data
		if data.Confidence == tools.ConfidenceLow {
			c := lowKnowledgeConfidence
			o.lowConfidence = &c
		}
	case tools.ShippingData:
		t.facts.Shipping = &data
	case tools.ProductData:
		t.facts.Product = &data
	}
}

func (o *Orchestrator) selectScenario(t *turn) {
	t.scenario = selectScenario(outcome{
		clarify:    t.clarify != "",
		escalating: t.escalating(),
		tool:       t.tool,
		success:    t.tool != "" && t.failure == nil,
		facts:      t.facts,
		emotion:    t.emotion.Label,
	})
}

func (o *Orchestrator) compose(t *turn) {
	if t.clarify != "" {
		t.response = t.clarify
		if t.verdict.Tier == escalation.TierPrevented && t.verdict.SuggestedMessage != "" {
			t.response = t.verdict.SuggestedMessage + " " + t.clarify
		}
		return
	}

	t.reply = o.composer.Compose(t.ctx, composer.Request{
		Scenario:     t.scenario,
		Facts:        t.facts,
		Emotion:      t.emotion.Label,
		Brand:        o.brand,
		SystemPrompt: o.systemPrompt,
		History:      o.memory.RenderForModel(o.systemPrompt),
		Message:      t.text,
	})
	text := t.reply.Text
	if t.escalating() {
		t.response = text
		return
	}
	if t.loopCount == rephraseAt {
		text = rephraseLead + text
	}
	if t.verdict.Tier == escalation.TierPrevented && t.verdict.SuggestedMessage != "" {
		text = t.verdict.SuggestedMessage + " " + text
	}
	t.response = text
}

func (o *Orchestrator) recordAssistant(t *turn) {
	if err := o.memory.Append(llm.RoleAssistant, t.response); err != nil {
		o.logger.Warn().Err(err).Msg("record reply")
	}
}

// updateTopic points the conversation at whatever a successful lookup found.
func (o *Orchestrator) updateTopic(t *turn) {
	if t.escalating() || t.failure != nil {
		return
	}
	var err error
	switch {
	case t.tool == tools.OrderStatus && t.facts.Order != nil:
		confidence := conversation.ConfidenceInferred
		if tools.ExtractOrderID(t.text) != "" {
			confidence = conversation.ConfidenceExplicit
		}
		err = o.topic.Set(conversation.TopicOrder, t.facts.Order.OrderID, confidence, "order lookup")
	case t.tool == tools.KnowledgeSearch && t.facts.Knowledge != nil && len(t.facts.Knowledge.Results) > 0:
		top := t.facts.Knowledge.Top()
		confidence := conversation.ConfidenceInferred
		if t.facts.Knowledge.Confidence == tools.ConfidenceHigh {
			confidence = conversation.ConfidenceExplicit
		}
		err = o.topic.Set(conversation.TopicPolicy, top.ID, confidence, "policy: "+top.Title)
	}
	if err != nil {
		o.logger.Warn().Err(err).Msg("update topic")
	}
}

func (o *Orchestrator) handOff(t *turn) {
	if !t.escalating() || t.record == nil {
		return
	}
	orderID := tools.ExtractOrderID(t.text)
	if orderID == "" {
		if topic := o.topic.Current(); topic.IsOrderTopic() {
			orderID = topic.EntityID
		}
	}
	var transcript []handoff.Line
	for _, m := range o.memory.Recent(handoffTranscript) {
		transcript = append(transcript, handoff.Line{Role: m.Role, Content: m.Content})
	}
	ticket := handoff.NewTicket(*t.record, orderID, transcript)
	if err := o.handoff.Enqueue(t.ctx, ticket); err != nil {
		o.logger.Warn().Err(err).Str("ticket", ticket.ID).Msg("enqueue handoff ticket")
		return
	}
	o.logger.Info().Str("ticket", ticket.ID).Str("reason", string(ticket.Reason)).Msg("handed off to support team")
}

func (o *Orchestrator) updateStats(t *turn) {
	o.stats.messages++
	if t.clarify != "" {
		o.stats.clarifications++
	}
	if t.reply.Fallback {
		o.stats.fallbacks++
		o.metrics.ObserveFallback(o.brand.ID)
	}

	m := &t.meta
	m.Emotion = t.emotion.Label
	m.EmotionIntensity = t.emotion.Intensity
	m.Scenario = t.scenario
	m.ToolUsed = t.tool
	m.ToolSuccess = t.tool != "" && t.failure == nil
	if t.tool != "" {
		p := t.params
		m.ToolParams = &p
	}
	if t.failure != nil {
		m.ToolError = string(t.failure.Kind)
	}
	m.TopicMaintained = t.continued
	m.Topic = o.topic.Current()
	m.Escalation = t.record
	m.LoopCount = t.loopCount
	m.Fallback = t.reply.Fallback
	m.FallbackReason = t.reply.Reason

	if t.clarify == "" {
		score := o.scorer.Score(quality.Exchange{
			UserMessage: t.text,
			Response:    t.response,
			Emotion:     t.emotion.Label,
			ActiveTopic: t.topicBefore.Active(),
			ContextUsed: t.continued,
			ToolUsed:    t.tool,
			ToolSuccess: m.ToolSuccess,
			Escalated:   t.escalating(),
			Voice:       &o.brand.Voice,
		})
		m.Quality = &score
		o.metrics.ObserveQuality(o.brand.ID, score.Overall)
	}

	m.Duration = o.now().Sub(t.start)
	o.metrics.ObserveTurn(o.brand.ID, string(t.scenario), m.Duration)

	o.logger.Debug().
		Str("emotion", string(m.Emotion)).
		Str("scenario", string(m.Scenario)).
		Str("tool", m.ToolUsed).
		Bool("tool_success", m.ToolSuccess).
		Int("tier", int(t.verdict.Tier)).
		Str("topic", m.Topic.String()).
		Dur("took", m.Duration).
		Msg("turn complete")
}
