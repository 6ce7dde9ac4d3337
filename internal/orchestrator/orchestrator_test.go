package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stellarlinkco/cxagent/internal/brand"
	"github.com/stellarlinkco/cxagent/internal/composer"
	"github.com/stellarlinkco/cxagent/internal/config"
	"github.com/stellarlinkco/cxagent/internal/conversation"
	"github.com/stellarlinkco/cxagent/internal/emotion"
	"github.com/stellarlinkco/cxagent/internal/escalation"
	"github.com/stellarlinkco/cxagent/internal/handoff"
	"github.com/stellarlinkco/cxagent/internal/llm"
	"github.com/stellarlinkco/cxagent/internal/metrics"
	"github.com/stellarlinkco/cxagent/internal/store"
	"github.com/stellarlinkco/cxagent/internal/tools"
)

const (
	continueJSON = `{"about_current_topic": true, "confidence": 0.9, "ambiguous": false, "suggested_action": "continue"}`
	newTopicJSON = `{"about_current_topic": false, "confidence": 0.9, "ambiguous": false, "suggested_action": "new_topic"}`
	shippedReply = "Good news! Your denim jacket is on its way with BlueDart."
)

// backend answers topic-resolution prompts with resolution and every other
// prompt with reply or err. An empty resolution fails the resolver call.
type backend struct {
	mu           sync.Mutex
	resolution   string
	reply        string
	err          error
	resolveCalls int
	composeCalls int
}

func (b *backend) Generate(_ context.Context, req llm.Request) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if strings.Contains(req.System, "context resolution") {
		b.resolveCalls++
		if b.resolution == "" {
			return "", llm.Transient(errors.New("request timed out"))
		}
		return b.resolution, nil
	}
	b.composeCalls++
	if b.err != nil {
		return "", b.err
	}
	return b.reply, nil
}

type fixedEmotion emotion.Label

func (f fixedEmotion) Classify(context.Context, string) (emotion.Result, error) {
	return emotion.Result{Label: emotion.Label(f), Intensity: 5}, nil
}

type panickyClassifier struct{}

func (panickyClassifier) Classify(context.Context, string) (emotion.Result, error) {
	panic("classifier exploded")
}

type brokenOrderTool struct{}

func (brokenOrderTool) Spec() tools.Spec { return tools.Spec{Name: tools.OrderStatus} }

func (brokenOrderTool) Execute(context.Context, tools.Params) tools.Result {
	return tools.Result{Error: "dial tcp: connection refused"}
}

type queue struct {
	mu      sync.Mutex
	tickets []handoff.Ticket
}

func (q *queue) Enqueue(_ context.Context, t handoff.Ticket) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tickets = append(q.tickets, t)
	return nil
}

type recorder struct {
	records []escalation.Record
}

func (r *recorder) RecordEscalation(_ context.Context, rec escalation.Record) error {
	r.records = append(r.records, rec)
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Composer.MaxRetries = 1
	cfg.Composer.InitialBackoffMs = 1
	cfg.Tools.RetryDelayMs = 1
	return cfg
}

type fixture struct {
	brands *brand.Registry
	store  *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := brand.NewRegistry(t.TempDir(), zerolog.Nop())
	b, err := brand.WriteSample(reg)
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(t.TempDir(), "cx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.SeedBrand(context.Background(), b)
	require.NoError(t, err)
	return &fixture{brands: reg, store: s}
}

func (f *fixture) orchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if opts.Config == nil {
		opts.Config = testConfig()
	}
	if opts.Data == nil && opts.Tools == nil {
		opts.Data = f.store
	}
	o, err := New(f.brands, brand.SampleID, opts)
	require.NoError(t, err)
	return o
}

func send(t *testing.T, o *Orchestrator, text string) (string, Metadata) {
	t.Helper()
	reply, meta := o.ProcessMessage(context.Background(), text, composer.Facts{})
	require.NotEmpty(t, strings.TrimSpace(reply), "empty reply for %q", text)
	return reply, meta
}

func TestNew_UnknownBrandFailsFast(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.brands, "nosuchbrand", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, brand.ErrBrandNotFound)

	_, err = New(nil, brand.SampleID, Options{})
	assert.Error(t, err)
}

func TestProcessMessage_OrderStatus(t *testing.T) {
	f := newFixture(t)
	gen := &backend{reply: shippedReply}
	o := f.orchestrator(t, Options{Generator: gen, SessionID: "s-1"})

	reply, meta := send(t, o, "Where's my order 12345?")

	assert.Equal(t, shippedReply, reply)
	assert.Equal(t, composer.ScenarioOrderStatus, meta.Scenario)
	assert.Equal(t, tools.OrderStatus, meta.ToolUsed)
	assert.True(t, meta.ToolSuccess)
	assert.Equal(t, "s-1", meta.SessionID)
	assert.Equal(t, brand.SampleID, meta.BrandID)
	assert.False(t, meta.Fallback)
	assert.Nil(t, meta.Escalation)
	require.NotNil(t, meta.Quality)

	topic := o.Topic()
	assert.Equal(t, conversation.TopicOrder, topic.Kind)
	assert.Equal(t, "12345", topic.EntityID)
	assert.Equal(t, conversation.ConfidenceExplicit, topic.Confidence)

	history := o.History()
	require.Len(t, history, 2)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
	assert.Equal(t, 0, gen.resolveCalls, "no topic was active, resolver must not be called")
}

func TestProcessMessage_ContextCarryOver(t *testing.T) {
	f := newFixture(t)
	gen := &backend{reply: shippedReply, resolution: continueJSON}
	o := f.orchestrator(t, Options{Generator: gen})

	send(t, o, "Where's my order 12345?")
	_, meta := send(t, o, "why is it late?")

	assert.Equal(t, 1, gen.resolveCalls)
	assert.True(t, meta.TopicMaintained)
	assert.False(t, meta.TopicSwitched)
	assert.Equal(t, tools.OrderStatus, meta.ToolUsed)
	require.NotNil(t, meta.ToolParams)
	assert.Equal(t, "12345", meta.ToolParams.OrderID)
	assert.True(t, meta.ToolSuccess)
	assert.Equal(t, composer.ScenarioFrustratedWithOrder, meta.Scenario)
	assert.Equal(t, "12345", o.Topic().EntityID)
	assert.Equal(t, conversation.ConfidenceInferred, o.Topic().Confidence)
	assert.Equal(t, 1, o.Stats().TopicsMaintained)
}

func TestProcessMessage_TopicSwitch(t *testing.T) {
	f := newFixture(t)
	gen := &backend{reply: "Returns are accepted within 30 days of delivery.", resolution: newTopicJSON}
	o := f.orchestrator(t, Options{Generator: gen})

	send(t, o, "Where's my order 12345?")
	_, meta := send(t, o, "what's your return policy?")

	assert.True(t, meta.TopicSwitched)
	assert.Equal(t, tools.KnowledgeSearch, meta.ToolUsed)
	assert.Equal(t, composer.ScenarioPolicyQuestion, meta.Scenario)
	assert.Equal(t, conversation.TopicPolicy, o.Topic().Kind)
	assert.Equal(t, "returns", o.Topic().EntityID)
	assert.Equal(t, 1, o.Stats().TopicSwitches)
}

func TestProcessMessage_ResolverFailureDropsTopic(t *testing.T) {
	f := newFixture(t)
	gen := &backend{reply: shippedReply}
	o := f.orchestrator(t, Options{Generator: gen})

	send(t, o, "Where's my order 12345?")
	_, meta := send(t, o, "and the other thing")

	require.NotNil(t, meta.Resolution)
	assert.True(t, meta.Resolution.Degraded)
	assert.True(t, meta.Resolution.AboutCurrentTopic)
	assert.Equal(t, 0.5, meta.Resolution.Confidence)
	assert.True(t, meta.TopicSwitched)
	assert.False(t, o.Topic().Active())
}

func TestProcessMessage_ExplicitOrderIDWinsOverTopic(t *testing.T) {
	f := newFixture(t)
	gen := &backend{reply: "Here is the update on your order.", resolution: continueJSON}
	o := f.orchestrator(t, Options{Generator: gen})

	send(t, o, "Where's my order 12345?")
	_, meta := send(t, o, "what about order 12348?")

	require.NotNil(t, meta.ToolParams)
	assert.Equal(t, "12348", meta.ToolParams.OrderID)
	assert.Equal(t, composer.ScenarioDelayExplanation, meta.Scenario)
	assert.Equal(t, "12348", o.Topic().EntityID)
}

func TestProcessMessage_Tier1EscalationSkipsTools(t *testing.T) {
	f := newFixture(t)
	gen := &backend{reply: "should not be used"}
	q := &queue{}
	rec := &recorder{}
	o := f.orchestrator(t, Options{Generator: gen, Handoff: q, Recorder: rec, SessionID: "s-9"})

	reply, meta := send(t, o, "I want a refund for order 12345 and I want to speak to a manager")

	assert.Equal(t, escalation.EscalationMessage(escalation.ReasonRefund), reply)
	assert.Equal(t, composer.ScenarioEscalation, meta.Scenario)
	assert.Empty(t, meta.ToolUsed)
	assert.Equal(t, 0, gen.composeCalls)
	require.True(t, meta.Escalated())
	assert.Equal(t, escalation.TierMandatory, meta.Escalation.Verdict.Tier)

	require.Len(t, q.tickets, 1)
	ticket := q.tickets[0]
	assert.Equal(t, "s-9", ticket.SessionID)
	assert.Equal(t, "12345", ticket.OrderID)
	assert.Equal(t, escalation.ReasonRefund, ticket.Reason)
	require.Len(t, ticket.Transcript, 2)
	assert.Equal(t, reply, ticket.Transcript[1].Content)

	require.Len(t, rec.records, 1)
	assert.Equal(t, meta.Escalation.ID, rec.records[0].ID)
}

func TestProcessMessage_EmpathyBeforeEscalation(t *testing.T) {
	f := newFixture(t)
	gen := &backend{reply: "I'm looking into this for you."}
	q := &queue{}
	o := f.orchestrator(t, Options{Generator: gen, Handoff: q, Classifier: fixedEmotion(emotion.Frustrated)})

	reply, meta := send(t, o, "let me speak to a manager about this")
	require.NotNil(t, meta.Escalation)
	assert.Equal(t, escalation.TierPrevented, meta.Escalation.Verdict.Tier)
	assert.True(t, meta.Escalation.Verdict.PreventEscalation)
	assert.True(t, strings.HasPrefix(reply, escalation.EmpathyMessage(emotion.Frustrated)))
	assert.False(t, meta.Escalated())
	assert.Empty(t, q.tickets)

	reply, meta = send(t, o, "I still want a supervisor for this")
	require.True(t, meta.Escalated())
	assert.Equal(t, escalation.TierCondition, meta.Escalation.Verdict.Tier)
	assert.Equal(t, escalation.ReasonHumanRequest, meta.Escalation.Verdict.Reason)
	assert.Equal(t, escalation.EscalationMessage(escalation.ReasonHumanRequest), reply)
	assert.Len(t, q.tickets, 1)

	stats := o.Stats()
	assert.Equal(t, 2, stats.Escalations.Total)
	assert.Equal(t, 1, stats.Escalations.Prevented)
}

func TestProcessMessage_RepeatedFrustrationEscalates(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Options{Generator: &backend{reply: "I'm sorry about this."}, Classifier: fixedEmotion(emotion.Frustrated)})

	for _, msg := range []string{
		"my package has not arrived yet",
		"I have been waiting all week",
		"nobody has told me anything",
	} {
		_, meta := send(t, o, msg)
		require.Nil(t, meta.Escalation, msg)
	}

	_, meta := send(t, o, "this delivery is taking forever")
	require.True(t, meta.Escalated())
	assert.Equal(t, escalation.TierCondition, meta.Escalation.Verdict.Tier)
	assert.Equal(t, escalation.ReasonRepeatedFrustration, meta.Escalation.Verdict.Reason)
}

func TestProcessMessage_ToolFailuresEscalate(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Options{
		Generator:  &backend{reply: "unused"},
		Classifier: fixedEmotion(emotion.Neutral),
		Tools:      tools.NewRegistry(brokenOrderTool{}),
	})

	reply, meta := send(t, o, "where is order 12345")
	assert.Equal(t, composer.ScenarioToolFailure, meta.Scenario)
	assert.False(t, meta.ToolSuccess)
	assert.Equal(t, string(tools.FailureConnection), meta.ToolError)
	assert.Contains(t, reply, "trouble accessing")

	send(t, o, "track order 12346")

	_, meta = send(t, o, "status of order 12347")
	require.NotNil(t, meta.Escalation)
	assert.Equal(t, escalation.TierPrevented, meta.Escalation.Verdict.Tier)

	_, meta = send(t, o, "any news on order 12349")
	require.True(t, meta.Escalated())
	assert.Equal(t, escalation.ReasonToolFailures, meta.Escalation.Verdict.Reason)
	assert.Equal(t, 3, o.Stats().ToolFailures[tools.OrderStatus])
}

// pickyShippingTool rejects every call as if the pincode were malformed.
type pickyShippingTool struct{}

func (pickyShippingTool) Spec() tools.Spec { return tools.Spec{Name: tools.ShippingCheck} }

func (pickyShippingTool) Execute(context.Context, tools.Params) tools.Result {
	return tools.Result{Tool: tools.ShippingCheck, Error: tools.ErrInvalidParams.Error() + ": pincode must be 6 digits"}
}

func TestProcessMessage_ShippingQuestionsWithoutPincode(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Options{Generator: llm.Unavailable{}, Classifier: fixedEmotion(emotion.Neutral)})

	for _, msg := range []string{
		"Do you offer cash on delivery?",
		"Is COD available for my area?",
		"Which pincode areas do you deliver to?",
		"Can I pay with cash on delivery please?",
	} {
		reply, meta := send(t, o, msg)
		assert.Nil(t, meta.Escalation, msg)
		assert.Equal(t, tools.ShippingCheck, meta.ToolUsed, msg)
		assert.True(t, meta.ToolSuccess, msg)
		assert.Equal(t, composer.ScenarioShippingInfo, meta.Scenario, msg)
		assert.Contains(t, reply, "cash on delivery is available", msg)
		assert.Contains(t, reply, "pincode", msg)
	}
	assert.Zero(t, o.Stats().ToolFailures[tools.ShippingCheck])
	assert.Zero(t, o.Stats().Escalations.Total)
}

func TestProcessMessage_InvalidToolInputAsksForClarification(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Options{
		Generator:  &backend{reply: "unused"},
		Classifier: fixedEmotion(emotion.Neutral),
		Tools:      tools.NewRegistry(pickyShippingTool{}),
	})

	for _, msg := range []string{
		"can you ship to my town",
		"is cod possible for me",
		"what about delivery to my village",
		"is my area serviceable",
	} {
		reply, meta := send(t, o, msg)
		assert.Nil(t, meta.Escalation, msg)
		assert.Equal(t, composer.ScenarioClarification, meta.Scenario, msg)
		assert.False(t, meta.ToolSuccess, msg)
		assert.Contains(t, reply, "6-digit pincode", msg)
		assert.NotContains(t, reply, "trouble accessing", msg)
	}

	stats := o.Stats()
	assert.Zero(t, stats.ToolFailures[tools.ShippingCheck])
	assert.Equal(t, 4, stats.ToolCalls[tools.ShippingCheck])
	assert.Equal(t, 4, stats.Clarifications)
	assert.Zero(t, stats.Escalations.Total)
}

func TestProcessMessage_ConversationLoop(t *testing.T) {
	f := newFixture(t)
	gen := &backend{reply: "Returns are accepted within 30 days of delivery.", resolution: continueJSON}
	o := f.orchestrator(t, Options{Generator: gen, Classifier: fixedEmotion(emotion.Neutral)})

	const question = "can you explain the return policy"
	_, meta := send(t, o, question)
	assert.Equal(t, 1, meta.LoopCount)

	reply, meta := send(t, o, question)
	assert.Equal(t, 2, meta.LoopCount)
	assert.True(t, strings.HasPrefix(reply, rephraseLead), reply)

	reply, meta = send(t, o, "Can you explain the return policy?")
	assert.Equal(t, 3, meta.LoopCount)
	require.True(t, meta.Escalated())
	assert.Equal(t, escalation.ReasonConversationLoop, meta.Escalation.Verdict.Reason)
	assert.Equal(t, escalation.EscalationMessage(escalation.ReasonConversationLoop), reply)
	assert.Equal(t, 2, o.Stats().LoopsDetected)
}

func TestProcessMessage_GenerationFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	gen := &backend{err: llm.Transient(context.DeadlineExceeded)}
	o := f.orchestrator(t, Options{Generator: gen})

	reply, meta := send(t, o, "Where's my order 12345?")
	assert.True(t, meta.Fallback)
	assert.NotEmpty(t, meta.FallbackReason)
	assert.Contains(t, reply, "#12345")
	assert.Contains(t, reply, "BD784512369IN")
	assert.Equal(t, 2, gen.composeCalls, "one retry after the first failure")
	assert.Equal(t, 1, o.Stats().Fallbacks)
}

func TestProcessMessage_PriorFacts(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Options{Classifier: fixedEmotion(emotion.Neutral)})

	prior := composer.Facts{Order: &store.Order{OrderID: "12350", Status: "processing"}}
	reply, meta := o.ProcessMessage(context.Background(), "thanks for the update", prior)
	assert.Equal(t, composer.ScenarioOrderStatus, meta.Scenario)
	assert.Empty(t, meta.ToolUsed)
	assert.Contains(t, reply, "#12350")

	low := 0.3
	_, meta = o.ProcessMessage(context.Background(), "okay then", composer.Facts{Confidence: &low})
	require.NotNil(t, meta.Escalation)
	assert.Equal(t, escalation.TierPrevented, meta.Escalation.Verdict.Tier)
}

func TestProcessMessage_Shipping(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Options{})

	reply, meta := send(t, o, "Do you deliver to pincode 400001?")
	assert.Equal(t, tools.ShippingCheck, meta.ToolUsed)
	assert.True(t, meta.ToolSuccess)
	assert.Equal(t, composer.ScenarioShippingInfo, meta.Scenario)
	assert.True(t, meta.Fallback, "no generator configured")
	assert.Contains(t, reply, "400001")
}

func TestProcessMessage_Clarification(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Options{})

	reply, meta := send(t, o, "   ")
	assert.Equal(t, emptyInputReply, reply)
	assert.Equal(t, composer.ScenarioClarification, meta.Scenario)
	assert.Nil(t, meta.Escalation)
	assert.Empty(t, meta.ToolUsed)

	reply, _ = send(t, o, "😀😀😀 !!!")
	assert.Equal(t, unreadableInputReply, reply)

	stats := o.Stats()
	assert.Equal(t, 2, stats.Clarifications)
	assert.Equal(t, 2, stats.Messages)
	assert.Empty(t, stats.Emotions)

	history := o.History()
	require.Len(t, history, 3)
	assert.Equal(t, llm.RoleAssistant, history[0].Role)
}

func TestProcessMessage_NeverFails(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Options{Generator: &backend{err: llm.Permanent(errors.New("invalid api key"))}})

	corpus := []string{
		"",
		strings.Repeat("a", 5000),
		"😀🎉🔥",
		"'; DROP TABLE orders; --",
		"Robert'); DELETE FROM policies WHERE 1=1; -- return policy?",
		"我的订单 12345 где мой заказ? कहाँ है",
		"<script>alert(1)</script>",
		"\x00\x01\x02",
		"order 99999999 status",
		"AND OR NOT NEAR \"return\"*",
	}
	for _, in := range corpus {
		reply, meta := o.ProcessMessage(context.Background(), in, composer.Facts{})
		assert.NotEmpty(t, strings.TrimSpace(reply), "input %q", in)
		assert.NotEmpty(t, meta.Scenario, "input %q", in)
	}

	for _, m := range o.History() {
		assert.LessOrEqual(t, len([]rune(m.Content)), MaxInputRunes)
	}
}

func TestProcessMessage_TruncatesLongInput(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Options{})

	_, meta := send(t, o, strings.Repeat("where is my parcel ", 300))
	assert.True(t, meta.Truncated)
	history := o.History()
	assert.Len(t, []rune(history[0].Content), MaxInputRunes)
}

func TestProcessMessage_RecoversFromPanic(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Options{Classifier: panickyClassifier{}})

	reply, meta := o.ProcessMessage(context.Background(), "hello there", composer.Facts{})
	assert.Equal(t, internalErrorReply, reply)
	assert.True(t, meta.Fallback)
	assert.Equal(t, brand.SampleID, meta.BrandID)

	// The lock was released.
	assert.Equal(t, 0, o.Stats().Messages)
}

func TestProcessMessage_Metrics(t *testing.T) {
	f := newFixture(t)
	m := metrics.New()
	o := f.orchestrator(t, Options{Generator: &backend{reply: shippedReply}, Metrics: m})

	send(t, o, "Where's my order 12345?")
	send(t, o, "I want my money back")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues(brand.SampleID, tools.OrderStatus, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues(brand.SampleID, string(composer.ScenarioOrderStatus))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Escalations.WithLabelValues(brand.SampleID, "1", string(escalation.ReasonRefund))))
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Options{Generator: &backend{reply: shippedReply}})

	send(t, o, "Where's my order 12345?")
	require.True(t, o.Topic().Active())

	o.Reset()
	assert.False(t, o.Topic().Active())
	assert.Empty(t, o.History())
	assert.Equal(t, 1, o.Stats().Messages)
}

func TestStats_Snapshot(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Options{Generator: &backend{reply: shippedReply}, Classifier: fixedEmotion(emotion.Neutral)})

	send(t, o, "Where's my order 12345?")
	stats := o.Stats()
	stats.ToolCalls[tools.OrderStatus] = 99

	fresh := o.Stats()
	assert.Equal(t, 1, fresh.ToolCalls[tools.OrderStatus])
	assert.Equal(t, 1, fresh.Emotions[emotion.Neutral])
	assert.Equal(t, 2, fresh.Memory.Messages)
	assert.NotZero(t, fresh.Quality.Overall)
}

func TestOrchestrators_MultiTenantConcurrent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	reg := brand.NewRegistry(t.TempDir(), zerolog.Nop())
	sample, err := brand.WriteSample(reg)
	require.NoError(t, err)
	require.NoError(t, reg.Register(&brand.Brand{ID: "techmart", Industry: "technology", Voice: brand.Voice{Tone: "professional", EmojiUsage: "none"}}))
	require.NoError(t, reg.Register(&brand.Brand{ID: "healthplus", Industry: "food_health", Voice: brand.Voice{Tone: "caring"}}))

	s, err := store.Open(filepath.Join(t.TempDir(), "cx.db"))
	require.NoError(t, err)
	defer s.Close()
	_, err = s.SeedBrand(context.Background(), sample)
	require.NoError(t, err)

	messages := []string{
		"Where's my order 12345?",
		"what's your return policy?",
		"Do you deliver to pincode 560001?",
		"thanks, that helps",
	}

	ids := []string{"fashionhub", "techmart", "healthplus"}
	results := make([]Stats, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := New(reg, id, Options{Config: testConfig(), Data: s, Generator: &backend{reply: "Happy to help with that."}})
			if !assert.NoError(t, err) {
				return
			}
			for _, msg := range messages {
				reply, meta := o.ProcessMessage(context.Background(), msg, composer.Facts{})
				assert.NotEmpty(t, reply)
				assert.Equal(t, id, meta.BrandID)
			}
			results[i] = o.Stats()
		}()
	}
	wg.Wait()

	for i, id := range ids {
		assert.Equal(t, id, results[i].BrandID)
		assert.Equal(t, len(messages), results[i].Messages)
	}
	// Orders are brand scoped: only the sample brand has order 12345.
	assert.Equal(t, 1, results[0].ToolCalls[tools.OrderStatus])
	assert.Zero(t, results[0].ToolFailures[tools.OrderStatus])
	assert.Equal(t, 1, results[1].ToolFailures[tools.OrderStatus])
}
