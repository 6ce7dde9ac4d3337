package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/cxagent/internal/conversation"
	"github.com/stellarlinkco/cxagent/internal/llm"
)

var orderTopic = conversation.Topic{
	Kind:       conversation.TopicOrder,
	EntityID:   "12345",
	Confidence: conversation.ConfidenceExplicit,
	Reason:     "order lookup",
}

func TestResolve_NoTopicSkipsRemoteCall(t *testing.T) {
	called := false
	r := New(llm.GeneratorFunc(func(context.Context, llm.Request) (string, error) {
		called = true
		return "", nil
	}), Options{})

	res := r.Resolve(context.Background(), "hello", conversation.Topic{Kind: conversation.TopicNone})
	assert.False(t, called)
	assert.Equal(t, NoTopic, res)
	assert.False(t, res.Continues(DefaultContinueThreshold))
}

func TestResolve_BuildsConstrainedRequest(t *testing.T) {
	var got llm.Request
	r := New(llm.GeneratorFunc(func(_ context.Context, req llm.Request) (string, error) {
		got = req
		return `{"about_current_topic": true, "confidence": 0.92, "ambiguous": false, "suggested_action": "continue"}`, nil
	}), Options{})

	res := r.Resolve(context.Background(), "why is it late?", orderTopic)
	assert.True(t, res.Continues(DefaultContinueThreshold))
	assert.Equal(t, ActionContinue, res.SuggestedAction)

	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.3, *got.Temperature)
	assert.Equal(t, 150, got.MaxTokens)
	assert.Contains(t, got.System, "context resolution")
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, "Entity: 12345")
	assert.Contains(t, got.Messages[0].Content, `"why is it late?"`)
}

func TestResolve_FailureDefaultsToLowConfidenceContinuation(t *testing.T) {
	r := New(llm.GeneratorFunc(func(context.Context, llm.Request) (string, error) {
		return "", errors.New("503 service unavailable")
	}), Options{})

	res := r.Resolve(context.Background(), "and the other one?", orderTopic)
	assert.True(t, res.AboutCurrentTopic)
	assert.Equal(t, 0.5, res.Confidence)
	assert.True(t, res.Ambiguous)
	assert.Equal(t, ActionClarify, res.SuggestedAction)
	assert.False(t, res.Continues(DefaultContinueThreshold))
}

func TestResolve_Timeout(t *testing.T) {
	r := New(llm.GeneratorFunc(func(ctx context.Context, _ llm.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), Options{Timeout: 10 * time.Millisecond})

	res := r.Resolve(context.Background(), "where is it", orderTopic)
	assert.True(t, res.Degraded)
}

func TestResolve_NilGenerator(t *testing.T) {
	res := New(nil, Options{}).Resolve(context.Background(), "eta?", orderTopic)
	assert.True(t, res.Degraded)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Resolution
	}{
		{
			name: "plain json",
			in:   `{"about_current_topic": false, "confidence": 0.9, "ambiguous": false, "suggested_action": "new_topic", "reasoning": "policy question"}`,
			want: Resolution{Confidence: 0.9, SuggestedAction: ActionNewTopic, Reasoning: "policy question"},
		},
		{
			name: "json fence",
			in:   "```json\n{\"about_current_topic\": true, \"confidence\": 0.8}\n```",
			want: Resolution{AboutCurrentTopic: true, Confidence: 0.8, SuggestedAction: ActionClarify},
		},
		{
			name: "bare fence with prose",
			in:   "Here you go:\n```\n{\"about_current_topic\": true, \"confidence\": 1.7}\n```",
			want: Resolution{AboutCurrentTopic: true, Confidence: 1, SuggestedAction: ActionClarify},
		},
		{
			name: "missing confidence",
			in:   `{"about_current_topic": true}`,
			want: Resolution{AboutCurrentTopic: true, Confidence: 0.5, SuggestedAction: ActionClarify},
		},
		{
			name: "prose yes",
			in:   "Yes, this is related to the order.",
			want: Resolution{AboutCurrentTopic: true, Confidence: 0.6, Ambiguous: true, SuggestedAction: ActionClarify, Reasoning: "fallback parsing", Degraded: true},
		},
		{
			name: "prose no",
			in:   "No. Different subject.",
			want: Resolution{Confidence: 0.6, Ambiguous: true, SuggestedAction: ActionClarify, Reasoning: "fallback parsing", Degraded: true},
		},
		{
			name: "json array is not an answer",
			in:   `[1, 2]`,
			want: Resolution{Confidence: 0.6, Ambiguous: true, SuggestedAction: ActionClarify, Reasoning: "fallback parsing", Degraded: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.in))
		})
	}
}
