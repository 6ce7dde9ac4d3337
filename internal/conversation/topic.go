package conversation

import (
	"errors"
	"fmt"
	"time"
)

type TopicKind string

const (
	TopicNone    TopicKind = "none"
	TopicOrder   TopicKind = "order"
	TopicPolicy  TopicKind = "policy"
	TopicGeneral TopicKind = "general"
)

type Confidence string

const (
	ConfidenceNone     Confidence = "none"
	ConfidenceExplicit Confidence = "explicit"
	ConfidenceInferred Confidence = "inferred"
)

var ErrInvalidTopic = errors.New("invalid topic")

// Topic is the subject the customer is currently talking about. The zero
// value is the empty topic.
type Topic struct {
	Kind          TopicKind  `json:"kind"`
	EntityID      string     `json:"entity_id,omitempty"`
	Confidence    Confidence `json:"confidence"`
	Reason        string     `json:"reason,omitempty"`
	EstablishedAt time.Time  `json:"established_at,omitempty"`
}

func (t Topic) Active() bool {
	return t.Kind != "" && t.Kind != TopicNone
}

func (t Topic) IsOrderTopic() bool {
	return t.Kind == TopicOrder && t.EntityID != ""
}

func (t Topic) IsExplicit() bool {
	return t.Confidence == ConfidenceExplicit
}

func (t Topic) String() string {
	if !t.Active() {
		return "none"
	}
	if t.EntityID == "" {
		return string(t.Kind)
	}
	return fmt.Sprintf("%s:%s", t.Kind, t.EntityID)
}

// TopicState holds exactly one topic. Every update replaces all fields.
type TopicState struct {
	current Topic
	now     func() time.Time
}

func NewTopicState() *TopicState {
	return &TopicState{current: Topic{Kind: TopicNone, Confidence: ConfidenceNone}, now: time.Now}
}

func (s *TopicState) Set(kind TopicKind, entityID string, confidence Confidence, reason string) error {
	if kind == TopicNone || kind == "" {
		return fmt.Errorf("%w: use Clear to drop the topic", ErrInvalidTopic)
	}
	if confidence == ConfidenceNone || confidence == "" {
		return fmt.Errorf("%w: active topic needs a confidence", ErrInvalidTopic)
	}
	s.current = Topic{
		Kind:          kind,
		EntityID:      entityID,
		Confidence:    confidence,
		Reason:        reason,
		EstablishedAt: s.now(),
	}
	return nil
}

func (s *TopicState) Clear() {
	s.current = Topic{Kind: TopicNone, Confidence: ConfidenceNone}
}

func (s *TopicState) Current() Topic { return s.current }

func (s *TopicState) IsOrderTopic() bool { return s.current.IsOrderTopic() }
