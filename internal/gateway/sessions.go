package gateway

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stellarlinkco/cxagent/internal/composer"
	"github.com/stellarlinkco/cxagent/internal/metrics"
	"github.com/stellarlinkco/cxagent/internal/orchestrator"
)

// Conversation is the part of an orchestrator a session drives.
type Conversation interface {
	ProcessMessage(ctx context.Context, text string, prior composer.Facts) (string, orchestrator.Metadata)
	Stats() orchestrator.Stats
}

// Factory starts the conversation behind a new session.
type Factory func(sessionKey, brandID string) (Conversation, error)

// Done receives the outcome of a queued turn.
type Done func(reply string, meta orchestrator.Metadata)

type pendingTurn struct {
	ctx  context.Context
	text string
	done Done
}

// session holds one conversation and its turns in arrival order. A single
// drain goroutine runs while the queue is non-empty.
type session struct {
	conv       Conversation
	brandID    string
	lastActive time.Time
	queue      *list.List
	draining   bool
	// inFlight counts queued turns plus the one being answered.
	inFlight int
}

// Sessions maps session keys to conversations. Different sessions run in
// parallel; messages within a session are answered one at a time, in order.
type Sessions struct {
	factory Factory
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewSessions(factory Factory, m *metrics.Metrics) *Sessions {
	return &Sessions{
		factory:  factory,
		metrics:  m,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Submit queues text on the session key, creating the session for brandID
// on first contact, and returns without waiting. Turns of one session are
// answered in the order they were submitted; done runs once per turn.
func (s *Sessions) Submit(ctx context.Context, key, brandID, text string, done Done) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		conv, err := s.factory(key, brandID)
		if err != nil {
			return fmt.Errorf("start session %s: %w", key, err)
		}
		sess = &session{conv: conv, brandID: brandID, queue: list.New()}
		s.sessions[key] = sess
		s.metrics.SetActiveSessions(len(s.sessions))
	}
	sess.queue.PushBack(pendingTurn{ctx: ctx, text: text, done: done})
	sess.inFlight++
	sess.lastActive = s.now()
	if !sess.draining {
		sess.draining = true
		go s.drain(sess)
	}
	return nil
}

func (s *Sessions) drain(sess *session) {
	for {
		s.mu.Lock()
		front := sess.queue.Front()
		if front == nil {
			sess.draining = false
			s.mu.Unlock()
			return
		}
		turn := sess.queue.Remove(front).(pendingTurn)
		s.mu.Unlock()

		reply, meta := sess.conv.ProcessMessage(turn.ctx, turn.text, composer.Facts{})

		s.mu.Lock()
		sess.inFlight--
		sess.lastActive = s.now()
		s.mu.Unlock()

		if turn.done != nil {
			turn.done(reply, meta)
		}
	}
}

// Handle answers text within the session key and waits for the reply.
func (s *Sessions) Handle(ctx context.Context, key, brandID, text string) (string, orchestrator.Metadata, error) {
	type outcome struct {
		reply string
		meta  orchestrator.Metadata
	}
	ch := make(chan outcome, 1)
	err := s.Submit(ctx, key, brandID, text, func(reply string, meta orchestrator.Metadata) {
		ch <- outcome{reply, meta}
	})
	if err != nil {
		return "", orchestrator.Metadata{}, err
	}
	out := <-ch
	return out.reply, out.meta, nil
}

// Sweep drops sessions idle for longer than idle and returns how many went.
// Sessions with a turn in progress are kept.
func (s *Sessions) Sweep(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	removed := 0
	for key, sess := range s.sessions {
		if sess.inFlight == 0 && sess.lastActive.Before(cutoff) {
			delete(s.sessions, key)
			removed++
		}
	}
	if removed > 0 {
		s.metrics.SetActiveSessions(len(s.sessions))
	}
	return removed
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Summary aggregates counters across live sessions.
type Summary struct {
	Sessions      int            `json:"sessions"`
	ByBrand       map[string]int `json:"sessions_by_brand"`
	Messages      int            `json:"messages"`
	Escalations   int            `json:"escalations"`
	Prevented     int            `json:"prevented"`
	Fallbacks     int            `json:"fallbacks"`
	LoopsDetected int            `json:"loops_detected"`
}

func (s *Sessions) Summary() Summary {
	s.mu.Lock()
	convs := make([]Conversation, 0, len(s.sessions))
	sum := Summary{Sessions: len(s.sessions), ByBrand: make(map[string]int)}
	for _, sess := range s.sessions {
		convs = append(convs, sess.conv)
		sum.ByBrand[sess.brandID]++
	}
	s.mu.Unlock()

	for _, c := range convs {
		st := c.Stats()
		sum.Messages += st.Messages
		sum.Escalations += st.Escalations.Total
		sum.Prevented += st.Escalations.Prevented
		sum.Fallbacks += st.Fallbacks
		sum.LoopsDetected += st.LoopsDetected
	}
	return sum
}
