package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one non-trivial verdict tied to a conversation.
type Record struct {
	ID        string    `json:"id"`
	BrandID   string    `json:"brand_id"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Verdict   Verdict   `json:"verdict"`
	CreatedAt time.Time `json:"created_at"`
}

func NewRecord(brandID, sessionID, message string, v Verdict, at time.Time) Record {
	return Record{
		ID:        uuid.NewString(),
		BrandID:   brandID,
		SessionID: sessionID,
		Message:   message,
		Verdict:   v,
		CreatedAt: at,
	}
}

// Recorder persists records outside the process, e.g. the sqlite store.
type Recorder interface {
	RecordEscalation(ctx context.Context, rec Record) error
}

type Stats struct {
	Total          int            `json:"total_escalations"`
	ByTier         map[Tier]int   `json:"by_tier"`
	ByReason       map[Reason]int `json:"by_reason"`
	Prevented      int            `json:"prevented"`
	PreventionRate float64        `json:"prevention_rate"`
}

// Log is an append-only, in-memory escalation log.
type Log struct {
	mu      sync.Mutex
	records []Record
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Summarize(l.records)
}

// Summarize computes stats over any set of records. Prevented verdicts count
// towards the total so the prevention rate reads as prevented/attempted.
func Summarize(records []Record) Stats {
	s := Stats{ByTier: map[Tier]int{}, ByReason: map[Reason]int{}}
	for _, r := range records {
		s.Total++
		s.ByTier[r.Verdict.Tier]++
		s.ByReason[r.Verdict.Reason]++
		if r.Verdict.PreventEscalation {
			s.Prevented++
		}
	}
	if s.Total > 0 {
		s.PreventionRate = float64(s.Prevented) / float64(s.Total)
	}
	return s
}
