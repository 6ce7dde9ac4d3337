package store

import (
	"context"
	"fmt"
	"time"

	"github.com/stellarlinkco/cxagent/internal/escalation"
)

// RecordEscalation appends a verdict to the persistent escalation log.
func (s *Store) RecordEscalation(ctx context.Context, rec escalation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevented := 0
	if rec.Verdict.PreventEscalation {
		prevented = 1
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalations (id, brand_id, session_id, tier, reason, urgency, prevented, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.BrandID, rec.SessionID, int(rec.Verdict.Tier), string(rec.Verdict.Reason),
		string(rec.Verdict.Urgency), prevented, rec.Message, createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record escalation: %w", err)
	}
	return nil
}

// EscalationStats aggregates the persisted log for one brand, or all brands
// when brandID is empty.
func (s *Store) EscalationStats(ctx context.Context, brandID string) (escalation.Stats, error) {
	query := `SELECT tier, reason, prevented, COUNT(*) FROM escalations`
	var args []any
	if brandID != "" {
		query += ` WHERE brand_id = ?`
		args = append(args, brandID)
	}
	query += ` GROUP BY tier, reason, prevented`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return escalation.Stats{}, fmt.Errorf("escalation stats: %w", err)
	}
	defer rows.Close()

	st := escalation.Stats{ByTier: map[escalation.Tier]int{}, ByReason: map[escalation.Reason]int{}}
	for rows.Next() {
		var (
			tier, prevented, n int
			reason             string
		)
		if err := rows.Scan(&tier, &reason, &prevented, &n); err != nil {
			return escalation.Stats{}, fmt.Errorf("scan escalation stats: %w", err)
		}
		st.Total += n
		st.ByTier[escalation.Tier(tier)] += n
		st.ByReason[escalation.Reason(reason)] += n
		if prevented == 1 {
			st.Prevented += n
		}
	}
	if err := rows.Err(); err != nil {
		return escalation.Stats{}, fmt.Errorf("iterate escalation stats: %w", err)
	}
	if st.Total > 0 {
		st.PreventionRate = float64(st.Prevented) / float64(st.Total)
	}
	return st, nil
}
