// Package handoff queues escalated conversations for human agents.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stellarlinkco/cxagent/internal/escalation"
)

const DefaultPrefix = "cx:handoff"

// Line is one transcript entry carried on a ticket.
type Line struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Ticket is what a human agent picks up.
type Ticket struct {
	ID         string             `json:"id"`
	BrandID    string             `json:"brand_id"`
	SessionID  string             `json:"session_id"`
	Tier       escalation.Tier    `json:"tier"`
	Reason     escalation.Reason  `json:"reason"`
	Urgency    escalation.Urgency `json:"urgency"`
	Message    string             `json:"message"`
	OrderID    string             `json:"order_id,omitempty"`
	Transcript []Line             `json:"transcript,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// NewTicket builds a ticket from an escalation record.
func NewTicket(rec escalation.Record, orderID string, transcript []Line) Ticket {
	return Ticket{
		ID:         rec.ID,
		BrandID:    rec.BrandID,
		SessionID:  rec.SessionID,
		Tier:       rec.Verdict.Tier,
		Reason:     rec.Verdict.Reason,
		Urgency:    rec.Verdict.Urgency,
		Message:    rec.Message,
		OrderID:    orderID,
		Transcript: transcript,
		CreatedAt:  rec.CreatedAt,
	}
}

type Queue interface {
	Enqueue(ctx context.Context, t Ticket) error
}

// Nop discards tickets. Used when handoff is disabled.
type Nop struct{}

func (Nop) Enqueue(context.Context, Ticket) error { return nil }

// RedisQueue keeps one list per brand, oldest ticket first.
type RedisQueue struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisQueue{client: client, prefix: prefix}
}

// Dial connects to addr and checks the server answers.
func Dial(ctx context.Context, addr string, db int, prefix string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedisQueue(client, prefix), nil
}

func (q *RedisQueue) key(brandID string) string {
	return q.prefix + ":" + brandID
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Ticket) error {
	if t.BrandID == "" {
		return errors.New("ticket has no brand")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}
	if err := q.client.RPush(ctx, q.key(t.BrandID), data).Err(); err != nil {
		return fmt.Errorf("enqueue ticket: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pending(ctx context.Context, brandID string) (int64, error) {
	n, err := q.client.LLen(ctx, q.key(brandID)).Result()
	if err != nil {
		return 0, fmt.Errorf("pending tickets: %w", err)
	}
	return n, nil
}

// Next pops the oldest ticket. ok is false when the queue is empty.
func (q *RedisQueue) Next(ctx context.Context, brandID string) (t Ticket, ok bool, err error) {
	data, err := q.client.LPop(ctx, q.key(brandID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Ticket{}, false, nil
	}
	if err != nil {
		return Ticket{}, false, fmt.Errorf("next ticket: %w", err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return Ticket{}, false, fmt.Errorf("decode ticket: %w", err)
	}
	return t, true, nil
}

// Peek lists up to n tickets without removing them.
func (q *RedisQueue) Peek(ctx context.Context, brandID string, n int64) ([]Ticket, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := q.client.LRange(ctx, q.key(brandID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("peek tickets: %w", err)
	}
	out := make([]Ticket, 0, len(items))
	for _, item := range items {
		var t Ticket
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
