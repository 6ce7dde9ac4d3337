package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

func (s *Store) UpsertOrder(ctx context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertOrder(ctx, s.db, o)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertOrder(ctx context.Context, db execer, o Order) error {
	items, err := json.Marshal(nonNil(o.Items))
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO orders (brand_id, order_id, customer_name, status, items, total, carrier,
		                    tracking_number, estimated_delivery, delay_reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(brand_id, order_id) DO UPDATE SET
			customer_name = excluded.customer_name,
			status = excluded.status,
			items = excluded.items,
			total = excluded.total,
			carrier = excluded.carrier,
			tracking_number = excluded.tracking_number,
			estimated_delivery = excluded.estimated_delivery,
			delay_reason = excluded.delay_reason,
			updated_at = excluded.updated_at
	`, o.BrandID, o.OrderID, o.CustomerName, o.Status, string(items), o.Total, o.Carrier,
		o.TrackingNumber, o.EstimatedDelivery, o.DelayReason, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.OrderID, err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, brandID, orderID string) (*Order, error) {
	var (
		o         Order
		items     string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT brand_id, order_id, customer_name, status, items, total, carrier,
		       tracking_number, estimated_delivery, delay_reason, updated_at
		FROM orders WHERE brand_id = ? AND order_id = ?
	`, brandID, orderID).Scan(&o.BrandID, &o.OrderID, &o.CustomerName, &o.Status, &items, &o.Total,
		&o.Carrier, &o.TrackingNumber, &o.EstimatedDelivery, &o.DelayReason, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("decode items for order %s: %w", orderID, err)
	}
	o.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &o, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
