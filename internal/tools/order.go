package tools

import (
	"context"
	"strings"

	"github.com/stellarlinkco/cxagent/internal/store"
)

type OrderSource interface {
	GetOrder(ctx context.Context, brandID, orderID string) (*store.Order, error)
}

type OrderTool struct {
	brandID string
	orders  OrderSource
}

func NewOrderTool(brandID string, orders OrderSource) *OrderTool {
	return &OrderTool{brandID: brandID, orders: orders}
}

func (t *OrderTool) Spec() Spec {
	return Spec{
		Name:        OrderStatus,
		Description: "Look up the status, items and tracking details of an order",
		Params:      []string{"order_id"},
	}
}

func (t *OrderTool) Execute(ctx context.Context, p Params) Result {
	id := strings.TrimPrefix(strings.TrimSpace(p.OrderID), "#")
	if id == "" {
		return invalid(OrderStatus, "order_id is required")
	}
	o, err := t.orders.GetOrder(ctx, t.brandID, id)
	if err != nil {
		return fail(OrderStatus, err)
	}
	return ok(OrderStatus, o)
}
