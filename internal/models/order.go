package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID        string      `bun:"order_id,pk" json:"order_id"`
	Status         OrderStatus `bun:"status" json:"status"`
	Subtotal       float64     `bun:"subtotal" json:"subtotal"`
	Discount       float64     `bun:"discount" json:"discount"`
	ShippingCost   float64     `bun:"shipping_cost" json:"shipping_cost"`
	Total          float64     `bun:"total" json:"total"`
	DiscountCodeID *string     `bun:"discount_code_id,nullzero" json:"discount_code_id,omitempty"`
	CreatedAt      time.Time   `bun:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// orderTransitions is the closed set of allowed order status moves. Webhook
// reconciliation only ever drives pending->paid and pending->cancelled;
// shipped/delivered belong to fulfillment.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderPaid, OrderCancelled},
	OrderPaid:    {OrderShipped, OrderDelivered},
	OrderShipped: {OrderDelivered},
}

// CanTransitionTo reports whether moving from the current status to target is
// an allowed order state machine transition. Same-status moves are not
// transitions and return false.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}
