package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type CommissionType string

const (
	CommissionPercentage CommissionType = "percentage"
	CommissionFixed      CommissionType = "fixed"
)

type DiscountCode struct {
	bun.BaseModel `bun:"table:discount_codes"`

	DiscountCodeID  string          `bun:"discount_code_id,pk" json:"discount_code_id"`
	Code            string          `bun:"code" json:"code"`
	IsActive        bool            `bun:"is_active" json:"is_active"`
	ValidFrom       *time.Time      `bun:"valid_from,nullzero" json:"valid_from,omitempty"`
	ValidUntil      *time.Time      `bun:"valid_until,nullzero" json:"valid_until,omitempty"`
	UsageCount      int             `bun:"usage_count" json:"usage_count"`
	MaxUsage        int             `bun:"max_usage" json:"max_usage"`
	InfluencerID    *string         `bun:"influencer_id,nullzero" json:"influencer_id,omitempty"`
	CommissionType  CommissionType  `bun:"commission_type,nullzero" json:"commission_type,omitempty"`
	CommissionValue decimal.Decimal `bun:"commission_value,type:decimal(12,2)" json:"commission_value"`
	CreatedAt       time.Time       `bun:"created_at" json:"created_at"`
}

// ExpiredAt reports whether the code's validity window has closed at the given
// instant. A code with no valid_until never expires on its own.
func (d *DiscountCode) ExpiredAt(now time.Time) bool {
	return d.ValidUntil != nil && d.ValidUntil.Before(now)
}

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionPaid      CommissionStatus = "paid"
	CommissionCancelled CommissionStatus = "cancelled"
)

type Commission struct {
	bun.BaseModel `bun:"table:commissions"`

	CommissionID        string           `bun:"commission_id,pk" json:"commission_id"`
	OrderID             string           `bun:"order_id" json:"order_id"`
	DiscountCodeID      string           `bun:"discount_code_id" json:"discount_code_id"`
	CommissionAmount    decimal.Decimal  `bun:"commission_amount,type:decimal(12,2)" json:"commission_amount"`
	CommissionRate      decimal.Decimal  `bun:"commission_rate,type:decimal(8,4)" json:"commission_rate"`
	Status              CommissionStatus `bun:"status" json:"status"`
	InfluencerPaymentID *string          `bun:"influencer_payment_id,nullzero" json:"influencer_payment_id,omitempty"`
	CreatedAt           time.Time        `bun:"created_at" json:"created_at"`
}
