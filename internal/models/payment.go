package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentApproved  PaymentStatus = "approved"
	PaymentRejected  PaymentStatus = "rejected"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Terminal reports whether the payment status is final. A terminal status is
// never reopened by a later pending/in_process notification.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentApproved, PaymentRejected, PaymentCancelled, PaymentRefunded:
		return true
	}
	return false
}

type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	PaymentID            string        `bun:"payment_id,pk" json:"payment_id"`
	OrderID              string        `bun:"order_id" json:"order_id"`
	Status               PaymentStatus `bun:"status" json:"status"`
	Amount               float64       `bun:"amount" json:"amount"`
	Currency             string        `bun:"currency" json:"currency"`
	MercadoPagoPaymentID string        `bun:"mercado_pago_payment_id,nullzero" json:"mercado_pago_payment_id,omitempty"`
	PreferenceID         string        `bun:"preference_id,nullzero" json:"preference_id,omitempty"`
	CreatedAt            time.Time     `bun:"created_at" json:"created_at"`
	UpdatedAt            time.Time     `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}
