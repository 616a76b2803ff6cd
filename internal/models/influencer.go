package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type Influencer struct {
	bun.BaseModel `bun:"table:influencers"`

	InfluencerID     string    `bun:"influencer_id,pk" json:"influencer_id"`
	Name             string    `bun:"name" json:"name"`
	Email            string    `bun:"email" json:"email"`
	PaymentMethod    string    `bun:"payment_method,nullzero" json:"payment_method,omitempty"`
	BankAccount      string    `bun:"bank_account,nullzero" json:"bank_account,omitempty"`
	MercadoPagoEmail string    `bun:"mercado_pago_email,nullzero" json:"mercado_pago_email,omitempty"`
	Currency         string    `bun:"currency" json:"currency"`
	CreatedAt        time.Time `bun:"created_at" json:"created_at"`
}

type InfluencerPaymentStatus string

const (
	InfluencerPaymentPending         InfluencerPaymentStatus = "pending"
	InfluencerPaymentInvoiceUploaded InfluencerPaymentStatus = "invoice_uploaded"
	InfluencerPaymentInvoiceRejected InfluencerPaymentStatus = "invoice_rejected"
	InfluencerPaymentApproved        InfluencerPaymentStatus = "approved"
	InfluencerPaymentPaid            InfluencerPaymentStatus = "paid"
	InfluencerPaymentCancelled       InfluencerPaymentStatus = "cancelled"
)

type InfluencerPayment struct {
	bun.BaseModel `bun:"table:influencer_payments"`

	InfluencerPaymentID string                  `bun:"influencer_payment_id,pk" json:"influencer_payment_id"`
	InfluencerID        string                  `bun:"influencer_id" json:"influencer_id"`
	TotalAmount         decimal.Decimal         `bun:"total_amount,type:decimal(12,2)" json:"total_amount"`
	Currency            string                  `bun:"currency" json:"currency"`
	PaymentMethod       string                  `bun:"payment_method,nullzero" json:"payment_method,omitempty"`
	BankAccount         string                  `bun:"bank_account,nullzero" json:"bank_account,omitempty"`
	MercadoPagoEmail    string                  `bun:"mercado_pago_email,nullzero" json:"mercado_pago_email,omitempty"`
	Status              InfluencerPaymentStatus `bun:"status" json:"status"`
	CreatedAt           time.Time               `bun:"created_at" json:"created_at"`
}

// DiscountCodeSettlement is the durable idempotency record for a code's
// settlement: at most one row per discount code, created in the same
// transaction that pays out its commissions.
type DiscountCodeSettlement struct {
	bun.BaseModel `bun:"table:discount_code_settlements"`

	SettlementID        string          `bun:"settlement_id,pk" json:"settlement_id"`
	DiscountCodeID      string          `bun:"discount_code_id,unique" json:"discount_code_id"`
	InfluencerPaymentID *string         `bun:"influencer_payment_id,nullzero" json:"influencer_payment_id,omitempty"`
	TotalAmount         decimal.Decimal `bun:"total_amount,type:decimal(12,2)" json:"total_amount"`
	CommissionsCount    int             `bun:"commissions_count" json:"commissions_count"`
	ProcessedAt         time.Time       `bun:"processed_at" json:"processed_at"`
}
