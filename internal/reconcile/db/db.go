package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- ORDERS ----------------

// GetOrderByID → fetch one order by its ID
func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("order_id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus → persist a status transition for an order
func (d *DB) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("order_id = ?", orderID).
		Exec(ctx)
	return err
}

// ---------------- PAYMENTS ----------------

// GetLatestPaymentByOrderID → the most recent payment row for an order is
// the authoritative one for reconciliation
func (d *DB) GetLatestPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var payment models.Payment
	err := d.Bun.NewSelect().
		Model(&payment).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByMercadoPagoID → fallback lookup by the stored external payment
// id, used when a retried notification carries no external reference
func (d *DB) GetPaymentByMercadoPagoID(ctx context.Context, mpPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := d.Bun.NewSelect().
		Model(&payment).
		Where("mercado_pago_payment_id = ?", mpPaymentID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePayment → persist the reconciled status and external payment id
func (d *DB) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	_, err := d.Bun.NewUpdate().
		Model(payment).
		Column("status", "mercado_pago_payment_id", "updated_at").
		Where("payment_id = ?", payment.PaymentID).
		Exec(ctx)
	return err
}
