package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/logger"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/mercadopago"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/models"
)

var ErrLockBusy = errors.New("payment lock busy")

// Outcome reports what a reconciliation pass did. Every outcome except a
// returned error is acknowledged as success to the provider.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoop     Outcome = "noop"
	OutcomeNotFound Outcome = "not_found"
	OutcomeGuarded  Outcome = "guarded"
)

type Store interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetLatestPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	GetPaymentByMercadoPagoID(ctx context.Context, mpPaymentID string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error
}

type PaymentLocker interface {
	AcquirePaymentLock(ctx context.Context, externalPaymentID string) (string, bool, error)
	ReleasePaymentLock(ctx context.Context, externalPaymentID, token string) error
}

// Engine maps a resolved provider status onto internal Payment/Order state
// under idempotency and anti-downgrade rules.
type Engine struct {
	store Store
	locks PaymentLocker
	log   *logger.Logger
}

func NewEngine(store Store, locks PaymentLocker, log *logger.Logger) *Engine {
	return &Engine{store: store, locks: locks, log: log}
}

// targetStates is the provider-status transition table. The second return is
// the implied order status; orderChange is false when the notification leaves
// the order untouched (in_process, pending, anything unrecognized).
func targetStates(providerStatus string) (payment models.PaymentStatus, order models.OrderStatus, orderChange bool) {
	switch providerStatus {
	case "approved":
		return models.PaymentApproved, models.OrderPaid, true
	case "rejected":
		return models.PaymentRejected, models.OrderCancelled, true
	case "cancelled":
		return models.PaymentCancelled, models.OrderCancelled, true
	case "refunded":
		return models.PaymentRefunded, models.OrderCancelled, true
	default:
		return models.PaymentPending, "", false
	}
}

// Apply runs the locate-compute-apply sequence for one resolved notification
// under a per-payment lock. Returned errors signal the transport layer to
// answer 500 so the provider retries; every Outcome is an acknowledged 200.
func (e *Engine) Apply(ctx context.Context, resolved *mercadopago.ResolvedPayment) (Outcome, error) {
	token, ok, err := e.locks.AcquirePaymentLock(ctx, resolved.PaymentID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrLockBusy, resolved.PaymentID)
	}
	defer func() {
		if err := e.locks.ReleasePaymentLock(ctx, resolved.PaymentID, token); err != nil {
			e.log.Error("REDIS", fmt.Sprintf("Failed to release payment lock %s: %v", resolved.PaymentID, err))
		}
	}()

	payment, err := e.locatePayment(ctx, resolved)
	if err != nil {
		return "", err
	}
	if payment == nil {
		e.log.LogWebhook("LOCATE", resolved.PaymentID, "No local payment row found, acknowledging")
		return OutcomeNotFound, nil
	}

	targetPayment, targetOrder, orderChange := targetStates(resolved.Status)

	var order *models.Order
	if orderChange {
		order, err = e.store.GetOrderByID(ctx, payment.OrderID)
		if err != nil {
			return "", fmt.Errorf("fetch order %s: %w", payment.OrderID, err)
		}
	}

	// Idempotent redelivery: nothing left to do for this notification.
	if payment.Status == targetPayment && payment.MercadoPagoPaymentID == resolved.PaymentID &&
		(!orderChange || order.Status == targetOrder) {
		e.log.LogWebhook("NOOP", resolved.PaymentID, fmt.Sprintf("Payment already %s, order already settled", targetPayment))
		return OutcomeNoop, nil
	}

	// A stale pending/in_process resolution must not reopen a payment that
	// already reached a terminal status.
	if targetPayment == models.PaymentPending && payment.Status.Terminal() {
		e.log.LogWebhook("NOOP", resolved.PaymentID, fmt.Sprintf(
			"Ignoring %s notification for payment already %s", resolved.Status, payment.Status))
		return OutcomeNoop, nil
	}

	guarded := false
	if orderChange && order.Status == models.OrderPaid && targetOrder == models.OrderCancelled {
		// A late rejection or refund must never silently unpay a fulfilled
		// order. Record the payment outcome but leave the order for
		// operational review.
		e.log.Warn("RECONCILE", fmt.Sprintf(
			"Refusing paid->cancelled downgrade for order %s (payment %s, provider status %s)",
			order.OrderID, resolved.PaymentID, resolved.Status))
		guarded = true
	}

	if payment.Status != targetPayment || payment.MercadoPagoPaymentID != resolved.PaymentID {
		payment.Status = targetPayment
		payment.MercadoPagoPaymentID = resolved.PaymentID
		payment.UpdatedAt = time.Now()
		if err := e.store.UpdatePayment(ctx, payment); err != nil {
			return "", fmt.Errorf("update payment %s: %w", payment.PaymentID, err)
		}
	}

	if orderChange && !guarded && order.Status != targetOrder {
		if !order.Status.CanTransitionTo(targetOrder) {
			e.log.Warn("RECONCILE", fmt.Sprintf(
				"Skipping disallowed order transition %s: %s -> %s", order.OrderID, order.Status, targetOrder))
			return OutcomeGuarded, nil
		}
		if err := e.store.UpdateOrderStatus(ctx, order.OrderID, targetOrder); err != nil {
			return "", fmt.Errorf("update order %s: %w", order.OrderID, err)
		}
		e.log.LogReconcile("APPLY", order.OrderID, fmt.Sprintf("Order %s -> %s (payment %s)", order.Status, targetOrder, payment.PaymentID))
	}

	if guarded {
		return OutcomeGuarded, nil
	}
	return OutcomeApplied, nil
}

// locatePayment finds the internal payment row for a notification. Primary
// path is the order's latest payment; retried notifications that lost their
// external reference fall back to the stored provider payment id. A miss on
// both is terminal, not retryable.
func (e *Engine) locatePayment(ctx context.Context, resolved *mercadopago.ResolvedPayment) (*models.Payment, error) {
	if resolved.OrderID != "" {
		payment, err := e.store.GetLatestPaymentByOrderID(ctx, resolved.OrderID)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("locate payment for order %s: %w", resolved.OrderID, err)
		}
	}

	payment, err := e.store.GetPaymentByMercadoPagoID(ctx, resolved.PaymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("locate payment by provider id %s: %w", resolved.PaymentID, err)
	}
	return payment, nil
}
