package mercadopago

import (
	"context"
	"fmt"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/logger"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/models"
)

// ResolvedPayment is the authoritative view of a notified payment after
// consulting the read API. OrderID may be empty when no external reference
// could be resolved; the reconciliation engine then falls back to a
// provider-id lookup.
type ResolvedPayment struct {
	PaymentID string
	Status    string
	OrderID   string
}

// PaymentFetcher is the read-API seam, satisfied by *Client.
type PaymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// StatusResolver turns a verified payment notification into the provider's
// current status plus the best-known internal order id.
type StatusResolver struct {
	client PaymentFetcher
	log    *logger.Logger
}

func NewStatusResolver(client PaymentFetcher, log *logger.Logger) *StatusResolver {
	return &StatusResolver{client: client, log: log}
}

// Resolve fetches the payment referenced by the notification. Non-payment
// notification kinds resolve to (nil, nil): acknowledged and ignored, never
// an error. A fetch failure propagates so the provider retries.
func (r *StatusResolver) Resolve(ctx context.Context, notification *models.WebhookNotification, dataID string) (*ResolvedPayment, error) {
	if notification.Kind() != models.NotificationPayment {
		r.log.Info("WEBHOOK", fmt.Sprintf("Ignoring %s notification %s", notification.Kind(), dataID))
		return nil, nil
	}

	paymentID := notification.Data.ID
	if paymentID == "" {
		paymentID = dataID
	}

	payment, err := r.client.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("resolve payment %s: %w", paymentID, err)
	}

	resolved := &ResolvedPayment{
		PaymentID: paymentID,
		Status:    payment.Status,
		OrderID:   resolveOrderID(notification, payment),
	}

	r.log.LogWebhook("RESOLVE", paymentID, fmt.Sprintf("status=%s order=%q", resolved.Status, resolved.OrderID))
	return resolved, nil
}

// resolveOrderID prefers the notification's own external_reference, then the
// freshly fetched payment's, then an order_id tucked into provider metadata.
func resolveOrderID(notification *models.WebhookNotification, payment *Payment) string {
	if notification.Data.ExternalReference != "" {
		return notification.Data.ExternalReference
	}
	if payment.ExternalReference != "" {
		return payment.ExternalReference
	}
	if payment.Metadata != nil {
		if raw, ok := payment.Metadata["order_id"]; ok {
			if id, ok := raw.(string); ok {
				return id
			}
		}
	}
	return ""
}
