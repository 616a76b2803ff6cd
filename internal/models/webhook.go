package models

import (
	"encoding/json"
	"strings"
)

// NotificationKind classifies an inbound MercadoPago notification. Anything
// that is not a payment or merchant_order event is Unknown and gets
// acknowledged without processing.
type NotificationKind string

const (
	NotificationPayment       NotificationKind = "payment"
	NotificationMerchantOrder NotificationKind = "merchant_order"
	NotificationUnknown       NotificationKind = "unknown"
)

type WebhookNotification struct {
	ID         json.Number      `json:"id,omitempty"`
	Type       string           `json:"type,omitempty"`
	Topic      string           `json:"topic,omitempty"`
	Action     string           `json:"action,omitempty"`
	APIVersion string           `json:"api_version,omitempty"`
	LiveMode   bool             `json:"live_mode,omitempty"`
	Resource   string           `json:"resource,omitempty"`
	Data       NotificationData `json:"data,omitempty"`
}

type NotificationData struct {
	ID                string `json:"-"`
	ExternalReference string `json:"external_reference,omitempty"`
}

// UnmarshalJSON tolerates MercadoPago sending data.id as either a JSON string
// or a bare number depending on the notification channel.
func (d *NotificationData) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID                json.Number `json:"id"`
		ExternalReference string      `json:"external_reference"`
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	d.ID = raw.ID.String()
	d.ExternalReference = raw.ExternalReference
	return nil
}

func (d NotificationData) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID                string `json:"id,omitempty"`
		ExternalReference string `json:"external_reference,omitempty"`
	}{ID: d.ID, ExternalReference: d.ExternalReference})
}

// Kind resolves the notification's tagged type. Webhook (feed v2) payloads
// carry "type", legacy IPN payloads carry "topic"; both are checked so
// merchant_order notifications are recognized on either channel.
func (n *WebhookNotification) Kind() NotificationKind {
	switch {
	case n.Type == "payment" || n.Topic == "payment":
		return NotificationPayment
	case n.Type == "merchant_order" || n.Topic == "merchant_order":
		return NotificationMerchantOrder
	default:
		return NotificationUnknown
	}
}

// IsPanelTest reports whether the body looks like the manual test ping sent
// from the MercadoPago developer panel, which arrives without signature
// headers and must be acknowledged as a no-op.
func (n *WebhookNotification) IsPanelTest() bool {
	return n.APIVersion == "v1" && n.Action != ""
}

// SettlementJob is the payload enqueued for the commission settlement worker,
// one job per expired discount code.
type SettlementJob struct {
	DiscountCodeID string `json:"discount_code_id"`
}
