package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/logger"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/mercadopago"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/models"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/reconcile"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/utils"
)

type Resolver interface {
	Resolve(ctx context.Context, notification *models.WebhookNotification, dataID string) (*mercadopago.ResolvedPayment, error)
}

type Reconciler interface {
	Apply(ctx context.Context, resolved *mercadopago.ResolvedPayment) (reconcile.Outcome, error)
}

// Handler is the transport layer for POST /webhooks/mercadopago. It answers
// 200 for everything except genuine transient failures, which get a 500 so
// the provider's retry machinery re-delivers.
type Handler struct {
	Verifier *SignatureVerifier
	Resolver Resolver
	Engine   Reconciler
	Logger   *logger.Logger
}

func NewHandler(verifier *SignatureVerifier, resolver Resolver, engine Reconciler, log *logger.Logger) *Handler {
	return &Handler{
		Verifier: verifier,
		Resolver: resolver,
		Engine:   engine,
		Logger:   log,
	}
}

// maxWebhookBody caps how much of an inbound delivery is buffered before
// verification; real provider notifications are a few hundred bytes.
const maxWebhookBody = 1 << 20

// HandleMercadoPago processes one webhook delivery end to end:
// verify -> resolve -> reconcile.
func (h *Handler) HandleMercadoPago(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Logger.LogSecurity("WEBHOOK", fmt.Sprintf("Oversized webhook body rejected (limit %d bytes)", int64(maxWebhookBody)))
			h.writeJSON(w, http.StatusRequestEntityTooLarge, utils.ErrorResponse("Request body too large", tooLarge.Error()))
			return
		}
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to read webhook body: %v", err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to read request body", err.Error()))
		return
	}

	notification := &models.WebhookNotification{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, notification); err != nil {
			// Unparseable bodies still go through verification: a junk body
			// with no valid signature is rejected and acknowledged, never
			// retried.
			h.Logger.Warn("WEBHOOK", fmt.Sprintf("Unparseable webhook body: %v", err))
			notification = &models.WebhookNotification{}
		}
	}

	result := h.Verifier.Verify(
		r.Header.Get("x-signature"),
		r.Header.Get("x-request-id"),
		r.Header.Get("user-agent"),
		notification,
		r.URL.Query(),
	)

	if result.IsPanelTest {
		h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Test notification acknowledged", nil))
		return
	}
	if !result.Valid {
		// Acknowledge so the provider stops retrying unverifiable traffic;
		// nothing was mutated.
		h.Logger.LogSecurity("WEBHOOK", fmt.Sprintf("Unverified notification dropped: %s", result.Reason))
		h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Notification acknowledged", nil))
		return
	}

	resolved, err := h.Resolver.Resolve(r.Context(), notification, result.DataID)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to resolve payment %s: %v", result.DataID, err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to resolve payment status", err.Error()))
		return
	}
	if resolved == nil {
		// Not a payment event; acknowledged and ignored.
		h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Notification acknowledged", nil))
		return
	}

	outcome, err := h.Engine.Apply(r.Context(), resolved)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Reconciliation failed for payment %s: %v", resolved.PaymentID, err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Reconciliation failed", err.Error()))
		return
	}

	h.Logger.LogWebhook("DONE", resolved.PaymentID, fmt.Sprintf("outcome=%s", outcome))
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Notification processed", map[string]interface{}{
		"outcome": string(outcome),
	}))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to encode response: %v", err))
	}
}
