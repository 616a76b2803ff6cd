package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/logger"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/models"
)

// Rejection reasons returned by Verify. The transport layer answers 200 for
// every one of them; they exist for logging and for tests.
const (
	ReasonMissingHeaders   = "missing-headers"
	ReasonNotFeedV2        = "not-feed-v2"
	ReasonInvalidSignature = "invalid-signature-format"
	ReasonMissingDataID    = "missing-data-id"
	ReasonHMACMismatch     = "hmac-mismatch"
)

type VerificationResult struct {
	Valid       bool
	Reason      string
	IsPanelTest bool
	DataID      string
}

// SignatureVerifier authenticates inbound MercadoPago webhook deliveries
// against the pre-shared webhook secret. It never mutates state and must run
// before any side-effecting logic.
type SignatureVerifier struct {
	secret []byte
	log    *logger.Logger
}

func NewSignatureVerifier(secret string, log *logger.Logger) *SignatureVerifier {
	return &SignatureVerifier{
		secret: []byte(secret),
		log:    log,
	}
}

// Verify checks the x-signature HMAC over the canonical manifest
// id:{dataId};request-id:{requestId};ts:{ts}; built from the notification.
func (v *SignatureVerifier) Verify(signature, requestID, userAgent string, notification *models.WebhookNotification, query url.Values) VerificationResult {
	if signature == "" || requestID == "" {
		// The developer panel test ping ships without signature headers and
		// is the only unsigned delivery we acknowledge.
		if notification != nil && notification.IsPanelTest() {
			v.log.Info("WEBHOOK", "Unsigned panel test notification accepted as no-op")
			return VerificationResult{Valid: false, Reason: ReasonMissingHeaders, IsPanelTest: true}
		}
		v.log.LogSecurity("SIGNATURE", "Webhook rejected: missing signature headers")
		return VerificationResult{Valid: false, Reason: ReasonMissingHeaders}
	}

	if !strings.Contains(strings.ToLower(userAgent), "feed") {
		v.log.LogSecurity("SIGNATURE", fmt.Sprintf("Webhook rejected: unsupported notification agent %q", userAgent))
		return VerificationResult{Valid: false, Reason: ReasonNotFeedV2}
	}

	ts, hash, ok := parseSignatureHeader(signature)
	if !ok {
		v.log.LogSecurity("SIGNATURE", "Webhook rejected: malformed x-signature header")
		return VerificationResult{Valid: false, Reason: ReasonInvalidSignature}
	}

	dataID := extractDataID(notification, query)
	if dataID == "" {
		v.log.LogSecurity("SIGNATURE", "Webhook rejected: no data id in resource or query")
		return VerificationResult{Valid: false, Reason: ReasonMissingDataID}
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(hash)) {
		v.log.LogSecurity("SIGNATURE", fmt.Sprintf("Webhook rejected: HMAC mismatch for data id %s", dataID))
		return VerificationResult{Valid: false, Reason: ReasonHMACMismatch, DataID: dataID}
	}

	return VerificationResult{Valid: true, DataID: dataID}
}

// parseSignatureHeader splits the ts=<epoch>,v1=<hex> pair out of the
// x-signature header. Both parts are required.
func parseSignatureHeader(signature string) (ts, hash string, ok bool) {
	for _, part := range strings.Split(signature, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			hash = strings.TrimSpace(value)
		}
	}
	if ts == "" || hash == "" {
		return "", "", false
	}
	return ts, hash, true
}

// extractDataID prefers the trailing path segment of an order-style resource
// URL, then falls back to the data.id / id query parameters used by payment
// notifications.
func extractDataID(notification *models.WebhookNotification, query url.Values) string {
	if notification != nil && notification.Resource != "" {
		trimmed := strings.TrimRight(notification.Resource, "/")
		if idx := strings.LastIndex(trimmed, "/"); idx >= 0 && idx < len(trimmed)-1 {
			return trimmed[idx+1:]
		}
		return trimmed
	}
	if query != nil {
		if id := query.Get("data.id"); id != "" {
			return id
		}
		if id := query.Get("id"); id != "" {
			return id
		}
	}
	return ""
}
