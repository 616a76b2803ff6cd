package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/config"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/logger"
)

var (
	ErrClientInitFailed = errors.New("failed to initialize MercadoPago client")
	ErrPaymentFetch     = errors.New("mercadopago payment fetch failed")
)

// Payment is the subset of the MercadoPago payment resource the
// reconciliation path needs.
type Payment struct {
	ID                json.Number            `json:"id"`
	Status            string                 `json:"status"`
	StatusDetail      string                 `json:"status_detail"`
	TransactionAmount float64                `json:"transaction_amount"`
	CurrencyID        string                 `json:"currency_id"`
	ExternalReference string                 `json:"external_reference"`
	Metadata          map[string]interface{} `json:"metadata"`
}

// Client talks to the MercadoPago read API. It is constructed once in main
// and injected; the HTTP client carries the request timeout.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	log         *logger.Logger
}

func NewClient(cfg config.MercadoPagoConfig, log *logger.Logger) (*Client, error) {
	if cfg.AccessToken == "" {
		log.Error("MERCADOPAGO", "MP_ACCESS_TOKEN environment variable not set")
		return nil, ErrClientInitFailed
	}

	return &Client{
		baseURL:     cfg.APIBaseURL,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		log:         log,
	}, nil
}

// GetPayment fetches the authoritative payment resource by its MercadoPago
// id. Any transport or non-200 outcome is a retryable fetch failure.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	url := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, paymentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentFetch, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("MERCADOPAGO", fmt.Sprintf("Failed to fetch payment %s: %v", paymentID, err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Error("MERCADOPAGO", fmt.Sprintf("Payment %s fetch returned status %d", paymentID, resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrPaymentFetch, resp.StatusCode)
	}

	var payment Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		c.log.Error("MERCADOPAGO", fmt.Sprintf("Failed to decode payment %s: %v", paymentID, err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentFetch, err)
	}

	return &payment, nil
}
