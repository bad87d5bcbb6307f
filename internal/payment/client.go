// Package payment is the PhonePe gateway pair: a signed HTTP client for
// order creation and status checks, and verification of server callbacks.
//
// Every request carries an X-VERIFY header (see XVerify) and the merchant
// id. Calls are rate limited via a token bucket limiter.
package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	payPath    = "/pg/v1/pay"
	statusPath = "/pg/v1/status"
)

// Config holds gateway credentials.
type Config struct {
	BaseURL     string
	MerchantID  string
	SaltKey     string
	SaltIndex   string
	CallbackURL string
	RedirectURL string
	RatePerSec  int
}

// GatewayError is a non-2xx gateway response.
type GatewayError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway HTTP %d: %s", e.StatusCode, e.Body)
}

// OrderRequest is a client's order creation input. Amount is in paise.
type OrderRequest struct {
	Amount         int64  `json:"amount"`
	MerchantUserID string `json:"merchantUserId"`
	CallbackURL    string `json:"callbackUrl,omitempty"`
}

// payRequest is the body signed and sent to the pay endpoint.
type payRequest struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	Amount                int64             `json:"amount"`
	MerchantUserID        string            `json:"merchantUserId"`
	CallbackURL           string            `json:"callbackUrl,omitempty"`
	RedirectURL           string            `json:"redirectUrl,omitempty"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
}

type paymentInstrument struct {
	Type string `json:"type"`
}

// Client is the signed gateway HTTP client.
type Client struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
	newTxnID   func() string
	logger     *slog.Logger
}

// NewClient creates a gateway client with rate limiting.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		newTxnID:   uuid.NewString,
		logger:     logger.With("component", "payment"),
	}
}

// CreateOrder signs and forwards a pay request. It returns the merchant
// transaction id it generated and the gateway's raw response.
func (c *Client) CreateOrder(ctx context.Context, in OrderRequest) (string, json.RawMessage, error) {
	if in.Amount <= 0 || in.MerchantUserID == "" {
		return "", nil, fmt.Errorf("amount and merchantUserId are required")
	}

	body := payRequest{
		MerchantID:            c.cfg.MerchantID,
		MerchantTransactionID: c.newTxnID(),
		Amount:                in.Amount,
		MerchantUserID:        in.MerchantUserID,
		CallbackURL:           in.CallbackURL,
		RedirectURL:           c.cfg.RedirectURL,
		PaymentInstrument:     paymentInstrument{Type: "PAY_PAGE"},
	}
	if body.CallbackURL == "" {
		body.CallbackURL = c.cfg.CallbackURL
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("encode pay request: %w", err)
	}
	payload := base64.StdEncoding.EncodeToString(raw)

	envelope, err := json.Marshal(map[string]string{"request": payload})
	if err != nil {
		return "", nil, fmt.Errorf("encode envelope: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, payPath, bytes.NewReader(envelope), XVerify(payload, payPath, c.cfg.SaltKey, c.cfg.SaltIndex))
	if err != nil {
		return "", nil, err
	}
	c.logger.Info("Payment order created", "txn_id", body.MerchantTransactionID, "amount", in.Amount)
	return body.MerchantTransactionID, resp, nil
}

// GetStatus fetches the state of a transaction.
func (c *Client) GetStatus(ctx context.Context, txnID string) (json.RawMessage, error) {
	if txnID == "" {
		return nil, fmt.Errorf("merchantTransactionId is required")
	}
	path := fmt.Sprintf("%s/%s/%s", statusPath, c.cfg.MerchantID, txnID)
	return c.do(ctx, http.MethodGet, path, nil, XVerify("", path, c.cfg.SaltKey, c.cfg.SaltIndex))
}

// do performs a rate-limited signed request.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, xVerify string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-VERIFY", xVerify)
	req.Header.Set("X-MERCHANT-ID", c.cfg.MerchantID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("gateway request failed", "path", path, "status", resp.StatusCode)
		return nil, &GatewayError{StatusCode: resp.StatusCode, Body: jsonOrString(data)}
	}
	return jsonOrString(data), nil
}

// jsonOrString returns data as-is when it is JSON, else as a JSON string.
func jsonOrString(data []byte) json.RawMessage {
	if json.Valid(data) {
		return data
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}
