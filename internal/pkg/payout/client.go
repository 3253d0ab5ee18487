package payout

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uzmarket/marketplace-core/internal/pkg/apperr"
)

// ErrPayoutRejected is returned when the rail refuses the transfer outright.
var ErrPayoutRejected = errors.New("payout rejected by provider")

// Config holds payout rail configuration
type Config struct {
	BaseURL    string
	MerchantID string
	SecretKey  string
	Timeout    time.Duration
}

// Client talks to the external payout rail (Click / Payme aggregator)
type Client struct {
	httpClient *http.Client
	config     Config
}

// Request is a single transfer to a promoter
type Request struct {
	WithdrawalID string          `json:"withdrawal_id"`
	MerchantID   string          `json:"merchant_id"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method"`
	AccountRef   string          `json:"account_ref"`
}

// Result is the rail's acknowledgement
type Result struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// NewClient creates new payout rail client
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
	}
}

// Configured reports whether a rail endpoint is set.
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.config.BaseURL) != ""
}

// Send submits the transfer. The withdrawal id doubles as idempotency key, so
// resubmitting after a timeout cannot pay twice.
func (c *Client) Send(ctx context.Context, req Request) (*Result, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("validation error: amount must be > 0")
	}
	if strings.TrimSpace(req.WithdrawalID) == "" {
		return nil, fmt.Errorf("validation error: withdrawal_id must be non-empty")
	}
	if !c.Configured() || c.httpClient == nil {
		return nil, fmt.Errorf("%w: payout rail is not configured", apperr.ErrTemporarilyUnavailable)
	}
	req.MerchantID = c.config.MerchantID

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payout request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/api/v1/payouts"

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payout api call failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.MerchantID)
	httpReq.Header.Set("X-Idempotency-Key", req.WithdrawalID)
	httpReq.Header.Set("X-Signature", Sign(body, c.config.SecretKey))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: payout api call failed: %v", apperr.ErrTemporarilyUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: payout api read failed: %v", apperr.ErrTemporarilyUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: payout api returned %d", apperr.ErrTemporarilyUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrPayoutRejected, resp.StatusCode, string(raw))
	}

	var out Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse payout response: %w", err)
	}
	if strings.EqualFold(out.Status, "failed") {
		return &out, fmt.Errorf("%w: %s", ErrPayoutRejected, out.Message)
	}
	return &out, nil
}

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(payload []byte, secretKey string) string {
	if secretKey == "" {
		return ""
	}
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
