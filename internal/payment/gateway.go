package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/safar/marketplace-core/internal/models"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPaid    Status = "paid"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

type Request struct {
	OrderNumber string               `json:"order_number"`
	Amount      decimal.Decimal      `json:"amount"`
	Currency    string               `json:"currency"`
	Method      models.PaymentMethod `json:"method"`
	Data        map[string]string    `json:"data,omitempty"`
}

type Result struct {
	Status    Status `json:"status"`
	Reference string `json:"transaction_ref"`
	Message   string `json:"message,omitempty"`
}

// Gateway captures payment for an order. Implementations must honor ctx
// cancellation.
type Gateway interface {
	Process(ctx context.Context, req Request) (*Result, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req Request) (*Result, error)

func (f GatewayFunc) Process(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// HTTPGateway posts payment requests as JSON. Every call is bounded by
// timeout on top of the caller's context.
type HTTPGateway struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPGateway(url string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		url:     url,
		timeout: timeout,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
	}
}

func (g *HTTPGateway) Process(ctx context.Context, req Request) (*Result, error) {
	if g.url == "" {
		return nil, fmt.Errorf("%w: no gateway url configured", ErrGatewayUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build payment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.OrderNumber)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: gateway returned %s", ErrGatewayUnavailable, resp.Status)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}
	result.Status = normalizeStatus(string(result.Status))

	if resp.StatusCode >= http.StatusBadRequest && result.Status != StatusFailed {
		result.Status = StatusFailed
	}

	return &result, nil
}

// normalizeStatus folds the spellings gateways use for the same outcome.
func normalizeStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid", "success", "succeeded", "completed", "captured":
		return StatusPaid
	case "pending", "processing", "requires_action":
		return StatusPending
	}
	return StatusFailed
}
