package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SyncItem is one record of the ordered list sent when a local cart is
// converted into a server-side cart.
type SyncItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// QuoteItem is one entry of the quote request payload. The quote endpoint
// takes numeric product ids.
type QuoteItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// QuoteRequest is the payload of a quote submission.
type QuoteRequest struct {
	Items []QuoteItem `json:"items"`
	Notes string      `json:"notes,omitempty"`
}

// QuoteResult echoes what the server created.
type QuoteResult struct {
	Success     bool    `json:"success"`
	Message     string  `json:"message"`
	QuoteNumber string  `json:"quote_number"`
	QuoteTotal  float64 `json:"quote_total"`
}

// SyncClient is the slice of the storefront API the handoff consumes.
// Consumers define this interface, not the HTTP implementation.
type SyncClient interface {
	// CreateCart uploads the ordered items to a fresh server-side cart and
	// returns its opaque identifier.
	CreateCart(ctx context.Context, items []SyncItem) (string, error)

	// RequestQuote submits a quote for the given items.
	RequestQuote(ctx context.Context, req QuoteRequest) (*QuoteResult, error)
}

// HTTPSyncClient talks JSON over HTTP to the storefront API. Calls run
// through a circuit breaker so a dead backend fails fast instead of hanging
// every checkout attempt.
type HTTPSyncClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewHTTPSyncClient(baseURL string, timeout time.Duration) *HTTPSyncClient {
	return &HTTPSyncClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name: "cart-sync",
		}),
	}
}

type createCartRequestDTO struct {
	Items []SyncItem `json:"items"`
}

type createCartResponseDTO struct {
	CartID string `json:"cartId"`
}

func (c *HTTPSyncClient) CreateCart(ctx context.Context, items []SyncItem) (string, error) {
	body, err := c.post(ctx, "/api/v1/carts", createCartRequestDTO{Items: items})
	if err != nil {
		return "", fmt.Errorf("create cart failed: %w", err)
	}

	var resp createCartResponseDTO
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal create cart response failed: %w", err)
	}
	if resp.CartID == "" {
		return "", fmt.Errorf("create cart response missing cart id")
	}
	return resp.CartID, nil
}

func (c *HTTPSyncClient) RequestQuote(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	body, err := c.post(ctx, "/api/v1/quotes", req)
	if err != nil {
		return nil, fmt.Errorf("request quote failed: %w", err)
	}

	var result QuoteResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal quote response failed: %w", err)
	}
	return &result, nil
}

func (c *HTTPSyncClient) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
		}
		return body, nil
	})
}
