package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Checkout is what the external payment provider hands back for a pending
// payment.
type Checkout struct {
	CheckoutID string `json:"checkout_id"`
	URL        string `json:"url"`
}

// Gateway is the opaque payment collaborator. The engine only ever creates
// checkouts and learns of completion through the confirm callback.
type Gateway interface {
	CreateCheckout(ctx context.Context, reference string, amount decimal.Decimal, meta map[string]string) (Checkout, error)
}

// HTTPGateway talks to the provider over its JSON API with a short timeout;
// a hung provider must not hang the request.
type HTTPGateway struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (g *HTTPGateway) CreateCheckout(ctx context.Context, reference string, amount decimal.Decimal, meta map[string]string) (Checkout, error) {
	body, err := json.Marshal(map[string]interface{}{
		"reference": reference,
		"amount":    amount.StringFixed(2),
		"metadata":  meta,
	})
	if err != nil {
		return Checkout{}, fmt.Errorf("gateway: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/checkouts", bytes.NewReader(body))
	if err != nil {
		return Checkout{}, fmt.Errorf("gateway: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.Client.Do(req)
	if err != nil {
		return Checkout{}, fmt.Errorf("gateway: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return Checkout{}, fmt.Errorf("gateway: unexpected status %d", res.StatusCode)
	}

	var out Checkout
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Checkout{}, fmt.Errorf("gateway: decode: %w", err)
	}
	return out, nil
}
