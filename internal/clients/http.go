package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dropship-labs/fulfillment/internal/orders"
)

// errorBody is the error envelope both collaborators use.
type errorBody struct {
	Error string `json:"error"`
}

// HTTPSupplier talks to the supplier's order API. Deadlines come from the
// caller's context; the worker wraps every call in a bounded timeout.
type HTTPSupplier struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPSupplier(baseURL string, client *http.Client) *HTTPSupplier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSupplier{BaseURL: baseURL, Client: client}
}

func (s *HTTPSupplier) PlaceOrder(ctx context.Context, o *orders.Order) (*PurchaseResult, error) {
	payload := map[string]interface{}{
		"platform_order_ref": o.PlatformOrderRef,
		"items":              o.Items,
		"buyer":              o.Buyer,
	}
	var result PurchaseResult
	if err := postJSON(ctx, s.Client, s.BaseURL+"/orders", payload, &result); err != nil {
		return nil, err
	}
	if result.SupplierOrderID == "" {
		return nil, Transient(fmt.Errorf("supplier returned empty supplier_order_id"))
	}
	return &result, nil
}

// HTTPForwarder talks to the forwarder's shipment API.
type HTTPForwarder struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPForwarder(baseURL string, client *http.Client) *HTTPForwarder {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPForwarder{BaseURL: baseURL, Client: client}
}

func (f *HTTPForwarder) CreateShipment(ctx context.Context, o *orders.Order) (*ShipmentResult, error) {
	payload := map[string]interface{}{
		"platform_order_ref": o.PlatformOrderRef,
		"supplier_order_id":  o.SupplierOrderID,
		"items":              o.Items,
		"buyer":              o.Buyer,
	}
	var result ShipmentResult
	if err := postJSON(ctx, f.Client, f.BaseURL+"/shipments", payload, &result); err != nil {
		return nil, err
	}
	if result.ForwarderJobID == "" {
		return nil, Transient(fmt.Errorf("forwarder returned empty forwarder_job_id"))
	}
	return &result, nil
}

// postJSON issues the request and classifies the outcome: network errors and
// 5xx/429/408 are transient, any other non-2xx is permanent with the body's
// error code attached.
func postJSON(ctx context.Context, client *http.Client, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return Permanent("", fmt.Errorf("marshal payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Permanent("", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("post %s: %w", url, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Transient(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(raw, out); err != nil {
			return Transient(fmt.Errorf("decode response: %w", err))
		}
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return Transient(fmt.Errorf("%s returned %d", url, resp.StatusCode))
	default:
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return Permanent(eb.Error, fmt.Errorf("%s returned %d", url, resp.StatusCode))
	}
}
