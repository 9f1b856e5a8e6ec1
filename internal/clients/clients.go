// Package clients defines the narrow interfaces for the external supplier
// and forwarder collaborators, plus the error classification the retry
// policy branches on. Implementations are selected at construction time.
package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropship-labs/fulfillment/internal/orders"
)

// Kind classifies a collaborator failure.
type Kind string

const (
	// KindTransient: timeouts, connection errors, 5xx-equivalents. Retryable.
	KindTransient Kind = "transient"
	// KindPermanent: the request itself is unfulfillable (out of stock,
	// address rejected). Retrying cannot help.
	KindPermanent Kind = "permanent"
)

// Error is a classified collaborator failure.
type Error struct {
	Kind Kind
	Code string // collaborator-provided code when available, e.g. "out_of_stock"
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a terminal failure with an optional code.
func Permanent(code string, err error) *Error {
	return &Error{Kind: KindPermanent, Code: code, Err: err}
}

// KindOf extracts the classification from err. Anything unclassified —
// including context deadline expiry — is treated as transient, the safe
// default for network I/O.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// CodeOf extracts the collaborator error code, if any.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// PurchaseResult is a successful supplier order placement.
type PurchaseResult struct {
	SupplierOrderID string `json:"supplier_order_id"`
}

// ShipmentResult is a successful forwarder handoff.
type ShipmentResult struct {
	ForwarderJobID string `json:"forwarder_job_id"`
	TrackingNumber string `json:"tracking_number"`
}

// SupplierClient places orders with the upstream supplier.
type SupplierClient interface {
	PlaceOrder(ctx context.Context, o *orders.Order) (*PurchaseResult, error)
}

// ForwarderClient hands orders to the shipping consolidator.
type ForwarderClient interface {
	CreateShipment(ctx context.Context, o *orders.Order) (*ShipmentResult, error)
}
