package clients

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dropship-labs/fulfillment/internal/orders"
)

// StubSupplier is the in-memory supplier used in local development and tests.
// With no scripted failures it succeeds with generated identifiers.
type StubSupplier struct {
	mu    sync.Mutex
	calls int
	// FailuresBefore scripts the first N calls to fail with Err.
	FailuresBefore int
	Err            error
}

func (s *StubSupplier) PlaceOrder(ctx context.Context, o *orders.Order) (*PurchaseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if call <= s.FailuresBefore {
		if s.Err != nil {
			return nil, s.Err
		}
		return nil, Transient(fmt.Errorf("stub supplier failure %d", call))
	}
	return &PurchaseResult{SupplierOrderID: "sup-" + uuid.NewString()[:8]}, nil
}

// Calls reports how many times PlaceOrder ran.
func (s *StubSupplier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// StubForwarder is the in-memory forwarder counterpart.
type StubForwarder struct {
	mu             sync.Mutex
	calls          int
	FailuresBefore int
	Err            error
}

func (f *StubForwarder) CreateShipment(ctx context.Context, o *orders.Order) (*ShipmentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if call <= f.FailuresBefore {
		if f.Err != nil {
			return nil, f.Err
		}
		return nil, Transient(fmt.Errorf("stub forwarder failure %d", call))
	}
	return &ShipmentResult{
		ForwarderJobID: "fwd-" + uuid.NewString()[:8],
		TrackingNumber: "TRK" + uuid.NewString()[:10],
	}, nil
}

// Calls reports how many times CreateShipment ran.
func (f *StubForwarder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
