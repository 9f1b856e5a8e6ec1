package orders

import "time"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusSupplierOrdering Status = "SUPPLIER_ORDERING"
	StatusOrderedSupplier  Status = "ORDERED_SUPPLIER"
	StatusForwarderSending Status = "FORWARDER_SENDING"
	StatusSentToForwarder  Status = "SENT_TO_FORWARDER"
	StatusRetrying         Status = "RETRYING"
	StatusManualReview     Status = "MANUAL_REVIEW"
	StatusFailed           Status = "FAILED"
	StatusDone             Status = "DONE"
)

// Terminal reports whether the automated system makes no further transition
// out of s. MANUAL_REVIEW and FAILED require operator action to resume.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusManualReview:
		return true
	}
	return false
}

// ActiveJob references the at-most-one outstanding job for an order.
type ActiveJob struct {
	ID          string    `dynamodbav:"id" json:"id"`
	Type        string    `dynamodbav:"type" json:"type"`
	Attempt     int       `dynamodbav:"attempt" json:"attempt"`
	ScheduledAt time.Time `dynamodbav:"scheduled_at" json:"scheduled_at"`
}

// Order is the item stored in the orders table. Items and Buyer are opaque
// payloads: the orchestrator persists and echoes them but never interprets
// their contents.
type Order struct {
	OrderID          string                   `dynamodbav:"order_id" json:"order_id"` // PK
	Status           Status                   `dynamodbav:"status" json:"status"`
	PlatformOrderRef string                   `dynamodbav:"platform_order_ref" json:"platform_order_ref"`
	IdempotencyKey   string                   `dynamodbav:"idempotency_key" json:"idempotency_key"`
	Items            []map[string]interface{} `dynamodbav:"items,omitempty" json:"items,omitempty"`
	Buyer            map[string]interface{}   `dynamodbav:"buyer,omitempty" json:"buyer,omitempty"`
	SupplierOrderID  string                   `dynamodbav:"supplier_order_id,omitempty" json:"supplier_order_id,omitempty"`
	ForwarderJobID   string                   `dynamodbav:"forwarder_job_id,omitempty" json:"forwarder_job_id,omitempty"`
	TrackingNumber   string                   `dynamodbav:"tracking_number,omitempty" json:"tracking_number,omitempty"`
	ActiveJob        *ActiveJob               `dynamodbav:"active_job,omitempty" json:"active_job,omitempty"`
	Version          int64                    `dynamodbav:"version" json:"version"`
	CreatedAt        time.Time                `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt        time.Time                `dynamodbav:"updated_at" json:"updated_at"`
}
