package jobs

import "time"

// Type distinguishes the two external actions executed asynchronously.
type Type string

const (
	TypePurchase Type = "purchase"
	TypeForward  Type = "forward"
)

// Status is the lifecycle state of a job row.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusDead    Status = "dead"
)

// Job is one attempt to execute an external action for an order. Rows are the
// source of truth for dispatch; the queue message is only a delivery signal.
type Job struct {
	JobID       string    `dynamodbav:"job_id"` // PK
	OrderID     string    `dynamodbav:"order_id"`
	Type        Type      `dynamodbav:"type"`
	Attempt     int       `dynamodbav:"attempt"` // 1-based
	Status      Status    `dynamodbav:"status"`
	ScheduledAt time.Time `dynamodbav:"scheduled_at"`
	Note        string    `dynamodbav:"note,omitempty"`
	CreatedAt   time.Time `dynamodbav:"created_at"`
	UpdatedAt   time.Time `dynamodbav:"updated_at"`
}

// Message is the payload carried through SQS from the API to the worker.
type Message struct {
	JobID         string `json:"job_id"`
	OrderID       string `json:"order_id"`
	Type          Type   `json:"type"`
	Attempt       int    `json:"attempt"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
