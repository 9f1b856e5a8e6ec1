package idempotency

import "time"

// Status values for idempotency entries.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Scopes namespace idempotency keys per action type: the same caller token
// used for different actions never collides.
const (
	ScopeCreate   = "create"
	ScopePurchase = "purchase"
	ScopeForward  = "forward"
	ScopeWebhook  = "webhook"
)

// Record is the shape persisted in the idempotency table. The partition key
// is "<scope>#<key>".
type Record struct {
	Key       string    `dynamodbav:"idempotency_key"` // PK, scope-prefixed
	Status    string    `dynamodbav:"status"`
	Result    string    `dynamodbav:"result,omitempty"` // serialized op result, small payloads only
	Note      string    `dynamodbav:"note,omitempty"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
	ExpiresAt int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}
