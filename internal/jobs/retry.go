package jobs

import "time"

// ErrorKind classifies an external call failure.
type ErrorKind int

const (
	// KindTransient covers timeouts and 5xx-equivalent failures worth retrying.
	KindTransient ErrorKind = iota
	// KindPermanent covers failures no retry can fix (out of stock, address
	// rejected); they escalate immediately.
	KindPermanent
)

// Decision is the outcome of the retry policy for one failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Policy decides retry vs. terminal escalation. It is pure and stateless:
// the same inputs always yield the same decision.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Decide evaluates a failed attempt (1-based). Transient failures retry with
// a fixed backoff until MaxAttempts is reached; everything else escalates to
// manual review.
func (p Policy) Decide(attempt int, kind ErrorKind) Decision {
	if kind == KindPermanent {
		return Decision{}
	}
	if attempt >= p.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Backoff}
}
