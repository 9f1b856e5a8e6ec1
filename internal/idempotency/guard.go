package idempotency

import (
	"context"
	"errors"
	"fmt"
)

// ErrInFlight is returned when a key is reused while the original operation
// has not completed. Callers should poll or retry later, not resubmit.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

// Guard deduplicates client-initiated actions keyed by a caller-supplied
// token. An operation runs once per (scope, key); replays of a completed key
// return the stored result without re-running side effects.
type Guard struct {
	store *Store
}

func NewGuard(store *Store) *Guard {
	return &Guard{store: store}
}

// Execute runs op under the given scoped key. The returned replayed flag is
// true when the result came from a previous completed run. A failed previous
// run is retaken and op runs again.
func (g *Guard) Execute(ctx context.Context, scope, key string, op func(ctx context.Context) (string, error)) (result string, replayed bool, err error) {
	created, err := g.store.Reserve(ctx, scope, key)
	if err != nil {
		return "", false, fmt.Errorf("reserve key: %w", err)
	}

	if !created {
		rec, err := g.store.Get(ctx, scope, key)
		if err != nil {
			return "", false, fmt.Errorf("inspect key: %w", err)
		}
		if rec == nil {
			// Reservation lost between the conditional put and the read;
			// treat as in flight rather than racing a second reservation.
			return "", false, ErrInFlight
		}
		switch rec.Status {
		case StatusDone:
			return rec.Result, true, nil
		case StatusInProgress:
			return "", false, ErrInFlight
		case StatusFailed:
			taken, err := g.store.Retake(ctx, scope, key)
			if err != nil {
				return "", false, fmt.Errorf("retake key: %w", err)
			}
			if !taken {
				return "", false, ErrInFlight
			}
		default:
			return "", false, fmt.Errorf("unknown idempotency status %q", rec.Status)
		}
	}

	result, opErr := op(ctx)
	if opErr != nil {
		if markErr := g.store.MarkFailed(ctx, scope, key, opErr.Error()); markErr != nil {
			return "", false, errors.Join(opErr, markErr)
		}
		return "", false, opErr
	}

	if err := g.store.MarkDone(ctx, scope, key, result); err != nil {
		return "", false, fmt.Errorf("mark done: %w", err)
	}
	return result, false, nil
}
