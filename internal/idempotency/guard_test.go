package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropship-labs/fulfillment/internal/awstest"
)

const testTable = "idempotency-test"

func newTestGuard() (*Guard, *Store) {
	fake := awstest.NewDynamoFake(map[string]string{testTable: "idempotency_key"})
	store := NewStore(fake, testTable, 24*time.Hour)
	return NewGuard(store), store
}

func TestExecute_RunsOnceAndReplays(t *testing.T) {
	guard, _ := newTestGuard()
	ctx := context.Background()

	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		return "job-1", nil
	}

	result, replayed, err := guard.Execute(ctx, ScopePurchase, "k1", op)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "job-1", result)

	// Second call with the same key: cached result, no second side effect.
	result, replayed, err = guard.Execute(ctx, ScopePurchase, "k1", op)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, "job-1", result)
	assert.Equal(t, 1, calls)
}

func TestExecute_ScopesAreIndependent(t *testing.T) {
	guard, _ := newTestGuard()
	ctx := context.Background()

	for _, scope := range []string{ScopeCreate, ScopePurchase, ScopeForward} {
		result, replayed, err := guard.Execute(ctx, scope, "same-token", func(ctx context.Context) (string, error) {
			return scope + "-result", nil
		})
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.Equal(t, scope+"-result", result)
	}
}

func TestExecute_InFlightConflict(t *testing.T) {
	guard, store := newTestGuard()
	ctx := context.Background()

	// Simulate an in-flight reservation left by a concurrent request.
	created, err := store.Reserve(ctx, ScopePurchase, "k1")
	require.NoError(t, err)
	require.True(t, created)

	_, _, err = guard.Execute(ctx, ScopePurchase, "k1", func(ctx context.Context) (string, error) {
		t.Fatal("op must not run while key is in flight")
		return "", nil
	})
	require.ErrorIs(t, err, ErrInFlight)
}

func TestExecute_FailedRunIsRetaken(t *testing.T) {
	guard, _ := newTestGuard()
	ctx := context.Background()

	boom := errors.New("supplier unreachable")
	_, _, err := guard.Execute(ctx, ScopePurchase, "k1", func(ctx context.Context) (string, error) {
		return "", boom
	})
	require.ErrorIs(t, err, boom)

	// The key is FAILED now; a retry re-runs the operation.
	result, replayed, err := guard.Execute(ctx, ScopePurchase, "k1", func(ctx context.Context) (string, error) {
		return "job-2", nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "job-2", result)
}

func TestReserve_SetsTTL(t *testing.T) {
	_, store := newTestGuard()
	ctx := context.Background()

	start := time.Now()
	created, err := store.Reserve(ctx, ScopeWebhook, "evt-1")
	require.NoError(t, err)
	require.True(t, created)

	rec, err := store.Get(ctx, ScopeWebhook, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusInProgress, rec.Status)

	ttl := time.Unix(rec.ExpiresAt, 0).Sub(start)
	assert.InDelta(t, (24 * time.Hour).Seconds(), ttl.Seconds(), 60)
}
