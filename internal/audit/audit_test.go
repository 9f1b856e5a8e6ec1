package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropship-labs/fulfillment/internal/awstest"
)

const auditTable = "audit-test"

func newAuditStore() *Store {
	fake := awstest.NewDynamoFake(map[string]string{auditTable: "entry_id"})
	store := NewStore(fake, auditTable)
	// Monotonic clock so ordering assertions are deterministic.
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	store.nowFunc = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return store
}

func TestAppendAndListByOrder(t *testing.T) {
	store := newAuditStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "o-1", ActorUser, ActionStatusChanged, map[string]string{
		"from": "PENDING", "to": "SUPPLIER_ORDERING", "trigger": "execute_purchase",
	}))
	require.NoError(t, store.Append(ctx, "o-1", ActorSystem, ActionPurchaseAttempt, map[string]string{
		"job_id": "j-1", "attempt": "1", "outcome": "success",
	}))
	require.NoError(t, store.Append(ctx, "o-2", ActorWebhook, ActionWebhookReceived, nil))

	entries, err := store.ListByOrder(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, ActionStatusChanged, entries[0].Action)
	assert.Equal(t, ActorUser, entries[0].Actor)
	assert.Equal(t, "execute_purchase", entries[0].Meta["trigger"])
	assert.Equal(t, ActionPurchaseAttempt, entries[1].Action)
	assert.True(t, entries[0].TS.Before(entries[1].TS))

	other, err := store.ListByOrder(ctx, "o-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestListByOrder_EmptyOrder(t *testing.T) {
	store := newAuditStore()
	entries, err := store.ListByOrder(context.Background(), "o-404")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
