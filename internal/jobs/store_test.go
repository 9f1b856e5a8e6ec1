package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropship-labs/fulfillment/internal/awstest"
)

const jobsTable = "jobs-test"

func newJobStore() *Store {
	fake := awstest.NewDynamoFake(map[string]string{jobsTable: "job_id"})
	return NewStore(fake, jobsTable)
}

func queuedJob(id string) Job {
	return Job{
		JobID:       id,
		OrderID:     "o-1",
		Type:        TypePurchase,
		Attempt:     1,
		ScheduledAt: time.Now().UTC().Round(time.Second),
	}
}

func TestCreateAndGet(t *testing.T) {
	store := newJobStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, queuedJob("j-1")))

	got, err := store.Get(ctx, "j-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, 1, got.Attempt)

	missing, err := store.Get(ctx, "j-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestClaim_ExactlyOneWinner(t *testing.T) {
	store := newJobStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, queuedJob("j-1")))

	// Two workers hold the same delivery and read the same queued snapshot.
	a, err := store.Get(ctx, "j-1")
	require.NoError(t, err)
	b, err := store.Get(ctx, "j-1")
	require.NoError(t, err)

	require.NoError(t, store.Claim(ctx, a))
	assert.Equal(t, StatusRunning, a.Status)

	err = store.Claim(ctx, b)
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestClaim_RefusesNonQueued(t *testing.T) {
	store := newJobStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, queuedJob("j-1")))
	job, err := store.Get(ctx, "j-1")
	require.NoError(t, err)
	require.NoError(t, store.Claim(ctx, job))
	require.NoError(t, store.MarkDone(ctx, job, ""))

	// A redelivery after completion must not re-run the job.
	stale, err := store.Get(ctx, "j-1")
	require.NoError(t, err)
	require.ErrorIs(t, store.Claim(ctx, stale), ErrAlreadyClaimed)
}

func TestMarkDoneAndDead(t *testing.T) {
	store := newJobStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, queuedJob("j-1")))
	job, err := store.Get(ctx, "j-1")
	require.NoError(t, err)
	require.NoError(t, store.Claim(ctx, job))
	require.NoError(t, store.MarkDone(ctx, job, "stale result discarded"))
	assert.Equal(t, StatusDone, job.Status)
	assert.Equal(t, "stale result discarded", job.Note)

	require.NoError(t, store.Create(ctx, queuedJob("j-2")))
	dead, err := store.Get(ctx, "j-2")
	require.NoError(t, err)
	require.NoError(t, store.Claim(ctx, dead))
	require.NoError(t, store.MarkDead(ctx, dead, "permanent: out_of_stock"))
	assert.Equal(t, StatusDead, dead.Status)
}
