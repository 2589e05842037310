package s3

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamoLock_AcquireRelease(t *testing.T) {
	ddb := newMockDDBClient()
	a := NewDynamoLock(ddb, "locks", WithAttempts(2, time.Millisecond))
	b := NewDynamoLock(ddb, "locks", WithAttempts(2, time.Millisecond))

	release, err := a.Acquire(t.Context(), "k")
	require.NoError(t, err)

	owner, held := ddb.owner("k")
	require.True(t, held)
	assert.Equal(t, a.owner, owner)

	_, err = b.Acquire(t.Context(), "k")
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(t.Context()))
	_, held = ddb.owner("k")
	assert.False(t, held)

	releaseB, err := b.Acquire(t.Context(), "k")
	require.NoError(t, err)
	require.NoError(t, releaseB(t.Context()))
}

func TestDynamoLock_ExpiredLeaseIsTakenOver(t *testing.T) {
	ddb := newMockDDBClient()
	start := time.Unix(1_700_000_000, 0)

	a := NewDynamoLock(ddb, "locks", WithLease(time.Second))
	a.now = func() time.Time { return start }
	b := NewDynamoLock(ddb, "locks", WithAttempts(1, time.Millisecond))
	b.now = func() time.Time { return start.Add(2 * time.Second) }

	releaseA, err := a.Acquire(t.Context(), "k")
	require.NoError(t, err)

	_, err = b.Acquire(t.Context(), "k")
	require.NoError(t, err)

	// A's release must not drop B's lock.
	require.NoError(t, releaseA(t.Context()))
	owner, held := ddb.owner("k")
	require.True(t, held)
	assert.Equal(t, b.owner, owner)
}

func TestDynamoLock_ContextCanceled(t *testing.T) {
	ddb := newMockDDBClient()
	a := NewDynamoLock(ddb, "locks")
	b := NewDynamoLock(ddb, "locks", WithAttempts(100, time.Hour))

	_, err := a.Acquire(t.Context(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = b.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
