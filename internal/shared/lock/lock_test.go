package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.now = func() time.Time { return clock }

	release, ok, err := l.TryLock(ctx, "escalation", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "escalation", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	_, ok, _ = l.TryLock(ctx, "other", time.Minute)
	assert.True(t, ok, "keys are independent")

	require.NoError(t, release(ctx))
	release2, ok, _ := l.TryLock(ctx, "escalation", time.Minute)
	assert.True(t, ok, "lock is free after release")

	// An expired lease can be taken over, and the stale release is a no-op
	clock = clock.Add(2 * time.Minute)
	_, ok, _ = l.TryLock(ctx, "escalation", time.Minute)
	require.True(t, ok)
	require.NoError(t, release2(ctx))
	_, ok, _ = l.TryLock(ctx, "escalation", time.Minute)
	assert.False(t, ok, "stale release must not drop the new holder's lease")
}
