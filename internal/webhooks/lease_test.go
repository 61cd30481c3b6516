package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewMemoryLocker()
	l.now = clock.Now

	token, ok, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok)

	// a stale token does not release someone else's lease
	require.NoError(t, l.Release(ctx, "k", "stale"))
	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok)

	clock.Advance(time.Minute + time.Second)
	fresh, ok, _ := l.Acquire(ctx, "k", time.Minute)
	require.True(t, ok, "expired lease can be taken over")

	require.NoError(t, l.Release(ctx, "k", token))
	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok, "the expired holder's release is ignored")

	require.NoError(t, l.Release(ctx, "k", fresh))
	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok)
}
