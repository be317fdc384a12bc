package payout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLease()
	l.now = func() time.Time { return now }

	release, ok, err := l.Acquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = l.Acquire(ctx, "other", time.Minute)
	assert.True(t, ok)

	release()
	_, ok, _ = l.Acquire(ctx, "run", time.Minute)
	assert.True(t, ok)
}

func TestMemoryLeaseExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLease()
	l.now = func() time.Time { return now }

	stale, ok, _ := l.Acquire(ctx, "run", time.Minute)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = l.Acquire(ctx, "run", time.Minute)
	require.True(t, ok)

	// releasing the expired lease must not drop the new holder
	stale()
	_, ok, _ = l.Acquire(ctx, "run", time.Minute)
	assert.False(t, ok)
}
