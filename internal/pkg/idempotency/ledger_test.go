package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger() *Ledger {
	return NewLedger(memstore.New().Repositories().Idempotency, time.Minute)
}

func TestLedgerDuplicateAfterComplete(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	claim, err := l.Begin(ctx, "evt_1", "k1")
	require.NoError(t, err)
	require.False(t, claim.Duplicate)

	ok, err := l.Complete(ctx, claim, map[string]string{"outcome": "handled"})
	require.NoError(t, err)
	require.True(t, ok)

	again, err := l.Begin(ctx, "evt_1", "k1")
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.JSONEq(t, `{"outcome":"handled"}`, string(again.Result))

	// A different dedup key for the same event is a separate pair.
	other, err := l.Begin(ctx, "evt_1", "k2")
	require.NoError(t, err)
	assert.False(t, other.Duplicate)
}

func TestLedgerConcurrentClaimsHaveSingleWinner(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := l.Begin(ctx, "evt_race", "")
			if err != nil || claim.Duplicate {
				return
			}
			ok, err := l.Complete(ctx, claim, nil)
			if err == nil && ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestLedgerFailedClaimCanBeRetaken(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	claim, err := l.Begin(ctx, "evt_2", "")
	require.NoError(t, err)
	require.NoError(t, l.Fail(ctx, claim, errors.New("boom")))

	retry, err := l.Begin(ctx, "evt_2", "")
	require.NoError(t, err)
	assert.False(t, retry.Duplicate)
}

func TestLedgerInFlightClaimIsDuplicateUntilStale(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	now := time.Now()
	l.now = func() time.Time { return now }

	_, err := l.Begin(ctx, "evt_3", "")
	require.NoError(t, err)

	second, err := l.Begin(ctx, "evt_3", "")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	l.now = func() time.Time { return now.Add(2 * time.Minute) }
	takeover, err := l.Begin(ctx, "evt_3", "")
	require.NoError(t, err)
	assert.False(t, takeover.Duplicate)
}
