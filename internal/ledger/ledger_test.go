package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// forEachStore runs fn against a fresh ledger on every store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, l *Ledger)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, New(NewMemoryStore(), zaptest.NewLogger(t)))
	})
	t.Run("gorm-sqlite", func(t *testing.T) {
		store, err := OpenSQLite(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		fn(t, New(store, zaptest.NewLogger(t)))
	})
}

func balance(t *testing.T, l *Ledger, account string) int64 {
	t.Helper()
	bal, err := l.Balance(context.Background(), account)
	require.NoError(t, err)
	return bal
}

func TestOpenAccount_GrantsOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		ctx := context.Background()
		created, err := l.OpenAccount(ctx, "alice", 1000)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = l.OpenAccount(ctx, "alice", 1000)
		require.NoError(t, err)
		assert.False(t, created)
		assert.EqualValues(t, 1000, balance(t, l, "alice"))

		entries, err := l.Entries(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.EqualValues(t, 1000, entries[0].Delta)
	})
}

func TestLock_InsufficientFunds(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		ctx := context.Background()
		_, err := l.OpenAccount(ctx, "bob", 50)
		require.NoError(t, err)

		_, err = l.Lock(ctx, "bob", 100, "stake")
		require.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Contains(t, err.Error(), "needs 100")
		assert.EqualValues(t, 50, balance(t, l, "bob"))

		_, err = l.Lock(ctx, "nobody", 1, "stake")
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		_, err = l.Lock(ctx, "bob", 0, "stake")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestRelease_PaysOutAndConserves(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		ctx := context.Background()
		for _, a := range []string{"a", "b", "c"} {
			_, err := l.OpenAccount(ctx, a, 100)
			require.NoError(t, err)
		}
		ha, err := l.Lock(ctx, "a", 100, "stake")
		require.NoError(t, err)
		hb, err := l.Lock(ctx, "b", 100, "stake")
		require.NoError(t, err)
		hc, err := l.Lock(ctx, "c", 100, "stake")
		require.NoError(t, err)
		assert.Zero(t, balance(t, l, "a"))

		// c lost: a and b get their stakes back plus half of c's each.
		_, err = l.Release(ctx, ha, Outcome{Credits: []Credit{{"a", 100}}, Reason: "payout"})
		require.NoError(t, err)
		_, err = l.Release(ctx, hb, Outcome{Credits: []Credit{{"b", 100}}, Reason: "payout"})
		require.NoError(t, err)
		receipt, err := l.Release(ctx, hc, Outcome{Credits: []Credit{{"a", 50}, {"b", 50}}, Reason: "payout"})
		require.NoError(t, err)
		assert.Equal(t, hc.ID, receipt.Hold)

		assert.EqualValues(t, 150, balance(t, l, "a"))
		assert.EqualValues(t, 150, balance(t, l, "b"))
		assert.EqualValues(t, 0, balance(t, l, "c"))

		entries, err := l.Entries(ctx, "a")
		require.NoError(t, err)
		var sum int64
		for _, e := range entries {
			sum += e.Delta
		}
		assert.EqualValues(t, 150, sum, "audit trail adds up to the balance")
	})
}

func TestRelease_Idempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		ctx := context.Background()
		_, err := l.OpenAccount(ctx, "a", 100)
		require.NoError(t, err)
		_, err = l.OpenAccount(ctx, "b", 0)
		require.NoError(t, err)
		h, err := l.Lock(ctx, "a", 60, "stake")
		require.NoError(t, err)

		first, err := l.Release(ctx, h, Outcome{Credits: []Credit{{"b", 60}}, Reason: "payout"})
		require.NoError(t, err)
		second, err := l.Release(ctx, h, Outcome{Credits: []Credit{{"a", 60}}, Reason: "again"})
		require.NoError(t, err)

		assert.Equal(t, first.Hold, second.Hold)
		assert.Equal(t, first.Credits, second.Credits)
		assert.Equal(t, first.Reason, second.Reason)
		assert.EqualValues(t, 40, balance(t, l, "a"))
		assert.EqualValues(t, 60, balance(t, l, "b"))
	})
}

func TestRelease_ConsistencyFaults(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		ctx := context.Background()
		_, err := l.OpenAccount(ctx, "a", 100)
		require.NoError(t, err)
		h, err := l.Lock(ctx, "a", 100, "stake")
		require.NoError(t, err)

		_, err = l.Release(ctx, h, Outcome{Credits: []Credit{{"a", 99}}})
		assert.ErrorIs(t, err, ErrConsistencyFault, "credits short of the hold")

		_, err = l.Release(ctx, h, Outcome{Credits: []Credit{{"a", 150}, {"a", -50}}})
		assert.ErrorIs(t, err, ErrConsistencyFault, "negative credit")

		_, err = l.Release(ctx, h, Outcome{Credits: []Credit{{"a", 50}, {"ghost", 50}}})
		assert.ErrorIs(t, err, ErrConsistencyFault, "unknown account")
		assert.Zero(t, balance(t, l, "a"), "failed release credits nobody")

		_, err = l.Release(ctx, Handle{ID: "no-such-hold", Account: "a", Amount: 1}, Outcome{})
		assert.ErrorIs(t, err, ErrConsistencyFault)

		_, err = l.Refund(ctx, h, "abort")
		require.NoError(t, err)
		assert.EqualValues(t, 100, balance(t, l, "a"))
	})
}

func TestDeposit_OpensMissingAccount(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		ctx := context.Background()
		require.NoError(t, l.Deposit(ctx, "house", 25, "seed"))
		require.NoError(t, l.Deposit(ctx, "house", 25, "seed"))
		assert.EqualValues(t, 50, balance(t, l, "house"))
		assert.ErrorIs(t, l.Deposit(ctx, "house", -1, "bad"), ErrInvalidAmount)
	})
}

func TestLock_ConcurrentNeverOverdraws(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		ctx := context.Background()
		_, err := l.OpenAccount(ctx, "a", 100)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		var handles []Handle
		for range 40 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h, err := l.Lock(ctx, "a", 10, "stake")
				if err != nil {
					assert.ErrorIs(t, err, ErrInsufficientFunds)
					return
				}
				mu.Lock()
				handles = append(handles, h)
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Len(t, handles, 10)
		assert.Zero(t, balance(t, l, "a"))

		for _, h := range handles {
			wg.Add(2)
			for range 2 {
				go func() {
					defer wg.Done()
					_, err := l.Refund(ctx, h, "refund")
					assert.NoError(t, err)
				}()
			}
		}
		wg.Wait()
		assert.EqualValues(t, 100, balance(t, l, "a"), "double refunds pay once")
	})
}

func TestKeyedMutex_ForgetsIdleKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())
	unlockA()
	unlockB()
	assert.Zero(t, k.size())
}
