package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/recordings/pkg/clock"
	"github.com/aura-webinar/recordings/pkg/lock"
)

func newManager(t *testing.T) (*lock.Manager, *miniredis.Miniredis, *clock.Manual) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	clk := clock.NewManual(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	return lock.NewManager(client, clk, nil), mr, clk
}

func TestAcquireIsExclusive(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	uut, _, clk := newManager(t)

	l, err := uut.Acquire(ctx, "lock:recording-active:room1", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(l.Holder)
	assert.Equal(clk.Now(), l.CreatedAt)

	_, err = uut.Acquire(ctx, "lock:recording-active:room1", time.Hour)
	assert.ErrorIs(err, lock.ErrAlreadyLocked)

	// Different name is independent
	_, err = uut.Acquire(ctx, "lock:recording-active:room2", time.Hour)
	assert.NoError(err)
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	ctx := context.Background()
	uut, _, _ := newManager(t)

	const contenders = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := uut.Acquire(ctx, "lock:recording-active:busy", time.Minute); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestReleaseChecksHolder(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	uut, mr, _ := newManager(t)

	first, err := uut.Acquire(ctx, "lock:x", time.Second)
	require.NoError(t, err)

	// First holder expires, a newer holder takes over
	mr.FastForward(2 * time.Second)
	second, err := uut.Acquire(ctx, "lock:x", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(uut.Release(ctx, first), lock.ErrLockMismatch)
	exists, err := uut.LockExists(ctx, "lock:x")
	assert.NoError(err)
	assert.True(exists)

	assert.NoError(uut.Release(ctx, second))
	exists, err = uut.LockExists(ctx, "lock:x")
	assert.NoError(err)
	assert.False(exists)

	// Releasing again is a no-op
	assert.NoError(uut.Release(ctx, second))
}

func TestCreatedAtAndPrefixListing(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	uut, _, clk := newManager(t)

	_, ok, err := uut.GetLockCreatedAt(ctx, "lock:recording-active:a")
	assert.NoError(err)
	assert.False(ok)

	a, err := uut.Acquire(ctx, "lock:recording-active:a", time.Hour)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = uut.Acquire(ctx, "lock:recording-active:b", time.Hour)
	require.NoError(t, err)
	_, err = uut.Acquire(ctx, "lock:other:c", time.Hour)
	require.NoError(t, err)

	createdAt, ok, err := uut.GetLockCreatedAt(ctx, "lock:recording-active:a")
	assert.NoError(err)
	assert.True(ok)
	assert.True(createdAt.Equal(a.CreatedAt))

	locks, err := uut.GetLocksByPrefix(ctx, "lock:recording-active:")
	assert.NoError(err)
	assert.Len(locks, 2)
	holders := map[string]string{}
	for _, l := range locks {
		holders[l.Name] = l.Holder
	}
	assert.Equal(a.Holder, holders["lock:recording-active:a"])
	assert.Contains(holders, "lock:recording-active:b")
}

func TestStoreUnavailableIsAnError(t *testing.T) {
	ctx := context.Background()
	uut, mr, _ := newManager(t)
	mr.Close()

	_, err := uut.Acquire(ctx, "lock:down", time.Minute)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, lock.ErrAlreadyLocked)
}
