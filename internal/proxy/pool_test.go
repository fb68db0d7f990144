package proxy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/conciliation-filer/internal/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestPool(t *testing.T, ids ...Identity) *Pool {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 0
	p, err := NewPool(cfg, ids, WithClock(clock.Now), WithLogger(logger.Nop()))
	require.NoError(t, err)
	return p
}

func TestAcquire_PrefersStateAffinity(t *testing.T) {
	p := newTestPool(t,
		Identity{ID: "mx-1", StateAffinity: "CMX", DailyQuota: 5, Active: true},
		Identity{ID: "jal-1", StateAffinity: "JAL", DailyQuota: 5, Active: true},
	)

	id, err := p.Acquire(context.Background(), "JAL")
	require.NoError(t, err)
	assert.Equal(t, "jal-1", id.ID)
	assert.Equal(t, 1, id.UsesToday)
}

func TestAcquire_LeastRecentlyUsed(t *testing.T) {
	p := newTestPool(t,
		Identity{ID: "a", StateAffinity: "JAL", DailyQuota: 5, Active: true},
		Identity{ID: "b", StateAffinity: "JAL", DailyQuota: 5, Active: true},
	)
	ctx := context.Background()

	first, err := p.Acquire(ctx, "JAL")
	require.NoError(t, err)
	second, err := p.Acquire(ctx, "JAL")
	require.NoError(t, err)
	third, err := p.Acquire(ctx, "JAL")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.ID, third.ID)
}

func TestAcquire_FallsBackWhenAffineExhausted(t *testing.T) {
	p := newTestPool(t,
		Identity{ID: "jal-1", StateAffinity: "JAL", DailyQuota: 1, Active: true},
		Identity{ID: "any-1", DailyQuota: 1, Active: true},
		Identity{ID: "off", StateAffinity: "JAL", DailyQuota: 10, Active: false},
	)
	ctx := context.Background()

	id, err := p.Acquire(ctx, "JAL")
	require.NoError(t, err)
	assert.Equal(t, "jal-1", id.ID)

	id, err = p.Acquire(ctx, "JAL")
	require.NoError(t, err)
	assert.Equal(t, "any-1", id.ID)

	_, err = p.Acquire(ctx, "JAL")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRelease_RefundsUnusedQuota(t *testing.T) {
	p := newTestPool(t, Identity{ID: "a", DailyQuota: 1, Active: true})
	ctx := context.Background()

	id, err := p.Acquire(ctx, "")
	require.NoError(t, err)
	_, err = p.Acquire(ctx, "")
	require.ErrorIs(t, err, ErrUnavailable)

	p.Release(id, false)
	id, err = p.Acquire(ctx, "")
	require.NoError(t, err)

	p.Release(id, true)
	_, err = p.Acquire(ctx, "")
	assert.ErrorIs(t, err, ErrUnavailable)

	p.ResetDaily()
	p.Release(id, false)
	assert.Equal(t, 0, p.Snapshot()[0].UsesToday)
}

func TestResetDaily(t *testing.T) {
	p := newTestPool(t, Identity{ID: "a", DailyQuota: 2, Active: true})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := p.Acquire(ctx, "")
		require.NoError(t, err)
	}
	assert.Equal(t, Stats{Identities: 1, Active: 1, Available: 0, UsesToday: 2}, p.Stats())

	p.ResetDaily()
	assert.Equal(t, 0, p.Snapshot()[0].UsesToday)
	_, err := p.Acquire(ctx, "")
	assert.NoError(t, err)
}

func TestAcquire_ConcurrentNeverExceedsQuota(t *testing.T) {
	ids := []Identity{
		{ID: "a", StateAffinity: "JAL", DailyQuota: 7, Active: true},
		{ID: "b", StateAffinity: "CMX", DailyQuota: 5, Active: true},
		{ID: "c", DailyQuota: 3, Active: true},
	}
	p := newTestPool(t, ids...)
	ctx := context.Background()

	var granted, refused, released atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state := []string{"JAL", "CMX", "NLE"}[i%3]
			id, err := p.Acquire(ctx, state)
			if errors.Is(err, ErrUnavailable) {
				refused.Add(1)
				return
			}
			granted.Add(1)
			if i%5 == 0 {
				p.Release(id, false)
				released.Add(1)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, id := range p.Snapshot() {
		assert.LessOrEqual(t, id.UsesToday, id.DailyQuota, id.ID)
		assert.GreaterOrEqual(t, id.UsesToday, 0, id.ID)
		total += id.UsesToday
	}
	assert.Equal(t, int(granted.Load()-released.Load()), total)
	assert.Equal(t, int64(64), granted.Load()+refused.Load())
}

func TestAcquire_CancelledContext(t *testing.T) {
	p := newTestPool(t, Identity{ID: "a", DailyQuota: 1, Active: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Acquire(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.Snapshot()[0].UsesToday)
}

func TestLoad_KeepsCounters(t *testing.T) {
	p := newTestPool(t, Identity{ID: "a", DailyQuota: 5, Active: true})
	_, err := p.Acquire(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, p.Load([]Identity{
		{ID: "a", DailyQuota: 5, Active: true},
		{ID: "b", DailyQuota: 5, Active: true},
	}))
	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 1, snap[0].UsesToday)
	assert.Equal(t, 0, snap[1].UsesToday)
}

func TestLoad_Rejects(t *testing.T) {
	p := newTestPool(t)
	assert.Error(t, p.Load([]Identity{{ID: "a"}, {ID: "a"}}))
	assert.Error(t, p.Load([]Identity{{ID: ""}}))
	assert.Error(t, p.Load([]Identity{{ID: "x", Endpoint: "not a url"}}))
	assert.NoError(t, p.Load([]Identity{{ID: "x", Endpoint: "http://user:pw@10.0.0.1:3128"}}))
}

func TestWait_RateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 60
	cfg.Burst = 1
	p, err := NewPool(cfg, []Identity{{ID: "a", DailyQuota: 5, Active: true}}, WithLogger(logger.Nop()))
	require.NoError(t, err)
	id := p.Snapshot()[0]

	require.NoError(t, p.Wait(context.Background(), id))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Wait(ctx, id))

	assert.Error(t, p.Wait(context.Background(), Identity{ID: "ghost"}))
}
