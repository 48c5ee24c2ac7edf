package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlekit/pkg/cache"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
)

type state struct {
	Version int `json:"version"`
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newCache builds a cache over a memory tier whose entries never expire at
// the tier level, so the cache's own clock decides freshness.
func newCache(t *testing.T) (*cache.Cache[state], *clock) {
	t.Helper()
	clk := &clock{now: time.Now()}
	c := cache.New[state](cache.NewMemory(100), "customerState",
		cache.WithTTL(time.Minute, time.Hour),
		cache.WithClock(clk.Now),
		cache.WithLogger(logger.Noop()),
	)
	return c, clk
}

func TestCache_GetSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, clk := newCache(t)

	_, _, err := c.Get(ctx, "acct:cus")
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, c.Set(ctx, "acct:cus", state{Version: 1}))

	v, stale, err := c.Get(ctx, "acct:cus")
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, 1, v.Version)

	clk.Advance(2 * time.Minute)
	v, stale, err = c.Get(ctx, "acct:cus")
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, 1, v.Version)

	clk.Advance(2 * time.Hour)
	_, _, err = c.Get(ctx, "acct:cus")
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, c.Set(ctx, "acct:cus", state{Version: 2}))
	require.NoError(t, c.Remove(ctx, "acct:cus"))
	_, _, err = c.Get(ctx, "acct:cus")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestCache_Fetch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("miss loads synchronously and stores", func(t *testing.T) {
		t.Parallel()
		c, _ := newCache(t)
		var calls atomic.Int32
		load := func(context.Context) (state, bool, error) {
			calls.Add(1)
			return state{Version: 7}, true, nil
		}

		v, err := c.Fetch(ctx, "k", load)
		require.NoError(t, err)
		assert.Equal(t, 7, v.Version)

		v, err = c.Fetch(ctx, "k", load)
		require.NoError(t, err)
		assert.Equal(t, 7, v.Version)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("miss not found", func(t *testing.T) {
		t.Parallel()
		c, _ := newCache(t)
		_, err := c.Fetch(ctx, "k", func(context.Context) (state, bool, error) {
			return state{}, false, nil
		})
		assert.ErrorIs(t, err, cache.ErrMiss)
	})

	t.Run("miss load error", func(t *testing.T) {
		t.Parallel()
		c, _ := newCache(t)
		boom := errors.New("boom")
		_, err := c.Fetch(ctx, "k", func(context.Context) (state, bool, error) {
			return state{}, false, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("stale hit returns old value and revalidates once", func(t *testing.T) {
		t.Parallel()
		c, clk := newCache(t)
		require.NoError(t, c.Set(ctx, "k", state{Version: 1}))
		clk.Advance(2 * time.Minute)

		release := make(chan struct{})
		var calls atomic.Int32
		load := func(context.Context) (state, bool, error) {
			calls.Add(1)
			<-release
			return state{Version: 2}, true, nil
		}

		for range 5 {
			v, err := c.Fetch(ctx, "k", load)
			require.NoError(t, err)
			assert.Equal(t, 1, v.Version)
		}
		close(release)
		c.Wait()

		assert.Equal(t, int32(1), calls.Load())
		v, stale, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, stale)
		assert.Equal(t, 2, v.Version)
	})

	t.Run("revalidation removes vanished value", func(t *testing.T) {
		t.Parallel()
		c, clk := newCache(t)
		require.NoError(t, c.Set(ctx, "k", state{Version: 1}))
		clk.Advance(2 * time.Minute)

		_, err := c.Fetch(ctx, "k", func(context.Context) (state, bool, error) {
			return state{}, false, nil
		})
		require.NoError(t, err)
		c.Wait()

		_, _, err = c.Get(ctx, "k")
		assert.ErrorIs(t, err, cache.ErrMiss)
	})

	t.Run("failed revalidation keeps stale value", func(t *testing.T) {
		t.Parallel()
		c, clk := newCache(t)
		require.NoError(t, c.Set(ctx, "k", state{Version: 1}))
		clk.Advance(2 * time.Minute)

		_, err := c.Fetch(ctx, "k", func(context.Context) (state, bool, error) {
			return state{}, false, errors.New("upstream down")
		})
		require.NoError(t, err)
		c.Wait()

		v, stale, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, stale)
		assert.Equal(t, 1, v.Version)
	})

	t.Run("revalidation outlives request context", func(t *testing.T) {
		t.Parallel()
		c, clk := newCache(t)
		require.NoError(t, c.Set(ctx, "k", state{Version: 1}))
		clk.Advance(2 * time.Minute)

		reqCtx, cancel := context.WithCancel(ctx)
		_, err := c.Fetch(reqCtx, "k", func(ctx context.Context) (state, bool, error) {
			time.Sleep(10 * time.Millisecond)
			return state{Version: 3}, true, ctx.Err()
		})
		require.NoError(t, err)
		cancel()
		c.Wait()

		v, _, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 3, v.Version)
	})
}

func TestCache_RemovePrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tier := cache.NewMemory(10)
	customers := cache.New[state](tier, "customerState")
	tables := cache.New[state](tier, "pricingTableState")

	require.NoError(t, customers.Set(ctx, cache.Key("acct_1", "cus_1"), state{}))
	require.NoError(t, customers.Set(ctx, cache.Key("acct_2", "cus_1"), state{}))
	require.NoError(t, tables.Set(ctx, cache.Key("acct_1", "1"), state{}))

	require.NoError(t, customers.RemovePrefix(ctx, "acct_1:"))

	_, _, err := customers.Get(ctx, cache.Key("acct_1", "cus_1"))
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, _, err = customers.Get(ctx, cache.Key("acct_2", "cus_1"))
	assert.NoError(t, err)
	_, _, err = tables.Get(ctx, cache.Key("acct_1", "1"))
	assert.NoError(t, err)
}

func TestCache_RemoveDuringRevalidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, clk := newCache(t)
	require.NoError(t, c.Set(ctx, "acct:cus", state{Version: 1}))
	clk.Advance(2 * time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	v, err := c.Fetch(ctx, "acct:cus", func(context.Context) (state, bool, error) {
		close(started)
		<-release
		return state{Version: 2}, true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)

	<-started
	require.NoError(t, c.Remove(ctx, "acct:cus"))
	close(release)
	c.Wait()

	_, _, err = c.Get(ctx, "acct:cus")
	assert.ErrorIs(t, err, cache.ErrMiss)
}
