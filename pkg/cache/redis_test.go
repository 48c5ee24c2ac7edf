package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlekit/pkg/cache"
)

func redisClient(t *testing.T) *goredis.Client {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := goredis.ParseURL(url)
	require.NoError(t, err)
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedis(t *testing.T) {
	t.Parallel()

	client := redisClient(t)
	ctx := context.Background()
	tier := cache.NewRedis(client, "test:"+uuid.NewString()+":")

	_, err := tier.Get(ctx, "missing")
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, tier.Set(ctx, "customerState:acct_[1]:cus_1", entry(`{"version":1}`, time.Minute, time.Minute)))
	require.NoError(t, tier.Set(ctx, "customerState:acct_[1]:cus_2", entry(`{"version":1}`, time.Minute, time.Minute)))
	require.NoError(t, tier.Set(ctx, "customerState:acct_2:cus_1", entry(`{"version":2}`, time.Minute, time.Minute)))

	got, err := tier.Get(ctx, "customerState:acct_2:cus_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":2}`, string(got.Value))

	require.NoError(t, tier.DeletePrefix(ctx, "customerState:acct_[1]:"))
	_, err = tier.Get(ctx, "customerState:acct_[1]:cus_1")
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, err = tier.Get(ctx, "customerState:acct_2:cus_1")
	assert.NoError(t, err)

	require.NoError(t, tier.Delete(ctx, "customerState:acct_2:cus_1"))
	_, err = tier.Get(ctx, "customerState:acct_2:cus_1")
	assert.ErrorIs(t, err, cache.ErrMiss)

	// an already expired entry is not written
	require.NoError(t, tier.Set(ctx, "gone", cache.Entry{StaleUntil: time.Now().Add(-time.Second)}))
	_, err = tier.Get(ctx, "gone")
	assert.ErrorIs(t, err, cache.ErrMiss)
}
