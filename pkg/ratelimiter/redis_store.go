package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript runs the bucket update atomically. KEYS[1] is the bucket hash;
// ARGV holds n, capacity, refill rate, refill interval (ms), now (ms) and
// the key TTL (ms). It returns {allowed, remaining, last refill (ms)}.
var takeScript = redis.NewScript(`
local n, capacity, rate = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3])
local interval, now, ttl = tonumber(ARGV[4]), tonumber(ARGV[5]), tonumber(ARGV[6])

local state = redis.call("HMGET", KEYS[1], "tokens", "last")
local tokens, last = tonumber(state[1]), tonumber(state[2])
if tokens == nil or last == nil then
	tokens, last = capacity, now
end

if now > last then
	local intervals = math.floor((now - last) / interval)
	if intervals > 0 then
		tokens = math.min(tokens + math.min(intervals, math.floor(capacity / rate) + 1) * rate, capacity)
		last = last + intervals * interval
	end
end

local allowed = 0
if tokens >= n then
	tokens = tokens - n
	allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "last", last)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tokens, last}
`)

// RedisStore shares buckets between processes. A bucket expires once it
// would be full again.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Take(ctx context.Context, key string, n int, cfg Config, now time.Time) (Result, error) {
	fill := time.Duration(cfg.Capacity/cfg.RefillRate+1) * cfg.RefillInterval
	raw, err := takeScript.Run(ctx, s.client, []string{s.prefix + key},
		n, cfg.Capacity, cfg.RefillRate,
		cfg.RefillInterval.Milliseconds(), now.UnixMilli(), fill.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimiter: redis take %q: %w", key, err)
	}
	if len(raw) != 3 {
		return Result{}, fmt.Errorf("ratelimiter: redis take %q: unexpected reply %v", key, raw)
	}
	return Result{
		Limit:     cfg.Capacity,
		Remaining: int(raw[1]),
		ResetAt:   time.UnixMilli(raw[2]).Add(cfg.RefillInterval),
		Allowed:   raw[0] == 1,
	}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("ratelimiter: redis reset %q: %w", key, err)
	}
	return nil
}
