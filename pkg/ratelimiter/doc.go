// Package ratelimiter throttles API callers with a token bucket.
//
// Each key (the connected account for the entitlements API) owns a bucket of
// Capacity tokens that regains RefillRate tokens every RefillInterval. A
// request costs one token; a request finding the bucket empty is limited
// until the next refill.
//
//	bucket, err := ratelimiter.NewBucket(ratelimiter.NewRedisStore(client, "entitlekit:rl:"), cfg)
//	r.Use(ratelimiter.Middleware(bucket, ratelimiter.HeaderKey("Stripe-Account")))
//
// Buckets live in process memory (MemoryStore) or in Redis (RedisStore) when
// several API replicas share the limit.
package ratelimiter
