package ratelimiter

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrymomot/entitlekit/pkg/cache"
)

type bucketState struct {
	tokens     int
	lastRefill time.Time
}

// MemoryStore keeps up to capacity buckets in process memory. The least
// recently used bucket is dropped first, which only forgives its debt.
type MemoryStore struct {
	mu      sync.Mutex
	buckets *cache.LRU[string, bucketState]
}

func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{buckets: cache.NewLRU[string, bucketState](capacity)}
}

func (s *MemoryStore) Take(_ context.Context, key string, n int, cfg Config, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets.Get(key)
	if !ok {
		b = bucketState{tokens: cfg.Capacity, lastRefill: now}
	}
	b.tokens, b.lastRefill = refill(b.tokens, b.lastRefill, now, cfg)

	res := Result{Limit: cfg.Capacity, ResetAt: b.lastRefill.Add(cfg.RefillInterval)}
	if b.tokens >= n {
		b.tokens -= n
		res.Allowed = true
	}
	res.Remaining = b.tokens
	s.buckets.Put(key, b)
	return res, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.buckets.Remove(key)
	return nil
}
