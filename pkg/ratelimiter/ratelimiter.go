package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig = errors.New("ratelimiter: invalid configuration")
	ErrInvalidKey    = errors.New("ratelimiter: key must not be empty")
	ErrLimited       = errors.New("ratelimiter: rate limit exceeded")
)

type Config struct {
	Enabled        bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	Capacity       int           `env:"RATE_LIMIT_CAPACITY" envDefault:"100"`
	RefillRate     int           `env:"RATE_LIMIT_REFILL_RATE" envDefault:"10"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
	RedisPrefix    string        `env:"RATE_LIMIT_REDIS_PREFIX" envDefault:"entitlekit:ratelimit:"`
}

func (c Config) validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	case c.RefillRate <= 0:
		return fmt.Errorf("%w: refill rate must be positive, got %d", ErrInvalidConfig, c.RefillRate)
	case c.RefillInterval <= 0:
		return fmt.Errorf("%w: refill interval must be positive, got %v", ErrInvalidConfig, c.RefillInterval)
	}
	return nil
}

// Result is the bucket state after a take.
type Result struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Allowed   bool
}

// RetryAfter is the wait until the next refill for a limited result.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	return max(r.ResetAt.Sub(now), 0)
}

// Store keeps bucket state. Take refills the bucket for the time passed since
// its last refill, then removes n tokens if that many are left.
type Store interface {
	Take(ctx context.Context, key string, n int, cfg Config, now time.Time) (Result, error)
	Reset(ctx context.Context, key string) error
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Bucket is a token bucket limiter over a Store.
type Bucket struct {
	store Store
	cfg   Config
	now   func() time.Time
}

type Option func(*Bucket)

func WithClock(now func() time.Time) Option {
	return func(b *Bucket) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBucket(store Store, cfg Config, opts ...Option) (*Bucket, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	b := &Bucket{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Bucket) Allow(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, ErrInvalidKey
	}
	return b.store.Take(ctx, key, 1, b.cfg, b.now())
}

func (b *Bucket) Reset(ctx context.Context, key string) error {
	return b.store.Reset(ctx, key)
}

// refill returns the tokens after the intervals elapsed since last, and the
// new refill time. Partial intervals carry over.
func refill(tokens int, last, now time.Time, cfg Config) (int, time.Time) {
	if !now.After(last) {
		return tokens, last
	}
	intervals := int64(now.Sub(last) / cfg.RefillInterval)
	if intervals == 0 {
		return tokens, last
	}
	// enough to fill from empty; larger values would only overflow
	needed := int64(cfg.Capacity/cfg.RefillRate + 1)
	tokens = min(tokens+int(min(intervals, needed))*cfg.RefillRate, cfg.Capacity)
	return tokens, last.Add(time.Duration(intervals) * cfg.RefillInterval)
}
