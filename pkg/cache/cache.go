package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/entitlekit/pkg/async"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
)

// Loader computes the value for a key. found=false means the value no longer
// exists and the key must be dropped.
type Loader[V any] func(ctx context.Context) (value V, found bool, err error)

// Cache is a typed view over a Tier under one namespace.
type Cache[V any] struct {
	tier      Tier
	namespace string
	freshFor  time.Duration
	staleFor  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	inflight sync.Map
	wg       sync.WaitGroup
	// gen is bumped by Remove and RemovePrefix. A revalidation started under
	// an older generation does not store its result.
	gen atomic.Uint64
}

type Option func(*options)

type options struct {
	freshFor time.Duration
	staleFor time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// WithTTL sets the fresh window and the additional stale window after it.
func WithTTL(freshFor, staleFor time.Duration) Option {
	return func(o *options) {
		if freshFor > 0 {
			o.freshFor = freshFor
		}
		if staleFor >= 0 {
			o.staleFor = staleFor
		}
	}
}

// WithRevalidateTimeout bounds a background revalidation.
func WithRevalidateTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func New[V any](tier Tier, namespace string, opts ...Option) *Cache[V] {
	o := &options{
		freshFor: time.Minute,
		staleFor: time.Hour,
		timeout:  30 * time.Second,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Cache[V]{
		tier:      tier,
		namespace: namespace,
		freshFor:  o.freshFor,
		staleFor:  o.staleFor,
		timeout:   o.timeout,
		logger:    o.logger,
		now:       o.now,
	}
}

func (c *Cache[V]) Namespace() string { return c.namespace }

// Get returns the cached value and whether it is stale. Absent or expired
// keys return ErrMiss.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	entry, err := c.tier.Get(ctx, c.key(key))
	if err != nil {
		return zero, false, err
	}

	now := c.now()
	if entry.Expired(now) {
		return zero, false, ErrMiss
	}

	var v V
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		return zero, false, fmt.Errorf("cache: decode %s: %w", c.key(key), err)
	}
	return v, entry.Stale(now), nil
}

// Set stores v with fresh deadline now+freshFor and stale deadline
// now+freshFor+staleFor.
func (c *Cache[V]) Set(ctx context.Context, key string, v V) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", c.key(key), err)
	}
	now := c.now()
	return c.tier.Set(ctx, c.key(key), Entry{
		Value:      raw,
		FreshUntil: now.Add(c.freshFor),
		StaleUntil: now.Add(c.freshFor + c.staleFor),
	})
}

// Remove drops key. Revalidations in flight will not store their results.
func (c *Cache[V]) Remove(ctx context.Context, key string) error {
	c.gen.Add(1)
	return c.tier.Delete(ctx, c.key(key))
}

// RemovePrefix drops every key in the namespace that starts with prefix.
func (c *Cache[V]) RemovePrefix(ctx context.Context, prefix string) error {
	c.gen.Add(1)
	return c.tier.DeletePrefix(ctx, c.key(prefix))
}

// Fetch serves key from the cache. A fresh hit is returned as is. A stale
// hit is returned and one background revalidation per key is started. A
// miss calls load synchronously and stores the result. A load that reports
// not found yields ErrMiss.
func (c *Cache[V]) Fetch(ctx context.Context, key string, load Loader[V]) (V, error) {
	v, stale, err := c.Get(ctx, key)
	switch {
	case err == nil:
		if stale {
			c.revalidate(ctx, key, load)
		}
		return v, nil
	case !errors.Is(err, ErrMiss):
		c.logger.WarnContext(ctx, "cache read failed, loading",
			logger.CacheKey(c.namespace, key), logger.Error(err))
	}

	var zero V
	v, found, err := load(ctx)
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, ErrMiss
	}
	if err := c.Set(ctx, key, v); err != nil {
		c.logger.WarnContext(ctx, "cache write failed",
			logger.CacheKey(c.namespace, key), logger.Error(err))
	}
	return v, nil
}

// Wait blocks until in-flight revalidations finish.
func (c *Cache[V]) Wait() {
	c.wg.Wait()
}

func (c *Cache[V]) revalidate(ctx context.Context, key string, load Loader[V]) {
	if _, busy := c.inflight.LoadOrStore(key, struct{}{}); busy {
		return
	}

	c.wg.Add(1)
	gen := c.gen.Load()
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	fut := async.Async(bg, key, func(ctx context.Context, key string) (struct{}, error) {
		v, found, err := load(ctx)
		if err != nil {
			return struct{}{}, err
		}
		if c.gen.Load() != gen {
			return struct{}{}, nil
		}
		if !found {
			return struct{}{}, c.Remove(ctx, key)
		}
		return struct{}{}, c.Set(ctx, key, v)
	})

	go func() {
		defer c.wg.Done()
		defer c.inflight.Delete(key)
		defer cancel()

		start := c.now()
		if _, err := fut.Await(); err != nil {
			c.logger.ErrorContext(bg, "cache revalidation failed",
				logger.CacheKey(c.namespace, key), logger.Error(err))
			return
		}
		c.logger.DebugContext(bg, "cache revalidated",
			logger.CacheKey(c.namespace, key), logger.Duration(c.now().Sub(start)))
	}()
}

func (c *Cache[V]) key(k string) string {
	return Key(c.namespace, k)
}
