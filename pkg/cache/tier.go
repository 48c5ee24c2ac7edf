package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrMiss is returned when a key is absent or past its stale window.
	ErrMiss = errors.New("cache: miss")

	ErrInvalidKey = errors.New("cache: key must not be empty")
)

// Entry is a cached JSON value with its two deadlines. Before FreshUntil the
// value is served as is; until StaleUntil it is served and revalidated; after
// that it is gone.
type Entry struct {
	Value      json.RawMessage `json:"value"`
	FreshUntil time.Time       `json:"fresh_until"`
	StaleUntil time.Time       `json:"stale_until"`
}

// Stale reports whether the entry is past its fresh window at now.
func (e Entry) Stale(now time.Time) bool { return now.After(e.FreshUntil) }

// Expired reports whether the entry is past its stale window at now.
func (e Entry) Expired(now time.Time) bool { return now.After(e.StaleUntil) }

// Tier is one storage level of the cache. Keys are full keys including the
// namespace.
type Tier interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Key joins parts with ':' into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

type Config struct {
	FreshFor       time.Duration `env:"CACHE_FRESH_FOR" envDefault:"1m"`
	StaleFor       time.Duration `env:"CACHE_STALE_FOR" envDefault:"1h"`
	MemoryCapacity int           `env:"CACHE_MEMORY_CAPACITY" envDefault:"10000"`
	RedisEnabled   bool          `env:"CACHE_REDIS_ENABLED" envDefault:"true"`
	RedisPrefix    string        `env:"CACHE_REDIS_PREFIX" envDefault:"entitlekit:"`
}

// Tiered reads tiers in order and writes to all of them. A hit in a lower
// tier is copied into the tiers above it.
type Tiered struct {
	tiers []Tier
}

func NewTiered(tiers ...Tier) *Tiered {
	return &Tiered{tiers: tiers}
}

// Get returns the first hit. A failing tier counts as a miss; its error is
// joined to ErrMiss when no tier hits. Back-fill failures are ignored.
func (t *Tiered) Get(ctx context.Context, key string) (Entry, error) {
	var errs []error
	for i, tier := range t.tiers {
		entry, err := tier.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrMiss) {
				errs = append(errs, err)
			}
			continue
		}
		for j := range i {
			_ = t.tiers[j].Set(ctx, key, entry)
		}
		return entry, nil
	}
	return Entry{}, errors.Join(append([]error{ErrMiss}, errs...)...)
}

func (t *Tiered) Set(ctx context.Context, key string, entry Entry) error {
	var errs []error
	for _, tier := range t.tiers {
		errs = append(errs, tier.Set(ctx, key, entry))
	}
	return errors.Join(errs...)
}

func (t *Tiered) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, tier := range t.tiers {
		errs = append(errs, tier.Delete(ctx, key))
	}
	return errors.Join(errs...)
}

func (t *Tiered) DeletePrefix(ctx context.Context, prefix string) error {
	var errs []error
	for _, tier := range t.tiers {
		errs = append(errs, tier.DeletePrefix(ctx, prefix))
	}
	return errors.Join(errs...)
}
