// Package cache provides a stale-while-revalidate cache over pluggable tiers.
//
// Every entry has two deadlines. Until FreshUntil a read returns the value as
// is. Between FreshUntil and StaleUntil a read still returns the value but
// flags it stale, and Fetch starts one background recompute for the key.
// After StaleUntil the key is a miss and Fetch computes the value before
// returning.
//
// Tiers:
//
//   - Memory: a process-local LRU.
//   - Redis: shared across processes, entries expire with their stale deadline.
//   - Tiered: reads tiers in order and back-fills upper tiers on a lower hit.
//
// Cache[V] adds a namespace and JSON encoding on top of a tier:
//
//	tier := cache.NewTiered(cache.NewMemory(10_000), cache.NewRedis(rdb, "entitlekit:"))
//	states := cache.New[CustomerState](tier, "customerState", cache.WithTTL(time.Minute, time.Hour))
//
//	state, err := states.Fetch(ctx, cache.Key(accountID, customerID), func(ctx context.Context) (CustomerState, bool, error) {
//		s, err := engine.CustomerState(ctx, accountID, customerID)
//		if errors.Is(err, mirror.ErrNotFound) {
//			return CustomerState{}, false, nil
//		}
//		return s, err == nil, err
//	})
//
// Background revalidation never fails the request that triggered it. Its
// errors are logged and the stale value stays in place until it expires.
package cache
