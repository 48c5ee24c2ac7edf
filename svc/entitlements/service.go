// Package entitlements resolves feature values for products, prices and
// customers. Account features are the defaults; product overrides apply to
// a product; a customer gets the merge of the products of its qualifying
// subscriptions with its own overrides applied last.
package entitlements

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dmitrymomot/entitlekit/pkg/async"
	"github.com/dmitrymomot/entitlekit/pkg/cache"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
	"github.com/dmitrymomot/entitlekit/pkg/statestore"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
)

// Cache namespaces of resolved states. Keys within them are
// cache.Key(account, id).
const (
	CustomerStateNamespace     = "customerState"
	PricingTableStateNamespace = "pricingTableState"
)

// Config tunes revenue estimates and state publishing.
type Config struct {
	RevenueWindow      time.Duration `env:"ENTITLEMENTS_REVENUE_WINDOW" envDefault:"720h"`
	PublishConcurrency int           `env:"ENTITLEMENTS_PUBLISH_CONCURRENCY" envDefault:"8"`
}

// CustomerSyncer pulls a customer unknown to the mirror from the platform.
type CustomerSyncer interface {
	GetOrSyncCustomer(ctx context.Context, mode platform.Mode, accountID, id string) (*mirror.Customer, error)
	SyncCustomerSubscriptions(ctx context.Context, mode platform.Mode, accountID, customerID string) error
}

// Service resolves entitlements from the mirror and serves them through
// the cache.
type Service struct {
	store     mirror.Store
	syncer    CustomerSyncer
	publisher statestore.Store
	log       *slog.Logger
	now       func() time.Time

	tier      cache.Tier
	cacheOpts []cache.Option
	states    *cache.Cache[CustomerState]
	tables    *cache.Cache[PricingTableState]

	revenueWindow time.Duration
	publishLimit  int
}

// Option configures a Service.
type Option func(*Service)

// WithCache serves GetCustomerState and GetPricingTableState from tier.
func WithCache(tier cache.Tier, opts ...cache.Option) Option {
	return func(s *Service) {
		if tier != nil {
			s.tier = tier
			s.cacheOpts = opts
		}
	}
}

// WithSyncer lets cached reads pull customers the mirror has not seen.
func WithSyncer(syncer CustomerSyncer) Option {
	return func(s *Service) {
		s.syncer = syncer
	}
}

// WithStateStore enables publishing customer states.
func WithStateStore(store statestore.Store) Option {
	return func(s *Service) {
		s.publisher = store
	}
}

// WithLogger sets the logger. A nil logger keeps slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock sets the time source used for revenue windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithConfig applies the revenue window and publish concurrency. Zero
// values keep the defaults.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		if cfg.RevenueWindow > 0 {
			s.revenueWindow = cfg.RevenueWindow
		}
		if cfg.PublishConcurrency > 0 {
			s.publishLimit = cfg.PublishConcurrency
		}
	}
}

// New returns a Service over store. Without WithCache states are cached in
// an in-process LRU. It panics when store is nil.
func New(store mirror.Store, opts ...Option) *Service {
	if store == nil {
		panic("entitlements: mirror store is required")
	}
	s := &Service{
		store:         store,
		log:           slog.Default(),
		now:           time.Now,
		revenueWindow: 30 * 24 * time.Hour,
		publishLimit:  8,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tier == nil {
		s.tier = cache.NewMemory(10_000)
	}
	cacheOpts := append([]cache.Option{cache.WithLogger(s.log)}, s.cacheOpts...)
	s.states = cache.New[CustomerState](s.tier, CustomerStateNamespace, cacheOpts...)
	s.tables = cache.New[PricingTableState](s.tier, PricingTableStateNamespace, cacheOpts...)
	return s
}

// Wait blocks until background cache revalidations finish.
func (s *Service) Wait() {
	s.states.Wait()
	s.tables.Wait()
}

// AccountFeatures returns the account's features ordered by name.
func (s *Service) AccountFeatures(ctx context.Context, accountID string) ([]mirror.Feature, error) {
	features, err := s.store.ListFeatures(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if features == nil {
		features = []mirror.Feature{}
	}
	return features, nil
}

// ProductFeatures returns the account features with the product's overrides
// applied.
func (s *Service) ProductFeatures(ctx context.Context, accountID, productID string) ([]mirror.Feature, error) {
	account, err := s.AccountFeatures(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.productFeatures(ctx, accountID, productID, account)
}

func (s *Service) productFeatures(ctx context.Context, accountID, productID string, account []mirror.Feature) ([]mirror.Feature, error) {
	overrides, err := s.store.ListOverrides(ctx, accountID, mirror.ScopeProduct, productID)
	if err != nil {
		return nil, err
	}
	return ApplyOverrides(account, overrides), nil
}

// PriceFeatures returns the price's product features with the price's
// overrides applied. Price overrides do not take part in customer
// resolution.
func (s *Service) PriceFeatures(ctx context.Context, accountID, priceID string) ([]mirror.Feature, error) {
	price, err := s.store.GetPrice(ctx, accountID, priceID)
	if err != nil {
		return nil, notFound(err)
	}
	product, err := s.ProductFeatures(ctx, accountID, price.ProductID)
	if err != nil {
		return nil, err
	}
	overrides, err := s.store.ListOverrides(ctx, accountID, mirror.ScopePrice, priceID)
	if err != nil {
		return nil, err
	}
	return ApplyOverrides(product, overrides), nil
}

// SubscriptionFeatures merges the product features of every product the
// customer subscribes to with a qualifying status into the account
// defaults.
func (s *Service) SubscriptionFeatures(ctx context.Context, accountID, customerID string) ([]mirror.Feature, error) {
	items, err := s.store.ListCustomerItems(ctx, accountID, customerID)
	if err != nil {
		return nil, err
	}
	account, err := s.AccountFeatures(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var productIDs []string
	for _, it := range items {
		if it.ProductID == "" || !slices.Contains(qualifyingStatuses, it.Status) {
			continue
		}
		if !slices.Contains(productIDs, it.ProductID) {
			productIDs = append(productIDs, it.ProductID)
		}
	}
	if len(productIDs) == 0 {
		return account, nil
	}

	states, err := async.Map(ctx, productIDs, func(ctx context.Context, productID string) ([]mirror.Feature, error) {
		return s.productFeatures(ctx, accountID, productID, account)
	})
	if err != nil {
		return nil, err
	}
	return Merge(account, states...), nil
}

// CustomerFeatures applies the customer's overrides to its subscription
// features. A customer override wins over every other source.
func (s *Service) CustomerFeatures(ctx context.Context, accountID, customerID string) ([]mirror.Feature, error) {
	features, err := s.SubscriptionFeatures(ctx, accountID, customerID)
	if err != nil {
		return nil, err
	}
	overrides, err := s.store.ListOverrides(ctx, accountID, mirror.ScopeCustomer, customerID)
	if err != nil {
		return nil, err
	}
	return ApplyOverrides(features, overrides), nil
}

// CustomerState resolves the state of a mirrored customer. It does not read
// the cache nor contact the platform.
func (s *Service) CustomerState(ctx context.Context, accountID, customerID string) (*CustomerState, error) {
	if _, err := s.store.GetCustomer(ctx, accountID, customerID); err != nil {
		return nil, notFound(err)
	}
	subs, err := s.customerSubscriptions(ctx, accountID, customerID)
	if err != nil {
		return nil, err
	}
	features, err := s.CustomerFeatures(ctx, accountID, customerID)
	if err != nil {
		return nil, err
	}
	return &CustomerState{Version: StateVersion, Features: features, Subscriptions: subs}, nil
}

// RevenueEstimate sums the succeeded charges of the account in mode over the
// configured window, in minor units.
func (s *Service) RevenueEstimate(ctx context.Context, accountID string, mode platform.Mode) (int64, error) {
	return s.store.ChargeTotal(ctx, accountID, mode, s.now().Add(-s.revenueWindow))
}

func notFound(err error) error {
	if errors.Is(err, mirror.ErrNotFound) {
		return errors.Join(ErrNotFound, err)
	}
	return err
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}
