package entitlements

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrymomot/entitlekit/pkg/cache"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
)

// GetCustomerState serves the customer's state through the cache. A
// customer unknown to the mirror is pulled from the platform, live first,
// together with its subscriptions.
func (s *Service) GetCustomerState(ctx context.Context, accountID, customerID string) (*CustomerState, error) {
	state, err := s.states.Fetch(ctx, cache.Key(accountID, customerID), func(ctx context.Context) (CustomerState, bool, error) {
		st, err := s.loadCustomerState(ctx, accountID, customerID)
		switch {
		case errors.Is(err, ErrNotFound):
			return CustomerState{}, false, nil
		case err != nil:
			return CustomerState{}, false, err
		}
		return *st, true, nil
	})
	if errors.Is(err, cache.ErrMiss) {
		return nil, notFoundf("customer %s", customerID)
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// GetPricingTableState serves the pricing table's state through the cache.
func (s *Service) GetPricingTableState(ctx context.Context, accountID string, tableID int64) (*PricingTableState, error) {
	key := cache.Key(accountID, strconv.FormatInt(tableID, 10))
	state, err := s.tables.Fetch(ctx, key, func(ctx context.Context) (PricingTableState, bool, error) {
		st, err := s.PricingTableState(ctx, accountID, tableID)
		switch {
		case errors.Is(err, ErrNotFound):
			return PricingTableState{}, false, nil
		case err != nil:
			return PricingTableState{}, false, err
		}
		return *st, true, nil
	})
	if errors.Is(err, cache.ErrMiss) {
		return nil, notFoundf("pricing table %d", tableID)
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// InvalidateCustomer drops the customer's cached state.
func (s *Service) InvalidateCustomer(ctx context.Context, accountID, customerID string) error {
	return s.states.Remove(ctx, cache.Key(accountID, customerID))
}

// InvalidateAccount drops every cached customer and pricing table state of
// the account.
func (s *Service) InvalidateAccount(ctx context.Context, accountID string) error {
	prefix := accountID + ":"
	return errors.Join(
		s.states.RemovePrefix(ctx, prefix),
		s.tables.RemovePrefix(ctx, prefix),
	)
}

func (s *Service) loadCustomerState(ctx context.Context, accountID, customerID string) (*CustomerState, error) {
	state, err := s.CustomerState(ctx, accountID, customerID)
	if !errors.Is(err, ErrNotFound) || s.syncer == nil {
		return state, err
	}
	if err := s.syncCustomer(ctx, accountID, customerID); err != nil {
		return nil, err
	}
	return s.CustomerState(ctx, accountID, customerID)
}

// syncCustomer mirrors the customer from the first mode that knows it and
// then its subscriptions in that mode. Modes that do not know the customer
// or have no client are skipped; any other failure is returned so a
// transient platform error is not reported as not found.
func (s *Service) syncCustomer(ctx context.Context, accountID, customerID string) error {
	var errs []error
	for _, mode := range platform.Modes {
		_, err := s.syncer.GetOrSyncCustomer(ctx, mode, accountID, customerID)
		switch {
		case err == nil:
			return s.syncer.SyncCustomerSubscriptions(ctx, mode, accountID, customerID)
		case errors.Is(err, platform.ErrNotFound),
			errors.Is(err, platform.ErrNoClient),
			errors.Is(err, mirror.ErrNotFound):
			s.log.DebugContext(ctx, "customer not found in mode",
				logger.Component("entitlements"),
				logger.CustomerID(customerID),
				logger.Mode(mode.String()),
				logger.Error(err),
			)
		default:
			errs = append(errs, fmt.Errorf("sync customer %s in %s mode: %w", customerID, mode, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return notFoundf("customer %s", customerID)
}
