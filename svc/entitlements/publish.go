package entitlements

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/statestore"
)

// PublishCustomerState writes the customer's resolved state to the state
// store. A customer that no longer exists has its published state removed.
func (s *Service) PublishCustomerState(ctx context.Context, accountID, customerID string) error {
	if s.publisher == nil {
		return ErrNoStateStore
	}
	key := statestore.CustomerKey(accountID, customerID)

	state, err := s.CustomerState(ctx, accountID, customerID)
	if errors.Is(err, ErrNotFound) {
		if derr := s.publisher.Delete(ctx, key); derr != nil && !errors.Is(derr, statestore.ErrNotFound) {
			return errors.Join(err, derr)
		}
		return err
	}
	if err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode customer state: %w", err)
	}
	return s.publisher.Put(ctx, key, data)
}

// PublishAccountStates publishes the state of every mirrored customer of
// the account and returns how many were published.
func (s *Service) PublishAccountStates(ctx context.Context, accountID string) (int, error) {
	if s.publisher == nil {
		return 0, ErrNoStateStore
	}
	customers, err := s.store.ListCustomers(ctx, accountID)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.publishLimit)
	for _, c := range customers {
		g.Go(func() error {
			if err := s.PublishCustomerState(gctx, accountID, c.StripeID); err != nil {
				return fmt.Errorf("publish %s: %w", c.StripeID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	s.log.InfoContext(ctx, "published customer states",
		logger.Component("entitlements"),
		logger.AccountID(accountID),
		slog.Int("customers", len(customers)),
	)
	return len(customers), nil
}

// CustomerChanged republishes the customer's state when a state store is
// configured. Failures are logged. It matches the syncer's customer hook.
func (s *Service) CustomerChanged(ctx context.Context, accountID, customerID string) {
	if s.publisher == nil {
		return
	}
	if err := s.PublishCustomerState(ctx, accountID, customerID); err != nil {
		s.log.ErrorContext(ctx, "failed to publish customer state",
			logger.Component("entitlements"),
			logger.AccountID(accountID),
			logger.CustomerID(customerID),
			logger.Error(err),
		)
	}
}

func (s *Service) logInvalidation(ctx context.Context, accountID string, err error) {
	s.log.WarnContext(ctx, "failed to invalidate cached state",
		logger.Component("entitlements"),
		logger.AccountID(accountID),
		logger.Error(err),
	)
}
