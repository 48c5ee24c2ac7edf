package syncer

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
)

// HandleEvent mirrors the object a webhook event is about. The event's
// account is always mirrored first. Events the mirror does not track are
// logged and ignored.
func (s *Syncer) HandleEvent(ctx context.Context, ev platform.Event) error {
	if ev.Account == "" {
		return fmt.Errorf("%w: %s", ErrMissingAccount, ev.ID)
	}
	ctx = logger.WithAccount(ctx, ev.Account)
	mode := ev.Mode()

	if _, err := s.GetOrSyncAccount(ctx, ev.Account, ""); err != nil {
		return fmt.Errorf("sync account: %w", err)
	}

	switch ev.Type {
	case "account.updated":
		_, err := s.SyncAccount(ctx, ev.Account, platform.AccountName(ev.Object), ev.Object)
		return err
	case "account.application.authorized":
		return nil
	case "customer.created", "customer.updated":
		return s.withObject(ev, func(id string) error {
			_, err := s.SyncCustomer(ctx, mode, ev.Account, id)
			return err
		})
	case "customer.subscription.created", "customer.subscription.updated":
		return s.syncEventCustomer(ctx, ev)
	case "customer.subscription.deleted":
		err := s.withObject(ev, func(id string) error {
			return s.store.DeleteSubscription(ctx, ev.Account, id)
		})
		if err != nil {
			return err
		}
		return s.syncEventCustomer(ctx, ev)
	case "price.created", "price.updated":
		return s.withObject(ev, func(id string) error {
			_, err := s.SyncPrice(ctx, mode, ev.Account, id)
			return err
		})
	case "product.created", "product.updated":
		return s.withObject(ev, func(id string) error {
			_, err := s.SyncProduct(ctx, mode, ev.Account, id)
			return err
		})
	}

	switch {
	case ev.Category() == "invoice":
		return s.withObject(ev, func(id string) error {
			_, err := s.SyncInvoice(ctx, mode, ev.Account, id)
			return err
		})
	case ev.Category() == "charge" && !strings.HasPrefix(ev.Type, "charge.dispute."):
		return s.withObject(ev, func(id string) error {
			_, err := s.SyncCharge(ctx, mode, ev.Account, id)
			return err
		})
	}

	s.log.InfoContext(ctx, "unhandled event",
		logger.Component("syncer"),
		logger.EventType(ev.Type),
		logger.Event(ev.ID),
	)
	return nil
}

func (s *Syncer) syncEventCustomer(ctx context.Context, ev platform.Event) error {
	customerID, err := ev.Ref("customer")
	if err != nil {
		return err
	}
	if customerID == "" {
		return fmt.Errorf("%w: %s", ErrMissingCustomer, ev.ID)
	}
	return s.SyncCustomerSubscriptions(ctx, ev.Mode(), ev.Account, customerID)
}

func (s *Syncer) withObject(ev platform.Event, fn func(id string) error) error {
	id, err := ev.ObjectID()
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: %s has no object id", platform.ErrBadEvent, ev.ID)
	}
	return fn(id)
}
