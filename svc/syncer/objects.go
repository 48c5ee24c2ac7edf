package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrymomot/entitlekit/pkg/cache"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
	"github.com/dmitrymomot/entitlekit/svc/entitlements"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
)

// SyncAccount writes the account's name and raw object. Accounts are never
// fetched from the platform; they arrive on webhook events and logins.
func (s *Syncer) SyncAccount(ctx context.Context, accountID, name string, raw json.RawMessage) (*mirror.Account, error) {
	return s.store.UpsertAccount(ctx, accountID, name, raw)
}

func (s *Syncer) GetOrSyncAccount(ctx context.Context, accountID, name string) (*mirror.Account, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, mirror.ErrNotFound) {
		return nil, err
	}
	return s.store.UpsertAccount(ctx, accountID, name, nil)
}

func (s *Syncer) SyncCustomer(ctx context.Context, mode platform.Mode, accountID, id string) (*mirror.Customer, error) {
	client, err := s.client(mode)
	if err != nil {
		return nil, err
	}
	cus, err := client.GetCustomer(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	return s.upsertCustomer(ctx, accountID, *cus)
}

func (s *Syncer) GetOrSyncCustomer(ctx context.Context, mode platform.Mode, accountID, id string) (*mirror.Customer, error) {
	return getOrSync(ctx, accountID, id, s.store.GetCustomer, func() (*mirror.Customer, error) {
		return s.SyncCustomer(ctx, mode, accountID, id)
	})
}

func (s *Syncer) SyncProduct(ctx context.Context, mode platform.Mode, accountID, id string) (*mirror.Product, error) {
	client, err := s.client(mode)
	if err != nil {
		return nil, err
	}
	prod, err := client.GetProduct(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	return s.upsertProduct(ctx, accountID, *prod)
}

func (s *Syncer) GetOrSyncProduct(ctx context.Context, mode platform.Mode, accountID, id string) (*mirror.Product, error) {
	return getOrSync(ctx, accountID, id, s.store.GetProduct, func() (*mirror.Product, error) {
		return s.SyncProduct(ctx, mode, accountID, id)
	})
}

// SyncPrice mirrors the price after making sure its product is mirrored.
func (s *Syncer) SyncPrice(ctx context.Context, mode platform.Mode, accountID, id string) (*mirror.Price, error) {
	client, err := s.client(mode)
	if err != nil {
		return nil, err
	}
	pr, err := client.GetPrice(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	return s.upsertPrice(ctx, mode, accountID, *pr)
}

func (s *Syncer) GetOrSyncPrice(ctx context.Context, mode platform.Mode, accountID, id string) (*mirror.Price, error) {
	return getOrSync(ctx, accountID, id, s.store.GetPrice, func() (*mirror.Price, error) {
		return s.SyncPrice(ctx, mode, accountID, id)
	})
}

func (s *Syncer) SyncInvoice(ctx context.Context, mode platform.Mode, accountID, id string) (*mirror.Invoice, error) {
	client, err := s.client(mode)
	if err != nil {
		return nil, err
	}
	inv, err := client.GetInvoice(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	return s.upsertInvoice(ctx, accountID, *inv)
}

func (s *Syncer) GetOrSyncInvoice(ctx context.Context, mode platform.Mode, accountID, id string) (*mirror.Invoice, error) {
	return getOrSync(ctx, accountID, id, s.store.GetInvoice, func() (*mirror.Invoice, error) {
		return s.SyncInvoice(ctx, mode, accountID, id)
	})
}

// SyncCharge mirrors the charge. A charge's invoice is re-synced first since
// its status usually changed with the charge.
func (s *Syncer) SyncCharge(ctx context.Context, mode platform.Mode, accountID, id string) (*mirror.Charge, error) {
	client, err := s.client(mode)
	if err != nil {
		return nil, err
	}
	ch, err := client.GetCharge(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if ch.InvoiceID != "" {
		if _, err := s.SyncInvoice(ctx, mode, accountID, ch.InvoiceID); err != nil {
			return nil, fmt.Errorf("sync invoice of charge %s: %w", id, err)
		}
	}
	return s.upsertCharge(ctx, mode, accountID, *ch)
}

func (s *Syncer) GetOrSyncCharge(ctx context.Context, mode platform.Mode, accountID, id string) (*mirror.Charge, error) {
	return getOrSync(ctx, accountID, id, s.store.GetCharge, func() (*mirror.Charge, error) {
		return s.SyncCharge(ctx, mode, accountID, id)
	})
}

// SyncSubscriptionItems mirrors every item of the subscription. Each item's
// price is get-or-synced first. A failing item does not stop the others; the
// failures are returned joined.
func (s *Syncer) SyncSubscriptionItems(ctx context.Context, mode platform.Mode, accountID, subscriptionID string) error {
	client, err := s.client(mode)
	if err != nil {
		return err
	}
	items, err := client.ListSubscriptionItems(ctx, accountID, subscriptionID)
	if err != nil {
		return err
	}

	var errs []error
	for _, it := range items {
		if err := s.syncItem(ctx, mode, accountID, it); err != nil {
			errs = append(errs, fmt.Errorf("subscription item %s: %w", it.ID, err))
		}
	}
	return errors.Join(errs...)
}

// SyncCustomerSubscriptions mirrors every subscription of the customer in
// any status together with their items, then drops the customer's cached
// state.
func (s *Syncer) SyncCustomerSubscriptions(ctx context.Context, mode platform.Mode, accountID, customerID string) error {
	if _, err := s.GetOrSyncCustomer(ctx, mode, accountID, customerID); err != nil {
		return fmt.Errorf("sync customer %s: %w", customerID, err)
	}
	client, err := s.client(mode)
	if err != nil {
		return err
	}
	subs, err := client.ListCustomerSubscriptions(ctx, accountID, customerID)
	if err != nil {
		return err
	}

	var errs []error
	for _, sub := range subs {
		if err := s.syncSubscription(ctx, mode, accountID, sub); err != nil {
			errs = append(errs, err)
		}
	}

	s.customerChanged(ctx, accountID, customerID)
	return errors.Join(errs...)
}

// syncSubscription upserts the subscription row and then its items. Items
// are skipped when the row could not be written.
func (s *Syncer) syncSubscription(ctx context.Context, mode platform.Mode, accountID string, sub platform.Subscription) error {
	if _, err := s.store.UpsertSubscription(ctx, mirror.Subscription{
		AccountID:  accountID,
		StripeID:   sub.ID,
		CustomerID: sub.CustomerID,
		Status:     sub.Status,
		Raw:        sub.Raw,
	}); err != nil {
		return fmt.Errorf("subscription %s: %w", sub.ID, err)
	}
	return s.SyncSubscriptionItems(ctx, mode, accountID, sub.ID)
}

func (s *Syncer) syncItem(ctx context.Context, mode platform.Mode, accountID string, it platform.SubscriptionItem) error {
	if it.PriceID != "" {
		if _, err := s.GetOrSyncPrice(ctx, mode, accountID, it.PriceID); err != nil {
			return fmt.Errorf("price %s: %w", it.PriceID, err)
		}
	}
	_, err := s.store.UpsertSubscriptionItem(ctx, mirror.SubscriptionItem{
		AccountID:      accountID,
		StripeID:       it.ID,
		PriceID:        it.PriceID,
		SubscriptionID: it.SubscriptionID,
		Raw:            it.Raw,
	})
	return err
}

func (s *Syncer) customerChanged(ctx context.Context, accountID, customerID string) {
	if s.cache != nil {
		key := cache.Key(entitlements.CustomerStateNamespace, accountID, customerID)
		if err := s.cache.Delete(ctx, key); err != nil {
			s.log.WarnContext(ctx, "failed to drop cached customer state",
				logger.Component("syncer"),
				logger.CacheKey(entitlements.CustomerStateNamespace, cache.Key(accountID, customerID)),
				logger.Error(err),
			)
		}
	}
	if s.onCustomerChanged != nil {
		s.onCustomerChanged(ctx, accountID, customerID)
	}
}

func (s *Syncer) upsertCustomer(ctx context.Context, accountID string, c platform.Customer) (*mirror.Customer, error) {
	return s.store.UpsertCustomer(ctx, accountID, c.ID, c.Raw)
}

func (s *Syncer) upsertProduct(ctx context.Context, accountID string, p platform.Product) (*mirror.Product, error) {
	return s.store.UpsertProduct(ctx, accountID, p.ID, p.Raw)
}

func (s *Syncer) upsertPrice(ctx context.Context, mode platform.Mode, accountID string, p platform.Price) (*mirror.Price, error) {
	if p.ProductID != "" {
		if _, err := s.GetOrSyncProduct(ctx, mode, accountID, p.ProductID); err != nil {
			return nil, fmt.Errorf("product %s of price %s: %w", p.ProductID, p.ID, err)
		}
	}
	return s.store.UpsertPrice(ctx, mirror.Price{
		AccountID:  accountID,
		StripeID:   p.ID,
		ProductID:  p.ProductID,
		UnitAmount: p.UnitAmount,
		Currency:   p.Currency,
		Raw:        p.Raw,
	})
}

func (s *Syncer) upsertInvoice(ctx context.Context, accountID string, inv platform.Invoice) (*mirror.Invoice, error) {
	return s.store.UpsertInvoice(ctx, mirror.Invoice{
		AccountID:      accountID,
		StripeID:       inv.ID,
		CustomerID:     inv.CustomerID,
		SubscriptionID: inv.SubscriptionID,
		Status:         inv.Status,
		Total:          inv.Total,
		Raw:            inv.Raw,
	})
}

func (s *Syncer) upsertCharge(ctx context.Context, mode platform.Mode, accountID string, ch platform.Charge) (*mirror.Charge, error) {
	return s.store.UpsertCharge(ctx, mirror.Charge{
		AccountID: accountID,
		StripeID:  ch.ID,
		InvoiceID: ch.InvoiceID,
		Amount:    ch.Amount,
		Status:    ch.Status,
		Mode:      mode,
		Created:   ch.Created,
		Raw:       ch.Raw,
	})
}

func getOrSync[T any](
	ctx context.Context,
	accountID, id string,
	get func(ctx context.Context, accountID, id string) (*T, error),
	sync func() (*T, error),
) (*T, error) {
	v, err := get(ctx, accountID, id)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, mirror.ErrNotFound) {
		return nil, err
	}
	return sync()
}
