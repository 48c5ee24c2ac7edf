package syncer_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlekit/pkg/cache"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
	"github.com/dmitrymomot/entitlekit/svc/entitlements"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
	"github.com/dmitrymomot/entitlekit/svc/syncer"
)

func event(t *testing.T, typ string, livemode bool, obj any) platform.Event {
	t.Helper()
	raw, err := json.Marshal(obj)
	require.NoError(t, err)
	return platform.Event{ID: "evt_" + typ, Type: typ, Account: account, Livemode: livemode, Object: raw}
}

func TestHandleEvent_SubscriptionUpdated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tier := cache.NewMemory(16)
	key := cache.Key(entitlements.CustomerStateNamespace, account, "cus_1")
	require.NoError(t, tier.Set(ctx, key, cache.Entry{
		Value:      json.RawMessage(`{}`),
		FreshUntil: time.Now().Add(time.Hour),
		StaleUntil: time.Now().Add(2 * time.Hour),
	}))

	var (
		mu      sync.Mutex
		changed []string
	)
	f := newFixture(t,
		syncer.WithCache(tier),
		syncer.WithCustomerChanged(func(_ context.Context, acct, customer string) {
			mu.Lock()
			defer mu.Unlock()
			changed = append(changed, acct+"/"+customer)
		}),
	)
	seed(f.test)

	ev := event(t, "customer.subscription.updated", false, map[string]any{"id": "sub_1", "customer": "cus_1"})
	require.NoError(t, f.syncer.HandleEvent(ctx, ev))

	_, err := f.store.GetCustomer(ctx, account, "cus_1")
	require.NoError(t, err)
	items, err := f.store.ListCustomerItems(ctx, account, "cus_1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "prod_basic", items[0].ProductID)

	_, err = tier.Get(ctx, key)
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.Equal(t, []string{account + "/cus_1"}, changed)

	// live was never asked
	assert.Zero(t, f.live.Calls("ListCustomerSubscriptions"))
	assert.Equal(t, 1, f.test.Calls("ListCustomerSubscriptions"))
}

func TestHandleEvent_SubscriptionDeleted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.live.AddCustomer(account, platform.Customer{ID: "cus_1"})
	_, err := f.store.UpsertSubscription(ctx, mirror.Subscription{AccountID: account, StripeID: "sub_old", CustomerID: "cus_1", Status: "active"})
	require.NoError(t, err)

	ev := event(t, "customer.subscription.deleted", true, map[string]any{"id": "sub_old", "customer": map[string]any{"id": "cus_1"}})
	require.NoError(t, f.syncer.HandleEvent(ctx, ev))

	_, err = f.store.GetSubscription(ctx, account, "sub_old")
	assert.ErrorIs(t, err, mirror.ErrNotFound)
}

func TestHandleEvent_Objects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	seed(f.live)

	for _, tc := range []struct {
		typ   string
		id    string
		check func() error
	}{
		{"customer.created", "cus_2", func() error { _, err := f.store.GetCustomer(ctx, account, "cus_2"); return err }},
		{"product.updated", "prod_pro", func() error { _, err := f.store.GetProduct(ctx, account, "prod_pro"); return err }},
		{"price.created", "price_basic", func() error { _, err := f.store.GetProduct(ctx, account, "prod_basic"); return err }},
		{"invoice.paid", "in_1", func() error { _, err := f.store.GetInvoice(ctx, account, "in_1"); return err }},
		{"charge.succeeded", "ch_2", func() error { _, err := f.store.GetCharge(ctx, account, "ch_2"); return err }},
	} {
		require.NoError(t, f.syncer.HandleEvent(ctx, event(t, tc.typ, true, map[string]any{"id": tc.id})), tc.typ)
		assert.NoError(t, tc.check(), tc.typ)
	}
}

func TestHandleEvent_ChargeSyncsInvoice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	seed(f.live)

	require.NoError(t, f.syncer.HandleEvent(ctx, event(t, "charge.refunded", true, map[string]any{"id": "ch_1"})))

	_, err := f.store.GetInvoice(ctx, account, "in_1")
	require.NoError(t, err)
	ch, err := f.store.GetCharge(ctx, account, "ch_1")
	require.NoError(t, err)
	assert.Equal(t, platform.ModeLive, ch.Mode)
	assert.Equal(t, "in_1", ch.InvoiceID)
}

func TestHandleEvent_Account(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	ev := event(t, "account.updated", true, map[string]any{
		"id":               account,
		"business_profile": map[string]any{"name": "Acme Inc"},
	})
	require.NoError(t, f.syncer.HandleEvent(ctx, ev))

	acct, err := f.store.GetAccount(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", acct.Name)
	assert.JSONEq(t, string(ev.Object), string(acct.Raw))
}

func TestHandleEvent_CreatesAccount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	ev := event(t, "account.application.authorized", false, map[string]any{"id": "ca_1"})
	ev.Account = "acct_new"

	require.NoError(t, f.syncer.HandleEvent(ctx, ev))
	_, err := f.store.GetAccount(ctx, "acct_new")
	assert.NoError(t, err)
}

func TestHandleEvent_Ignored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	for _, typ := range []string{"customer.deleted", "price.deleted", "product.deleted", "account.application.deauthorized", "charge.dispute.created", "payout.paid"} {
		assert.NoError(t, f.syncer.HandleEvent(ctx, event(t, typ, true, map[string]any{"id": "x_1"})), typ)
	}
	assert.Zero(t, f.live.Calls("GetCharge"))
}

func TestHandleEvent_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	ev := event(t, "customer.created", true, map[string]any{"id": "cus_1"})
	ev.Account = ""
	assert.ErrorIs(t, f.syncer.HandleEvent(ctx, ev), syncer.ErrMissingAccount)

	ev = event(t, "customer.subscription.updated", true, map[string]any{"id": "sub_1", "customer": nil})
	assert.ErrorIs(t, f.syncer.HandleEvent(ctx, ev), syncer.ErrMissingCustomer)

	ev = event(t, "customer.updated", true, map[string]any{"id": "cus_missing"})
	assert.ErrorIs(t, f.syncer.HandleEvent(ctx, ev), platform.ErrNotFound)

	ev = event(t, "product.created", true, map[string]any{"name": "no id"})
	assert.ErrorIs(t, f.syncer.HandleEvent(ctx, ev), platform.ErrBadEvent)
}

func TestGetOrSync(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	seed(f.live)

	price, err := f.syncer.GetOrSyncPrice(ctx, platform.ModeLive, account, "price_pro")
	require.NoError(t, err)
	assert.Equal(t, "prod_pro", price.ProductID)
	_, err = f.store.GetProduct(ctx, account, "prod_pro")
	require.NoError(t, err)

	_, err = f.syncer.GetOrSyncPrice(ctx, platform.ModeLive, account, "price_pro")
	require.NoError(t, err)
	assert.Equal(t, 1, f.live.Calls("GetPrice"))

	_, err = f.syncer.GetOrSyncCustomer(ctx, platform.ModeTest, account, "cus_1")
	assert.ErrorIs(t, err, platform.ErrNotFound)

	acct, err := f.syncer.GetOrSyncAccount(ctx, account, "ignored")
	require.NoError(t, err)
	assert.Equal(t, "Acme", acct.Name)
}

func TestSyncCustomerSubscriptions_DropsServedCustomerState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tier := cache.NewMemory(16)
	f := newFixture(t, syncer.WithCache(tier))
	seed(f.live)
	require.NoError(t, f.syncer.SyncCustomerSubscriptions(ctx, platform.ModeLive, account, "cus_1"))

	ent := entitlements.New(f.store, entitlements.WithCache(tier), entitlements.WithLogger(logger.Noop()))
	_, err := ent.GetCustomerState(ctx, account, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, 1, tier.Len())

	require.NoError(t, f.syncer.SyncCustomerSubscriptions(ctx, platform.ModeLive, account, "cus_1"))
	assert.Zero(t, tier.Len())
}
