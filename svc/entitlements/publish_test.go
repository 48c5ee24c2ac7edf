package entitlements_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlekit/pkg/statestore"
	"github.com/dmitrymomot/entitlekit/svc/entitlements"
)

func TestPublishCustomerState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCatalog(t)
	c.subscribe(t, "cus_1", "sub_1", "active", "price_basic", "prod_basic")
	store := statestore.NewMemoryStore()
	svc := c.service(entitlements.WithStateStore(store))

	require.NoError(t, svc.PublishCustomerState(ctx, account, "cus_1"))

	data, err := store.Get(ctx, statestore.CustomerKey(account, "cus_1"))
	require.NoError(t, err)
	var published entitlements.CustomerState
	require.NoError(t, json.Unmarshal(data, &published))
	assert.Equal(t, entitlements.StateVersion, published.Version)
	assert.Equal(t, int64(5), *featureByKey(published.Features, "seats").ValueLimit)
	assert.Len(t, published.Subscriptions, 1)

	t.Run("missing customer removes the published state", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, statestore.CustomerKey(account, "cus_gone"), []byte(`{}`)))
		err := svc.PublishCustomerState(ctx, account, "cus_gone")
		assert.ErrorIs(t, err, entitlements.ErrNotFound)
		_, err = store.Get(ctx, statestore.CustomerKey(account, "cus_gone"))
		assert.ErrorIs(t, err, statestore.ErrNotFound)
	})
}

func TestPublishAccountStates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCatalog(t)
	c.subscribe(t, "cus_1", "sub_1", "active", "price_basic", "prod_basic")
	c.subscribe(t, "cus_2", "sub_2", "active", "price_pro", "prod_pro")
	c.subscribe(t, "cus_3", "sub_3", "canceled", "price_pro", "prod_pro")
	store := statestore.NewMemoryStore()

	n, err := c.service(entitlements.WithStateStore(store), entitlements.WithConfig(entitlements.Config{PublishConcurrency: 2})).
		PublishAccountStates(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{
		"customers/acct_1/cus_1.json",
		"customers/acct_1/cus_2.json",
		"customers/acct_1/cus_3.json",
	}, store.Keys())
}

func TestCustomerChanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCatalog(t)
	c.subscribe(t, "cus_1", "sub_1", "trialing", "price_pro", "prod_pro")

	// no state store configured
	c.service().CustomerChanged(ctx, account, "cus_1")

	store := statestore.NewMemoryStore()
	c.service(entitlements.WithStateStore(store)).CustomerChanged(ctx, account, "cus_1")
	assert.Equal(t, []string{"customers/acct_1/cus_1.json"}, store.Keys())
}

func TestPublish_NoStateStore(t *testing.T) {
	t.Parallel()

	svc := newCatalog(t).service()
	assert.ErrorIs(t, svc.PublishCustomerState(context.Background(), account, "cus_1"), entitlements.ErrNoStateStore)
	_, err := svc.PublishAccountStates(context.Background(), account)
	assert.ErrorIs(t, err, entitlements.ErrNoStateStore)
}
