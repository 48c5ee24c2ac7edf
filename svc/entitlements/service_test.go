package entitlements_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
	"github.com/dmitrymomot/entitlekit/svc/entitlements"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
)

const account = "acct_1"

// catalog is a mirrored account with three features and three products:
//
//	basic       seats=5
//	pro         analytics=on, seats=unlimited
//	enterprise  api_calls=unlimited
type catalog struct {
	store     *mirror.MemoryStore
	apiCalls  mirror.Feature
	analytics mirror.Feature
	seats     mirror.Feature
}

func newCatalog(t *testing.T) *catalog {
	t.Helper()
	ctx := context.Background()
	c := &catalog{store: mirror.NewMemoryStore()}
	s := c.store

	_, err := s.UpsertAccount(ctx, account, "Acme", nil)
	require.NoError(t, err)

	create := func(f mirror.Feature) mirror.Feature {
		f.AccountID = account
		out, err := s.CreateFeature(ctx, f)
		require.NoError(t, err)
		return *out
	}
	c.apiCalls = create(mirror.Feature{Name: "API calls", Key: "api_calls", Type: mirror.FeatureLimit, ValueLimit: limit(1000)})
	c.analytics = create(mirror.Feature{Name: "Analytics", Key: "analytics", Type: mirror.FeatureFlag, ValueFlag: flag(false)})
	c.seats = create(mirror.Feature{Name: "Seats", Key: "seats", Type: mirror.FeatureLimit, ValueLimit: limit(1)})

	for _, p := range []struct{ id, name string }{
		{"prod_basic", "Basic"},
		{"prod_pro", "Pro"},
		{"prod_enterprise", "Enterprise"},
	} {
		raw := json.RawMessage(`{"id":"` + p.id + `","name":"` + p.name + `","object":"product"}`)
		_, err := s.UpsertProduct(ctx, account, p.id, raw)
		require.NoError(t, err)
	}
	for _, p := range []mirror.Price{
		{StripeID: "price_basic", ProductID: "prod_basic", UnitAmount: limit(1000), Currency: "usd"},
		{StripeID: "price_basic_year", ProductID: "prod_basic", UnitAmount: limit(10000), Currency: "usd"},
		{StripeID: "price_pro", ProductID: "prod_pro", UnitAmount: limit(5000), Currency: "usd"},
		{StripeID: "price_enterprise", ProductID: "prod_enterprise", UnitAmount: nil, Currency: "usd"},
	} {
		p.AccountID = account
		_, err := s.UpsertPrice(ctx, p)
		require.NoError(t, err)
	}

	require.NoError(t, s.ReplaceOverrides(ctx, account, mirror.ScopeProduct, "prod_basic", []mirror.Override{
		{FeatureID: c.seats.ID, ValueLimit: limit(5)},
	}))
	require.NoError(t, s.ReplaceOverrides(ctx, account, mirror.ScopeProduct, "prod_pro", []mirror.Override{
		{FeatureID: c.analytics.ID, ValueFlag: flag(true)},
		{FeatureID: c.seats.ID, ValueLimit: nil},
	}))
	require.NoError(t, s.ReplaceOverrides(ctx, account, mirror.ScopeProduct, "prod_enterprise", []mirror.Override{
		{FeatureID: c.apiCalls.ID, ValueLimit: nil},
	}))
	return c
}

// subscribe mirrors a customer subscription with one item on priceID.
func (c *catalog) subscribe(t *testing.T, customer, subID, status, priceID, productID string) {
	t.Helper()
	ctx := context.Background()
	_, err := c.store.UpsertCustomer(ctx, account, customer, json.RawMessage(`{"id":"`+customer+`","object":"customer"}`))
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]any{
		"id":       subID,
		"object":   "subscription",
		"customer": customer,
		"status":   status,
		"items": map[string]any{
			"object": "list",
			"data": []any{map[string]any{
				"id":    "si_" + subID,
				"price": map[string]any{"id": priceID, "product": productID},
			}},
		},
	})
	require.NoError(t, err)

	_, err = c.store.UpsertSubscription(ctx, mirror.Subscription{AccountID: account, StripeID: subID, CustomerID: customer, Status: status, Raw: raw})
	require.NoError(t, err)
	_, err = c.store.UpsertSubscriptionItem(ctx, mirror.SubscriptionItem{AccountID: account, StripeID: "si_" + subID, SubscriptionID: subID, PriceID: priceID})
	require.NoError(t, err)
}

func (c *catalog) service(opts ...entitlements.Option) *entitlements.Service {
	return entitlements.New(c.store, append([]entitlements.Option{entitlements.WithLogger(logger.Noop())}, opts...)...)
}

func featureByKey(features []mirror.Feature, key string) mirror.Feature {
	for _, f := range features {
		if f.Key == key {
			return f
		}
	}
	return mirror.Feature{}
}

func TestCustomerState_Golden(t *testing.T) {
	t.Parallel()

	c := newCatalog(t)
	c.subscribe(t, "cus_1", "sub_1", "active", "price_basic", "prod_basic")
	c.subscribe(t, "cus_1", "sub_2", "trialing", "price_pro", "prod_pro")
	c.subscribe(t, "cus_1", "sub_3", "canceled", "price_enterprise", "prod_enterprise")
	require.NoError(t, c.store.ReplaceOverrides(context.Background(), account, mirror.ScopeCustomer, "cus_1", []mirror.Override{
		{FeatureID: c.apiCalls.ID, ValueLimit: limit(5000)},
	}))

	state, err := c.service().CustomerState(context.Background(), account, "cus_1")
	require.NoError(t, err)

	out, err := json.MarshalIndent(state, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden.json"),
	)
	g.Assert(t, "customer_state", out)
}

func TestCustomerState_NoSubscriptions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCatalog(t)
	_, err := c.store.UpsertCustomer(ctx, account, "cus_free", nil)
	require.NoError(t, err)

	state, err := c.service().CustomerState(ctx, account, "cus_free")
	require.NoError(t, err)

	defaults, err := c.service().AccountFeatures(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, entitlements.StateVersion, state.Version)
	assert.Equal(t, defaults, state.Features)
	assert.Empty(t, state.Subscriptions)

	out, err := json.Marshal(state)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"subscriptions":[]`)
}

func TestCustomerState_UnknownCustomer(t *testing.T) {
	t.Parallel()

	_, err := newCatalog(t).service().CustomerState(context.Background(), account, "cus_nobody")
	assert.ErrorIs(t, err, entitlements.ErrNotFound)
}

func TestCustomerState_NoFeatures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := mirror.NewMemoryStore()
	_, err := store.UpsertAccount(ctx, account, "", nil)
	require.NoError(t, err)
	_, err = store.UpsertCustomer(ctx, account, "cus_1", nil)
	require.NoError(t, err)

	state, err := entitlements.New(store, entitlements.WithLogger(logger.Noop())).CustomerState(ctx, account, "cus_1")
	require.NoError(t, err)
	out, err := json.Marshal(state)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"features":[],"subscriptions":[]}`, string(out))
}

func TestSubscriptionFeatures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("canceled subscriptions grant nothing", func(t *testing.T) {
		t.Parallel()
		c := newCatalog(t)
		c.subscribe(t, "cus_1", "sub_1", "canceled", "price_pro", "prod_pro")

		got, err := c.service().SubscriptionFeatures(ctx, account, "cus_1")
		require.NoError(t, err)
		assert.False(t, *featureByKey(got, "analytics").ValueFlag)
		assert.Equal(t, int64(1), *featureByKey(got, "seats").ValueLimit)
	})

	for _, status := range []string{"active", "past_due", "incomplete", "trialing"} {
		t.Run(status+" grants product features", func(t *testing.T) {
			t.Parallel()
			c := newCatalog(t)
			c.subscribe(t, "cus_1", "sub_1", status, "price_basic", "prod_basic")

			got, err := c.service().SubscriptionFeatures(ctx, account, "cus_1")
			require.NoError(t, err)
			assert.Equal(t, int64(5), *featureByKey(got, "seats").ValueLimit)
		})
	}

	t.Run("unlimited wins over a larger finite limit", func(t *testing.T) {
		t.Parallel()
		c := newCatalog(t)
		c.subscribe(t, "cus_1", "sub_1", "active", "price_pro", "prod_pro")
		c.subscribe(t, "cus_1", "sub_2", "active", "price_basic", "prod_basic")

		got, err := c.service().SubscriptionFeatures(ctx, account, "cus_1")
		require.NoError(t, err)
		assert.Nil(t, featureByKey(got, "seats").ValueLimit)
		assert.True(t, *featureByKey(got, "analytics").ValueFlag)
	})
}

func TestCustomerFeatures_OverrideWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCatalog(t)
	c.subscribe(t, "cus_1", "sub_1", "active", "price_pro", "prod_pro")
	require.NoError(t, c.store.ReplaceOverrides(ctx, account, mirror.ScopeCustomer, "cus_1", []mirror.Override{
		{FeatureID: c.analytics.ID, ValueFlag: flag(false)},
		{FeatureID: c.seats.ID, ValueLimit: limit(2)},
	}))

	got, err := c.service().CustomerFeatures(ctx, account, "cus_1")
	require.NoError(t, err)
	assert.False(t, *featureByKey(got, "analytics").ValueFlag)
	assert.Equal(t, int64(2), *featureByKey(got, "seats").ValueLimit)
	assert.Equal(t, int64(1000), *featureByKey(got, "api_calls").ValueLimit)
}

func TestProductAndPriceFeatures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCatalog(t)
	svc := c.service()

	product, err := svc.ProductFeatures(ctx, account, "prod_basic")
	require.NoError(t, err)
	assert.Equal(t, int64(5), *featureByKey(product, "seats").ValueLimit)

	none, err := svc.ProductFeatures(ctx, account, "prod_unknown")
	require.NoError(t, err)
	assert.Equal(t, int64(1), *featureByKey(none, "seats").ValueLimit)

	require.NoError(t, c.store.ReplaceOverrides(ctx, account, mirror.ScopePrice, "price_basic_year", []mirror.Override{
		{FeatureID: c.seats.ID, ValueLimit: limit(10)},
	}))
	price, err := svc.PriceFeatures(ctx, account, "price_basic_year")
	require.NoError(t, err)
	assert.Equal(t, int64(10), *featureByKey(price, "seats").ValueLimit)

	monthly, err := svc.PriceFeatures(ctx, account, "price_basic")
	require.NoError(t, err)
	assert.Equal(t, int64(5), *featureByKey(monthly, "seats").ValueLimit)

	_, err = svc.PriceFeatures(ctx, account, "price_unknown")
	assert.ErrorIs(t, err, entitlements.ErrNotFound)

	// price overrides are not part of customer resolution
	c.subscribe(t, "cus_1", "sub_1", "active", "price_basic_year", "prod_basic")
	got, err := svc.CustomerFeatures(ctx, account, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), *featureByKey(got, "seats").ValueLimit)
}

func TestPricingTableState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCatalog(t)
	svc := c.service()

	table, err := c.store.CreatePricingTable(ctx, mirror.PricingTable{AccountID: account, Name: "Plans", MonthlyEnabled: true, AnnualEnabled: true})
	require.NoError(t, err)
	for _, row := range []mirror.PricingTableProduct{
		{ProductID: "prod_enterprise"},
		{ProductID: "prod_pro", MonthlyPriceID: "price_pro"},
		{ProductID: "prod_basic", MonthlyPriceID: "price_basic", AnnualPriceID: "price_basic_year"},
	} {
		row.AccountID, row.PricingTableID = account, table.ID
		_, err := c.store.AddPricingTableProduct(ctx, row)
		require.NoError(t, err)
	}

	state, err := svc.PricingTableState(ctx, account, table.ID)
	require.NoError(t, err)
	assert.Equal(t, table.ID, state.ID)
	assert.Equal(t, "Plans", state.Name)
	assert.Equal(t, []string{entitlements.IntervalMonth, entitlements.IntervalYear}, state.Intervals)

	require.Len(t, state.Products, 3)
	assert.Equal(t, "prod_basic", state.Products[0].ID)
	assert.Equal(t, "prod_pro", state.Products[1].ID)
	assert.Equal(t, "prod_enterprise", state.Products[2].ID)

	basic := state.Products[0]
	assert.Equal(t, "Basic", basic.Name)
	assert.Nil(t, basic.Description)
	assert.Equal(t, int64(1000), *basic.Prices[entitlements.IntervalMonth].UnitAmount)
	assert.Equal(t, "price_basic_year", basic.Prices[entitlements.IntervalYear].ID)
	assert.Equal(t, int64(5), *featureByKey(basic.Features, "seats").ValueLimit)
	assert.Empty(t, state.Products[2].Prices)

	_, err = svc.PricingTableState(ctx, account, table.ID+1000)
	assert.ErrorIs(t, err, entitlements.ErrNotFound)
	_, err = svc.PricingTableState(ctx, "acct_other", table.ID)
	assert.ErrorIs(t, err, entitlements.ErrNotFound)
}

func TestPricingTableState_AnnualOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCatalog(t)

	table, err := c.store.CreatePricingTable(ctx, mirror.PricingTable{AccountID: account, AnnualEnabled: true})
	require.NoError(t, err)
	for _, row := range []mirror.PricingTableProduct{
		{ProductID: "prod_pro", MonthlyPriceID: "price_pro"},
		{ProductID: "prod_basic", AnnualPriceID: "price_basic_year"},
	} {
		row.AccountID, row.PricingTableID = account, table.ID
		_, err := c.store.AddPricingTableProduct(ctx, row)
		require.NoError(t, err)
	}

	state, err := c.service().PricingTableState(ctx, account, table.ID)
	require.NoError(t, err)
	assert.Equal(t, "Default", state.Name)
	assert.Equal(t, []string{entitlements.IntervalYear}, state.Intervals)
	assert.Equal(t, "prod_basic", state.Products[0].ID)
	assert.Equal(t, "prod_pro", state.Products[1].ID)
}

func TestRevenueEstimate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	c := newCatalog(t)
	for _, ch := range []mirror.Charge{
		{StripeID: "ch_1", Amount: 1000, Status: "succeeded", Mode: platform.ModeLive, Created: now.AddDate(0, 0, -1)},
		{StripeID: "ch_2", Amount: 500, Status: "succeeded", Mode: platform.ModeLive, Created: now.AddDate(0, 0, -29)},
		{StripeID: "ch_3", Amount: 700, Status: "succeeded", Mode: platform.ModeLive, Created: now.AddDate(0, 0, -31)},
		{StripeID: "ch_4", Amount: 900, Status: "failed", Mode: platform.ModeLive, Created: now},
		{StripeID: "ch_5", Amount: 300, Status: "succeeded", Mode: platform.ModeTest, Created: now},
	} {
		ch.AccountID = account
		_, err := c.store.UpsertCharge(ctx, ch)
		require.NoError(t, err)
	}

	svc := c.service(entitlements.WithClock(func() time.Time { return now }))
	live, err := svc.RevenueEstimate(ctx, account, platform.ModeLive)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), live)

	test, err := svc.RevenueEstimate(ctx, account, platform.ModeTest)
	require.NoError(t, err)
	assert.Equal(t, int64(300), test)
}
