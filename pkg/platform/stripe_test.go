package platform_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/dmitrymomot/entitlekit/pkg/platform"
)

func stripeServer(t *testing.T, h http.HandlerFunc) *platform.StripeClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return platform.NewStripeClient("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
}

func TestStripeClient_GetPrice(t *testing.T) {
	t.Parallel()

	var account string
	c := stripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		account = r.Header.Get("Stripe-Account")
		switch r.URL.Path {
		case "/v1/prices/price_1":
			_, _ = w.Write([]byte(`{"id":"price_1","object":"price","product":"prod_1","unit_amount":1500,"currency":"usd","billing_scheme":"per_unit"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such price"}}`))
		}
	})

	ctx := context.Background()
	price, err := c.GetPrice(ctx, "acct_1", "price_1")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", account)
	assert.Equal(t, "prod_1", price.ProductID)
	require.NotNil(t, price.UnitAmount)
	assert.Equal(t, int64(1500), *price.UnitAmount)
	assert.Equal(t, "usd", price.Currency)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(price.Raw, &decoded))
	assert.Equal(t, "price_1", decoded["id"])

	_, err = c.GetPrice(ctx, "acct_1", "price_missing")
	assert.ErrorIs(t, err, platform.ErrNotFound)
}

func TestStripeClient_ListCustomersPage(t *testing.T) {
	t.Parallel()

	var query string
	c := stripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"object":"list","url":"/v1/customers","has_more":true,"data":[
			{"id":"cus_2","object":"customer"},
			{"id":"cus_3","object":"customer"}
		]}`))
	})

	page, err := c.ListCustomers(context.Background(), "acct_1", platform.PageParams{Limit: 2, StartingAfter: "cus_1"})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "cus_3", page.Items[1].ID)
	assert.True(t, page.HasMore)
	assert.Contains(t, query, "starting_after=cus_1")
	assert.Contains(t, query, "limit=2")
}

func TestParseWebhook(t *testing.T) {
	t.Parallel()

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"type": "customer.subscription.updated",
		"account": "acct_1",
		"livemode": false,
		"api_version": %q,
		"data": {"object": {"id": "sub_1", "customer": "cus_1"}}
	}`, stripe.APIVersion))

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	ev, err := platform.ParseWebhook(signed.Payload, signed.Header, "whsec_test", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, "acct_1", ev.Account)
	assert.Equal(t, platform.ModeTest, ev.Mode())

	customer, err := ev.Ref("customer")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", customer)

	_, err = platform.ParseWebhook(signed.Payload, "t="+strconv.FormatInt(time.Now().Unix(), 10)+",v1=bad", "whsec_test", time.Minute)
	assert.ErrorIs(t, err, platform.ErrBadSignature)
}
