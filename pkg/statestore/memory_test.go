package statestore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlekit/pkg/statestore"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := statestore.NewMemoryStore()

	_, err := store.Get(ctx, "customers/acct_1/cus_1.json")
	assert.ErrorIs(t, err, statestore.ErrNotFound)

	payload := []byte(`{"version":1}`)
	require.NoError(t, store.Put(ctx, "/customers/acct_1/cus_1.json", payload))
	payload[0] = 'x'

	got, err := store.Get(ctx, "customers/acct_1/cus_1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(got))
	assert.Equal(t, []string{"customers/acct_1/cus_1.json"}, store.Keys())

	require.NoError(t, store.Delete(ctx, "customers/acct_1/cus_1.json"))
	require.NoError(t, store.Delete(ctx, "customers/acct_1/cus_1.json"))
	assert.Empty(t, store.Keys())
}

func TestCustomerKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "customers/acct_1/cus_1.json", statestore.CustomerKey("acct_1", "cus_1"))
}
