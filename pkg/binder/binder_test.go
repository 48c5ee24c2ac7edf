package binder_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlekit/pkg/binder"
)

type request struct {
	Account  string   `header:"stripe-account"`
	ID       int64    `path:"id"`
	Customer string   `path:"customer"`
	Name     string   `json:"name"`
	Limit    *int64   `json:"limit"`
	Tags     []string `header:"X-Tag"`
}

func params(values map[string]string) func(*http.Request, string) string {
	return func(_ *http.Request, name string) string { return values[name] }
}

func jsonRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	return r
}

func TestJSON(t *testing.T) {
	t.Parallel()

	t.Run("decodes body", func(t *testing.T) {
		t.Parallel()
		var req request
		require.NoError(t, binder.JSON()(jsonRequest(`{"name":"Seats","limit":5}`), &req))
		assert.Equal(t, "Seats", req.Name)
		require.NotNil(t, req.Limit)
		assert.Equal(t, int64(5), *req.Limit)
	})

	tests := []struct {
		name string
		req  func() *http.Request
		err  error
	}{
		{
			name: "missing content type",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
			},
			err: binder.ErrMissingContentType,
		},
		{
			name: "wrong content type",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`name=x`))
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return r
			},
			err: binder.ErrUnsupportedMediaType,
		},
		{name: "empty body", req: func() *http.Request { return jsonRequest(``) }, err: binder.ErrFailedToParseJSON},
		{name: "unknown field", req: func() *http.Request { return jsonRequest(`{"nope":1}`) }, err: binder.ErrFailedToParseJSON},
		{name: "trailing data", req: func() *http.Request { return jsonRequest(`{"name":"a"}{"name":"b"}`) }, err: binder.ErrFailedToParseJSON},
		{name: "wrong type", req: func() *http.Request { return jsonRequest(`{"limit":"many"}`) }, err: binder.ErrFailedToParseJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var req request
			assert.ErrorIs(t, binder.JSON()(tt.req(), &req), tt.err)
		})
	}

	t.Run("size limit", func(t *testing.T) {
		t.Parallel()
		var req request
		err := binder.JSONWithLimit(8)(jsonRequest(`{"name":"far too long"}`), &req)
		assert.ErrorIs(t, err, binder.ErrFailedToParseJSON)
	})
}

func TestPath(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)

	var req request
	require.NoError(t, binder.Path(params(map[string]string{"id": "42", "customer": "cus_1"}))(r, &req))
	assert.Equal(t, int64(42), req.ID)
	assert.Equal(t, "cus_1", req.Customer)

	err := binder.Path(params(map[string]string{"id": "abc"}))(r, &req)
	assert.ErrorIs(t, err, binder.ErrFailedToParsePath)

	assert.ErrorIs(t, binder.Path(nil)(r, &req), binder.ErrFailedToParsePath)
	assert.ErrorIs(t, binder.Path(params(nil))(r, req), binder.ErrFailedToParsePath)
}

func TestHeader(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Stripe-Account", "acct_1")
	r.Header.Add("X-Tag", "a")
	r.Header.Add("X-Tag", "b")

	var req request
	require.NoError(t, binder.Header()(r, &req))
	assert.Equal(t, "acct_1", req.Account)
	assert.Equal(t, []string{"a", "b"}, req.Tags)
	assert.Empty(t, req.Name)
}
