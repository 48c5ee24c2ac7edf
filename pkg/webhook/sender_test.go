package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlekit/pkg/webhook"
)

type event struct {
	Type string `json:"type"`
}

func TestSender_Send(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("signed delivery", func(t *testing.T) {
		t.Parallel()

		var got event
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if err := webhook.Verify("s3cret", body, r.Header, time.Minute); err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.Unmarshal(body, &got)
			w.WriteHeader(http.StatusNoContent)
		}))
		t.Cleanup(srv.Close)

		s := webhook.NewSender(webhook.WithSecret("s3cret"))
		require.NoError(t, s.Send(ctx, srv.URL, event{Type: "account.created"}))
		assert.Equal(t, "account.created", got.Type)
	})

	t.Run("retries server errors", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(srv.Close)

		s := webhook.NewSender(webhook.WithRetries(3, time.Millisecond))
		require.NoError(t, s.Send(ctx, srv.URL, event{}))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			http.Error(w, "nope", http.StatusBadRequest)
		}))
		t.Cleanup(srv.Close)

		s := webhook.NewSender(webhook.WithRetries(3, time.Millisecond))
		err := s.Send(ctx, srv.URL, event{})
		assert.ErrorIs(t, err, webhook.ErrPermanentFailure)
		assert.ErrorContains(t, err, "nope")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("gives up after retries", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		t.Cleanup(srv.Close)

		s := webhook.NewSender(webhook.WithRetries(1, time.Millisecond))
		assert.ErrorIs(t, s.Send(ctx, srv.URL, event{}), webhook.ErrDeliveryFailed)
	})

	t.Run("invalid url", func(t *testing.T) {
		t.Parallel()
		s := webhook.NewSender()
		assert.ErrorIs(t, s.Send(ctx, "", event{}), webhook.ErrInvalidURL)
		assert.ErrorIs(t, s.Send(ctx, "ftp://example.com", event{}), webhook.ErrInvalidURL)
	})
}

func TestVerify(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"type":"x"}`)
	sig, err := webhook.Sign("k", payload, time.Now())
	require.NoError(t, err)
	h := http.Header{}
	sig.Apply(h)

	assert.NoError(t, webhook.Verify("k", payload, h, time.Minute))
	assert.ErrorIs(t, webhook.Verify("other", payload, h, time.Minute), webhook.ErrSignatureMismatch)
	assert.ErrorIs(t, webhook.Verify("k", []byte(`{}`), h, time.Minute), webhook.ErrSignatureMismatch)

	old, err := webhook.Sign("k", payload, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	h = http.Header{}
	old.Apply(h)
	assert.ErrorIs(t, webhook.Verify("k", payload, h, time.Minute), webhook.ErrSignatureMismatch)

	_, err = webhook.Sign("", payload, time.Now())
	assert.ErrorIs(t, err, webhook.ErrMissingSecret)
}
