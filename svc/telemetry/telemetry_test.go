package telemetry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/webhook"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
	"github.com/dmitrymomot/entitlekit/svc/telemetry"
)

func TestWebhookTracker(t *testing.T) {
	t.Parallel()

	received := make(chan mirror.TrackEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := webhook.Verify("tsecret", body, r.Header, time.Minute); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var ev mirror.TrackEvent
		_ = json.Unmarshal(body, &ev)
		received <- ev
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	tracker := telemetry.New(telemetry.Config{WebhookURL: srv.URL, WebhookSecret: "tsecret"}, logger.Noop())
	require.IsType(t, &telemetry.WebhookTracker{}, tracker)

	err := tracker.Track(context.Background(), mirror.TrackEvent{
		Name:      mirror.EventAccountCreated,
		AccountID: "acct_1",
		Time:      time.Now(),
	})
	require.NoError(t, err)

	ev := <-received
	assert.Equal(t, mirror.EventAccountCreated, ev.Name)
	assert.Equal(t, "acct_1", ev.AccountID)
}

func TestWebhookTracker_PermanentFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	tracker := telemetry.NewWebhookTracker(webhook.NewSender(webhook.WithRetries(3, time.Millisecond)), srv.URL)
	err := tracker.Track(context.Background(), mirror.TrackEvent{Name: mirror.EventUserCreated})
	assert.ErrorIs(t, err, webhook.ErrPermanentFailure)
}

func TestLogTracker(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithFormat(logger.FormatJSON))
	tracker := telemetry.New(telemetry.Config{}, log)

	require.NoError(t, tracker.Track(context.Background(), mirror.TrackEvent{Name: mirror.EventAccountRenamed, AccountID: "acct_1"}))
	assert.Contains(t, buf.String(), `"event":"account_renamed"`)
	assert.Contains(t, buf.String(), `"account_id":"acct_1"`)

	assert.NoError(t, telemetry.Noop{}.Track(context.Background(), mirror.TrackEvent{}))
}
