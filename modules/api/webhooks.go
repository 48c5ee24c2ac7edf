package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/entitlekit/handler"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
	"github.com/dmitrymomot/entitlekit/svc/syncer"
)

// maxWebhookBody bounds webhook payloads. Stripe events are far smaller.
const maxWebhookBody = 1 << 20

type webhookResponse struct {
	Received bool `json:"received"`
	Ignored  bool `json:"ignored,omitempty"`
}

// webhooks verifies and applies one platform event. Events the mirror cannot
// attribute to an account are acknowledged so the platform stops retrying.
func (h *handlers) webhooks(w http.ResponseWriter, r *http.Request) {
	ctx := handler.NewContext(w, r)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil || len(payload) > maxWebhookBody {
		h.onError(ctx, errors.Join(handler.ErrBadRequest, err))
		return
	}

	ev, err := platform.ParseWebhook(payload, r.Header.Get("Stripe-Signature"), h.webhook.WebhookSecret, h.webhook.WebhookMaxAge)
	if err != nil {
		h.onError(ctx, errors.Join(handler.ErrBadRequest, err))
		return
	}

	log := h.log.With(
		logger.Component("webhooks"),
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.String("mode", string(ev.Mode())),
	)
	reqCtx := r.Context()
	if ev.Account != "" {
		reqCtx = logger.WithAccount(reqCtx, ev.Account)
	}

	err = h.syncer.HandleEvent(reqCtx, ev)
	switch {
	case err == nil:
		log.DebugContext(reqCtx, "event applied")
		render(ctx, h, handler.Object(webhookResponse{Received: true}))
	case errors.Is(err, syncer.ErrMissingAccount):
		log.WarnContext(reqCtx, "event ignored", logger.Error(err))
		render(ctx, h, handler.Object(webhookResponse{Received: true, Ignored: true}))
	case errors.Is(err, platform.ErrBadEvent):
		h.onError(ctx, errors.Join(handler.ErrBadRequest, err))
	default:
		h.onError(ctx, err)
	}
}

func render(ctx handler.Context, h *handlers, resp handler.Response) {
	if err := resp.Render(ctx.ResponseWriter(), ctx.Request()); err != nil {
		h.onError(ctx, err)
	}
}
