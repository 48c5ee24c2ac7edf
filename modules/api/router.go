// Package api is the HTTP surface: the platform webhook endpoint, the
// entitlement state reads and the feature administration routes. Every /v1
// route is scoped to the connected account named by the Stripe-Account
// header.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/entitlekit/handler"
	"github.com/dmitrymomot/entitlekit/pkg/httpserver"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
	"github.com/dmitrymomot/entitlekit/pkg/ratelimiter"
	"github.com/dmitrymomot/entitlekit/pkg/requestid"
	"github.com/dmitrymomot/entitlekit/svc/entitlements"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
)

// AccountHeader names the connected account of a request.
const AccountHeader = "Stripe-Account"

type Entitlements interface {
	GetCustomerState(ctx context.Context, accountID, customerID string) (*entitlements.CustomerState, error)
	GetPricingTableState(ctx context.Context, accountID string, tableID int64) (*entitlements.PricingTableState, error)

	AccountFeatures(ctx context.Context, accountID string) ([]mirror.Feature, error)
	CreateFeature(ctx context.Context, accountID string, in entitlements.FeatureInput) (*mirror.Feature, error)
	UpdateFeature(ctx context.Context, accountID string, id int64, in entitlements.FeatureInput) (*mirror.Feature, error)
	DeleteFeature(ctx context.Context, accountID string, id int64) error

	SetProductFeatures(ctx context.Context, accountID, productID string, in []entitlements.OverrideInput) error
	SetPriceFeatures(ctx context.Context, accountID, priceID string, in []entitlements.OverrideInput) error
	SetCustomerFeatures(ctx context.Context, accountID, customerID string, in []entitlements.OverrideInput) error
}

type Syncer interface {
	HandleEvent(ctx context.Context, ev platform.Event) error
	StartFullSync(ctx context.Context, accountID string) (*mirror.SyncJob, error)
}

type Options struct {
	Entitlements Entitlements
	Syncer       Syncer
	Webhook      platform.Config
	Logger       *slog.Logger

	// Checks back the /healthz readiness probe.
	Checks []httpserver.Check

	// RateLimiter, when set, throttles /v1 per account.
	RateLimiter ratelimiter.Limiter
}

func Router(opts Options) chi.Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Entitlements == nil || opts.Syncer == nil {
		panic("api: entitlements and syncer are required")
	}
	h := &handlers{
		ent:     opts.Entitlements,
		syncer:  opts.Syncer,
		webhook: opts.Webhook,
		log:     opts.Logger,
		onError: handler.NewErrorHandler(opts.Logger),
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)

	r.Get("/healthz", httpserver.HealthCheckHandler(opts.Logger, 5*time.Second, opts.Checks...))
	r.Post("/stripe/webhooks", h.webhooks)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(requireAccount(h.onError))
		if opts.RateLimiter != nil {
			v1.Use(ratelimiter.Middleware(opts.RateLimiter, ratelimiter.HeaderKey(AccountHeader),
				ratelimiter.WithLogger(opts.Logger),
				ratelimiter.WithLimitedHandler(func(w http.ResponseWriter, req *http.Request, err error) {
					h.onError(handler.NewContext(w, req), errors.Join(handler.ErrTooManyRequests, err))
				}),
			))
		}

		v1.Get("/customers/{id}/state", wrap(h, h.customerState))
		v1.Put("/customers/{id}/features", wrapBody(h, h.setCustomerFeatures))
		v1.Get("/pricing_tables/{id}/state", wrap(h, h.pricingTableState))

		v1.Get("/features", wrap(h, h.listFeatures))
		v1.Post("/features", wrapBody(h, h.createFeature))
		v1.Put("/features/{id}", wrapBody(h, h.updateFeature))
		v1.Delete("/features/{id}", wrap(h, h.deleteFeature))
		v1.Put("/products/{id}/features", wrapBody(h, h.setProductFeatures))
		v1.Put("/prices/{id}/features", wrapBody(h, h.setPriceFeatures))

		v1.Post("/sync", wrap(h, h.startSync))
	})
	return r
}

// requireAccount rejects /v1 requests without an account and adds the
// account to the request's log records.
func requireAccount(onError handler.ErrorHandler[handler.Context]) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := r.Header.Get(AccountHeader)
			if account == "" {
				onError(handler.NewContext(w, r), handler.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(logger.WithAccount(r.Context(), account)))
		})
	}
}
