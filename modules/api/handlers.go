package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/entitlekit/handler"
	"github.com/dmitrymomot/entitlekit/pkg/binder"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
	"github.com/dmitrymomot/entitlekit/svc/entitlements"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
)

type handlers struct {
	ent     Entitlements
	syncer  Syncer
	webhook platform.Config
	log     *slog.Logger
	onError handler.ErrorHandler[handler.Context]
}

func wrap[R any](h *handlers, fn handler.HandlerFunc[handler.Context, R]) http.HandlerFunc {
	return handler.Wrap(fn,
		handler.WithBinders[handler.Context, R](binder.Header(), binder.Path(chi.URLParam)),
		handler.WithErrorHandler[handler.Context, R](h.onError),
	)
}

// wrapBody also decodes the JSON request body.
func wrapBody[R any](h *handlers, fn handler.HandlerFunc[handler.Context, R]) http.HandlerFunc {
	return handler.Wrap(fn,
		handler.WithBinders[handler.Context, R](binder.Header(), binder.Path(chi.URLParam), binder.JSON()),
		handler.WithErrorHandler[handler.Context, R](h.onError),
	)
}

// failed maps domain errors onto HTTP errors. Anything unknown stays a 500.
func failed(err error) handler.Response {
	switch {
	case errors.Is(err, entitlements.ErrNotFound), errors.Is(err, mirror.ErrNotFound):
		return handler.Error(errors.Join(handler.ErrNotFound, err))
	case errors.Is(err, entitlements.ErrNoStateStore):
		return handler.Error(errors.Join(handler.ErrServiceUnavailable, err))
	}
	return handler.Error(err)
}

type accountRequest struct {
	Account string `header:"Stripe-Account" json:"-"`
}

type customerRequest struct {
	Account    string `header:"Stripe-Account" json:"-"`
	CustomerID string `path:"id" json:"-"`
}

func (h *handlers) customerState(ctx handler.Context, req customerRequest) handler.Response {
	state, err := h.ent.GetCustomerState(ctx, req.Account, req.CustomerID)
	if err != nil {
		return failed(err)
	}
	return handler.Object(state)
}

type pricingTableRequest struct {
	Account string `header:"Stripe-Account" json:"-"`
	TableID int64  `path:"id" json:"-"`
}

func (h *handlers) pricingTableState(ctx handler.Context, req pricingTableRequest) handler.Response {
	state, err := h.ent.GetPricingTableState(ctx, req.Account, req.TableID)
	if err != nil {
		return failed(err)
	}
	return handler.Object(state)
}

func (h *handlers) listFeatures(ctx handler.Context, req accountRequest) handler.Response {
	features, err := h.ent.AccountFeatures(ctx, req.Account)
	if err != nil {
		return failed(err)
	}
	if features == nil {
		features = []mirror.Feature{}
	}
	return handler.JSON(features)
}

type featureRequest struct {
	Account   string `header:"Stripe-Account" json:"-"`
	FeatureID int64  `path:"id" json:"-"`
	entitlements.FeatureInput
}

func (h *handlers) createFeature(ctx handler.Context, req featureRequest) handler.Response {
	f, err := h.ent.CreateFeature(ctx, req.Account, req.FeatureInput)
	if err != nil {
		return failed(err)
	}
	return handler.JSON(f, handler.WithJSONStatus(http.StatusCreated))
}

func (h *handlers) updateFeature(ctx handler.Context, req featureRequest) handler.Response {
	f, err := h.ent.UpdateFeature(ctx, req.Account, req.FeatureID, req.FeatureInput)
	if err != nil {
		return failed(err)
	}
	return handler.JSON(f)
}

type deleteFeatureRequest struct {
	Account   string `header:"Stripe-Account" json:"-"`
	FeatureID int64  `path:"id" json:"-"`
}

func (h *handlers) deleteFeature(ctx handler.Context, req deleteFeatureRequest) handler.Response {
	if err := h.ent.DeleteFeature(ctx, req.Account, req.FeatureID); err != nil {
		return failed(err)
	}
	return handler.Empty()
}

// overridesRequest replaces every override of one product, price or
// customer.
type overridesRequest struct {
	Account  string                       `header:"Stripe-Account" json:"-"`
	ScopeID  string                       `path:"id" json:"-"`
	Features []entitlements.OverrideInput `json:"features"`
}

func (h *handlers) setProductFeatures(ctx handler.Context, req overridesRequest) handler.Response {
	return h.overridesSet(h.ent.SetProductFeatures(ctx, req.Account, req.ScopeID, req.Features))
}

func (h *handlers) setPriceFeatures(ctx handler.Context, req overridesRequest) handler.Response {
	return h.overridesSet(h.ent.SetPriceFeatures(ctx, req.Account, req.ScopeID, req.Features))
}

func (h *handlers) setCustomerFeatures(ctx handler.Context, req overridesRequest) handler.Response {
	return h.overridesSet(h.ent.SetCustomerFeatures(ctx, req.Account, req.ScopeID, req.Features))
}

func (h *handlers) overridesSet(err error) handler.Response {
	if err != nil {
		return failed(err)
	}
	return handler.Empty()
}

type syncResponse struct {
	SyncJobID int64  `json:"sync_job_id"`
	Mode      string `json:"mode"`
	Step      string `json:"step"`
}

func (h *handlers) startSync(ctx handler.Context, req accountRequest) handler.Response {
	job, err := h.syncer.StartFullSync(ctx, req.Account)
	if err != nil {
		return failed(err)
	}
	h.log.InfoContext(ctx, "full sync requested",
		logger.Component("api"),
		slog.Int64("sync_job_id", job.ID),
	)
	return handler.JSON(syncResponse{
		SyncJobID: job.ID,
		Mode:      string(job.Mode),
		Step:      string(job.Step),
	}, handler.WithJSONStatus(http.StatusAccepted))
}
