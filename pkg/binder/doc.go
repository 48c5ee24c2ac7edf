// Package binder fills request structs from an *http.Request.
//
// Each binder reads one source and its own struct tag:
//
//	type SetFeaturesRequest struct {
//		Account    string                       `header:"Stripe-Account"`
//		CustomerID string                       `path:"id"`
//		Features   []entitlements.OverrideInput `json:"features"`
//	}
//
//	r.Put("/customers/{id}/features", handler.Wrap(h,
//		handler.WithBinders[handler.Context, SetFeaturesRequest](
//			binder.Header(),
//			binder.Path(chi.URLParam),
//			binder.JSON(),
//		),
//	))
//
// Binders return errors wrapping the sentinels in errors.go so the handler
// layer can answer 400 or 415.
package binder
