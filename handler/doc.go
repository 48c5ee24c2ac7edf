// Package handler adapts typed request handlers to http.HandlerFunc.
//
// A handler receives a Context and a request struct filled by binders, and
// returns a Response:
//
//	type stateRequest struct {
//		Account    string `header:"Stripe-Account"`
//		CustomerID string `path:"id"`
//	}
//
//	h := func(ctx handler.Context, req stateRequest) handler.Response {
//		state, err := svc.GetCustomerState(ctx, req.Account, req.CustomerID)
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.Object(state)
//	}
//
//	r.Get("/customers/{id}/state", handler.Wrap(h,
//		handler.WithBinders[handler.Context, stateRequest](binder.Header(), binder.Path(chi.URLParam)),
//		handler.WithErrorHandler[handler.Context, stateRequest](handler.NewErrorHandler(log)),
//	))
//
// Binding and render failures go to the ErrorHandler. NewErrorHandler
// answers with the JSON error envelope: 400 for malformed input, 415 for a
// wrong content type, 422 for validator.ValidationErrors and the status of
// any HTTPError.
package handler
