package binder

import (
	"fmt"
	"net/http"
)

// Path binds `path:"name"` fields through extractor, typically chi.URLParam.
// Empty values leave the field untouched.
func Path(extractor func(r *http.Request, name string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: extractor is nil", ErrFailedToParsePath)
		}
		return bindFields(v, "path", ErrFailedToParsePath, func(name string) []string {
			if value := extractor(r, name); value != "" {
				return []string{value}
			}
			return nil
		})
	}
}

// Header binds `header:"Name"` fields from request headers. Names are
// canonicalized, so the tag case does not matter.
func Header() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindFields(v, "header", ErrFailedToParseHeader, r.Header.Values)
	}
}
