package ratelimiter

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrymomot/entitlekit/pkg/logger"
)

// KeyFunc extracts the bucket key of a request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// HeaderKey keys buckets by a request header.
func HeaderKey(name string) KeyFunc {
	return func(r *http.Request) string { return r.Header.Get(name) }
}

type middlewareConfig struct {
	onLimited func(w http.ResponseWriter, r *http.Request, err error)
	log       *slog.Logger
	now       func() time.Time
}

type MiddlewareOption func(*middlewareConfig)

// WithLimitedHandler replaces the plain-text 429 answer. err wraps
// ErrLimited.
func WithLimitedHandler(fn func(w http.ResponseWriter, r *http.Request, err error)) MiddlewareOption {
	return func(c *middlewareConfig) {
		if fn != nil {
			c.onLimited = fn
		}
	}
}

func WithLogger(log *slog.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// Middleware sets the X-RateLimit headers and rejects limited requests. A
// failing store lets the request through.
func Middleware(l Limiter, keyFunc KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{
		onLimited: func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		},
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := l.Allow(r.Context(), key)
			if err != nil {
				cfg.log.WarnContext(r.Context(), "rate limit check failed",
					logger.Component("ratelimiter"),
					logger.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retry := res.RetryAfter(cfg.now())
				h.Set("Retry-After", strconv.Itoa(int((retry+time.Second-1)/time.Second)))
				cfg.onLimited(w, r, ErrLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
