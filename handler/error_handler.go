package handler

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/entitlekit/pkg/logger"
)

// NewErrorHandler logs the error and answers with the JSON error envelope.
// Client errors are logged at warn level, server errors at error level.
func NewErrorHandler(log *slog.Logger) ErrorHandler[Context] {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx Context, err error) {
		status, _ := Classify(err)
		level := slog.LevelError
		if status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}

		r := ctx.Request()
		log.LogAttrs(ctx, level, "request error",
			logger.Component("http"),
			logger.Error(err),
			slog.Int("status_code", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		if rerr := JSONError(err).Render(ctx.ResponseWriter(), r); rerr != nil {
			log.ErrorContext(ctx, "failed to render error response",
				logger.Component("http"),
				logger.Error(rerr),
			)
		}
	}
}
