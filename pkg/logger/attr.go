package logger

import (
	"context"
	"log/slog"
	"time"
)

// Error returns an "error" attribute, or an empty one for a nil error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Event(name string) slog.Attr {
	return slog.String("event", name)
}

func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}

func AccountID(id string) slog.Attr {
	return slog.String("account_id", id)
}

func CustomerID(id string) slog.Attr {
	return slog.String("customer_id", id)
}

func SyncJobID(id int64) slog.Attr {
	return slog.Int64("sync_job_id", id)
}

func Mode(mode string) slog.Attr {
	return slog.String("mode", mode)
}

func Step(step string) slog.Attr {
	return slog.String("step", step)
}

func ObjectID(id string) slog.Attr {
	return slog.String("object_id", id)
}

func CacheKey(namespace, key string) slog.Attr {
	return slog.String("cache_key", namespace+":"+key)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

type accountKey struct{}

type syncJobKey struct{}

// WithAccount stores the account id for AccountExtractor.
func WithAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountKey{}, accountID)
}

// WithSyncJob stores the sync job id for SyncJobExtractor.
func WithSyncJob(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, syncJobKey{}, id)
}

func AccountExtractor() ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id, ok := ctx.Value(accountKey{}).(string); ok && id != "" {
			return AccountID(id), true
		}
		return slog.Attr{}, false
	}
}

func SyncJobExtractor() ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id, ok := ctx.Value(syncJobKey{}).(int64); ok {
			return SyncJobID(id), true
		}
		return slog.Attr{}, false
	}
}
