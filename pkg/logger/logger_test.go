package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlekit/pkg/environment"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json by default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))
		log.Info("hello")

		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("production environment adds service attrs", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithEnvironment(environment.Production, "entitlekit"),
		)
		log.Debug("dropped")
		assert.Empty(t, buf.Bytes())

		log.Info("kept")
		entry := decode(t, buf)
		assert.Equal(t, "entitlekit", entry["service"])
		assert.Equal(t, "production", entry["env"])
	})

	t.Run("development environment logs debug as text", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithEnvironment(environment.Development, "entitlekit"),
		)
		log.Debug("visible")
		assert.Contains(t, buf.String(), "level=DEBUG")
		assert.Contains(t, buf.String(), "msg=visible")
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { logger.New(logger.WithFormat("xml")) })
	})
}

func TestContextExtractors(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithContextExtractors(logger.AccountExtractor(), logger.SyncJobExtractor()),
	)

	ctx := logger.WithSyncJob(logger.WithAccount(context.Background(), "acct_1"), 42)
	log.With(logger.Component("syncer")).InfoContext(ctx, "page stored", logger.Step("customers"))

	entry := decode(t, buf)
	assert.Equal(t, "acct_1", entry["account_id"])
	assert.EqualValues(t, 42, entry["sync_job_id"])
	assert.Equal(t, "syncer", entry["component"])
	assert.Equal(t, "customers", entry["step"])
}

func TestAttrs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Attr{}, logger.Error(nil))
	assert.Equal(t, "error", logger.Error(errors.New("boom")).Key)
	assert.Equal(t, "customerState:acct_1:cus_1", logger.CacheKey("customerState", "acct_1:cus_1").Value.String())
}

func TestNoop(t *testing.T) {
	t.Parallel()
	assert.False(t, logger.Noop().Enabled(context.Background(), slog.LevelError))
}
