package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrait-app/pawtrait/pkg/logger"
)

func TestNew(t *testing.T) {
	t.Run("json output with static attrs", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.New(
			logger.WithOutput(&buf),
			logger.WithAttr(slog.String("service", "pawtrait")),
		)

		log.Info("hello", "tenant_id", "t-1")

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "hello", record["msg"])
		assert.Equal(t, "pawtrait", record["service"])
		assert.Equal(t, "t-1", record["tenant_id"])
	})

	t.Run("level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.New(logger.WithOutput(&buf), logger.WithLevel(slog.LevelWarn))

		log.Info("suppressed")
		assert.Zero(t, buf.Len())

		log.Warn("emitted")
		assert.NotZero(t, buf.Len())
	})

	t.Run("environment defaults", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.New(
			logger.WithOutput(&buf),
			logger.WithEnvironment("development", "pawtrait"),
		)

		log.Debug("visible in development")
		assert.Contains(t, buf.String(), "visible in development")
	})

	t.Run("invalid format panics", func(t *testing.T) {
		assert.Panics(t, func() {
			logger.New(logger.WithFormat("xml"))
		})
	})
}

func TestAttrHelpers(t *testing.T) {
	t.Run("nil error yields empty attr", func(t *testing.T) {
		assert.Equal(t, slog.Attr{}, logger.Error(nil))
	})

	t.Run("error attr", func(t *testing.T) {
		attr := logger.Error(assert.AnError)
		assert.Equal(t, "error", attr.Key)
	})

	t.Run("tenant id attr", func(t *testing.T) {
		attr := logger.TenantID("t-42")
		assert.Equal(t, "tenant_id", attr.Key)
		assert.Equal(t, "t-42", attr.Value.Any())
	})
}
