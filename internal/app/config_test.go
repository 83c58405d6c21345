package app

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.True(t, cfg.ConsolidatedMirror)
	assert.Equal(t, time.Minute, cfg.BalanceCacheTTL)
	assert.Equal(t, "0 3 * * *", cfg.ReconcileCron)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.EqualValues(t, 10, cfg.PGMaxConns)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", StoreMemory)
	t.Setenv("CONSOLIDATED_MIRROR", "false")
	t.Setenv("CORS_ORIGINS", "https://optics.example,https://admin.example")
	t.Setenv("APP_ENV", "production")
	t.Setenv("REDIS_PASSWORD", "s3cret")
	t.Setenv("REDIS_DB", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Redis().Queue().Password)
	assert.Equal(t, 3, cfg.Redis().DB)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.False(t, cfg.ConsolidatedMirror)
	assert.Equal(t, []string{"https://optics.example", "https://admin.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "STORE_DRIVER")
}

func TestInTestMode(t *testing.T) {
	t.Setenv(TestModeEnv, "1")
	assert.True(t, InTestMode())
	t.Setenv(TestModeEnv, "")
	assert.False(t, InTestMode())
}

func TestLoggerHonoursLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "ledger", "shop")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "shop", line["ledger"])
}
