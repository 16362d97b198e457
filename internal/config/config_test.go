package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, 30, cfg.Forecast.DefaultHorizonDays)
	assert.Equal(t, 24*time.Hour, cfg.Forecast.ModelFreshness)
	assert.Equal(t, "0 0 2 * * *", cfg.Scheduler.TrainCron)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	yml := `
server:
  port: 9090
repository:
  driver: memory
forecast:
  currency: EUR
  model_freshness: 12h
scheduler:
  train_cron: "0 30 3 * * *"
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("KESTREL_PORT", "9191")
	t.Setenv("KESTREL_TENANTS", "acme, globex ,")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port, "env overrides file")
	assert.Equal(t, "memory", cfg.Repository.Driver)
	assert.Equal(t, "EUR", cfg.Forecast.Currency)
	assert.Equal(t, 12*time.Hour, cfg.Forecast.ModelFreshness)
	assert.Equal(t, "0 30 3 * * *", cfg.Scheduler.TrainCron)
	assert.Equal(t, []string{"acme", "globex"}, cfg.Worker.TenantIDs)
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("KESTREL_TIER", "pro")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.True(t, cfg.Cache.EnableTwoPhase)
	assert.Equal(t, "kestrel-workers", cfg.Worker.QueueGroup)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Run("BadInt", func(t *testing.T) {
		t.Setenv("KESTREL_PORT", "eighty")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("HorizonOutOfRange", func(t *testing.T) {
		t.Setenv("KESTREL_HORIZON_DAYS", "91")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		t.Setenv("KESTREL_DB_DRIVER", "mysql")
		_, err := Load("")
		assert.Error(t, err)
	})
}
