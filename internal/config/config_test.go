package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "proximity.db", cfg.Store.SQLitePath)
	assert.Equal(t, int32(10), cfg.Store.Pool.MaxConns)
	assert.Equal(t, 5.0, cfg.Analysis.DefaultRadiusKm)
	assert.Equal(t, 5, cfg.Analysis.Workers)
	assert.Equal(t, 6, cfg.Analysis.RecomputeIntervalHours)
	assert.Equal(t, 50.0, cfg.Geocode.RateLimitRPS)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PROXIMITY_STORE_DRIVER", "postgres")
	t.Setenv("PROXIMITY_STORE_DATABASE_URL", "postgres://localhost/stores")
	t.Setenv("PROXIMITY_ANALYSIS_DEFAULT_RADIUS_KM", "10")
	t.Setenv("PROXIMITY_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/stores", cfg.Store.DatabaseURL)
	assert.Equal(t, 10.0, cfg.Analysis.DefaultRadiusKm)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
store:
  driver: postgres
  database_url: postgres://db.internal/stores
analysis:
  default_radius_km: 7.5
  workers: 8
log:
  format: console
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 7.5, cfg.Analysis.DefaultRadiusKm)
	assert.Equal(t, 8, cfg.Analysis.Workers)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still fill the gaps.
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
