package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "memory", cfg.Engine.Backend)
	assert.Equal(t, "duckdb", cfg.Engine.Dialect)
	assert.Equal(t, 0, cfg.Engine.Workers)
	assert.Equal(t, 1_000_000, cfg.Training.MaxPairs)
	assert.Equal(t, int64(42), cfg.Training.Seed)
	assert.Equal(t, "./results", cfg.Output.Dir)
	assert.Equal(t, "parquet", cfg.Output.Format)
	assert.False(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, 0.6, cfg.CircuitBreaker.ReadyToTripRatio)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SPLINK_LOG_LEVEL", "debug")
	t.Setenv("SPLINK_BACKEND", "memory")
	t.Setenv("SPLINK_DIALECT", "spark")
	t.Setenv("SPLINK_WORKERS", "8")
	t.Setenv("SPLINK_OUTPUT_DIR", "/tmp/out")
	t.Setenv("SPLINK_SEED", "7")
	t.Setenv("SPLINK_BREAKER_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "spark", cfg.Engine.Dialect)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, "/tmp/out", cfg.Output.Dir)
	assert.Equal(t, int64(7), cfg.Training.Seed)
	assert.True(t, cfg.CircuitBreaker.Enabled)
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("SPLINK_WORKERS", "lots")
	t.Setenv("SPLINK_SEED", "soon")
	t.Setenv("SPLINK_BREAKER_ENABLED", "definitely")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Engine.Workers)
	assert.Equal(t, int64(42), cfg.Training.Seed)
	assert.False(t, cfg.CircuitBreaker.Enabled)
}
