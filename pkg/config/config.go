// Package config loads runtime configuration for the CLI and embedding
// applications. The linkage settings document is a separate contract owned
// by pkg/settings; this package covers everything around it.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration.
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Engine configuration
	Engine EngineConfig `mapstructure:"engine"`

	// Training configuration
	Training TrainingConfig `mapstructure:"training"`

	// Output configuration
	Output OutputConfig `mapstructure:"output"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig selects and tunes the execution engine.
type EngineConfig struct {
	// Backend is the engine name: memory is the only in-tree engine.
	Backend string `mapstructure:"backend"`

	// Dialect names the SQL dialect plans are compiled for.
	Dialect string `mapstructure:"dialect"`

	// Workers bounds pair-evaluation and E-step concurrency; zero means
	// one worker per CPU.
	Workers int `mapstructure:"workers"`
}

// TrainingConfig tunes estimation runs.
type TrainingConfig struct {
	MaxPairs int   `mapstructure:"max_pairs"`
	Seed     int64 `mapstructure:"seed"`
}

// OutputConfig holds result-writer configuration.
type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"` // parquet or csv
}

// CircuitBreakerConfig holds configuration for circuit breaking around an
// external engine.
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)
	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("engine.backend", "memory")
	viper.SetDefault("engine.dialect", "duckdb")
	viper.SetDefault("engine.workers", 0)

	viper.SetDefault("training.max_pairs", 1_000_000)
	viper.SetDefault("training.seed", 42)

	viper.SetDefault("output.dir", "./results")
	viper.SetDefault("output.format", "parquet")

	viper.SetDefault("circuit_breaker.enabled", false)
	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	if level := os.Getenv("SPLINK_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if backend := os.Getenv("SPLINK_BACKEND"); backend != "" {
		config.Engine.Backend = backend
	}
	if dialect := os.Getenv("SPLINK_DIALECT"); dialect != "" {
		config.Engine.Dialect = dialect
	}
	if workers := os.Getenv("SPLINK_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			config.Engine.Workers = n
		}
	}
	if dir := os.Getenv("SPLINK_OUTPUT_DIR"); dir != "" {
		config.Output.Dir = dir
	}
	if seed := os.Getenv("SPLINK_SEED"); seed != "" {
		if n, err := strconv.ParseInt(seed, 10, 64); err == nil {
			config.Training.Seed = n
		}
	}
	if enabled := os.Getenv("SPLINK_BREAKER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.CircuitBreaker.Enabled = b
		}
	}
}
