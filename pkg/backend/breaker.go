package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/wilko77/splink/pkg/types"
)

// BreakerConfig tunes the circuit breaker guarding an external engine.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32 `mapstructure:"max_requests"`
	// Interval over which failure counts are accumulated, in seconds.
	Interval int `mapstructure:"interval"`
	// Timeout before a tripped breaker probes again, in seconds.
	Timeout int `mapstructure:"timeout"`
	// ReadyToTripRatio is the failure ratio that opens the breaker.
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// DefaultBreakerConfig returns conservative defaults suitable for a remote
// query engine.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         60,
		Timeout:          30,
		ReadyToTripRatio: 0.6,
	}
}

// BreakerBackend wraps a Backend with circuit breaking so a struggling
// external engine fails fast instead of queueing long pairwise jobs behind
// a dead connection. Misconfiguration errors still pass through; only the
// engine boundary is guarded.
type BreakerBackend struct {
	inner  Backend
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// NewBreakerBackend wraps an engine with a circuit breaker.
func NewBreakerBackend(inner Backend, cfg BreakerConfig, logger *slog.Logger) *BreakerBackend {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", inner.Name())

	st := gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= cfg.ReadyToTripRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "engine", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// The caller's bad input is not the engine's failure.
			var spec *types.SpecificationError
			if errors.As(err, &spec) {
				return true
			}
			var data *types.DataError
			return errors.As(err, &data)
		},
	}
	return &BreakerBackend{
		inner:  inner,
		cb:     gobreaker.NewCircuitBreaker(st),
		logger: logger,
	}
}

// Name implements Backend.
func (b *BreakerBackend) Name() string { return b.inner.Name() }

// RegisterTable implements Backend.
func (b *BreakerBackend) RegisterTable(ctx context.Context, table *types.Table) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.RegisterTable(ctx, table)
	})
	return err
}

// Pairs implements Backend.
func (b *BreakerBackend) Pairs(ctx context.Context, job *Job) (*types.PairTable, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Pairs(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return out.(*types.PairTable), nil
}

// SamplePairs implements Backend.
func (b *BreakerBackend) SamplePairs(ctx context.Context, job *Job, maxPairs int, seed int64) (*types.PairTable, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.SamplePairs(ctx, job, maxPairs, seed)
	})
	if err != nil {
		return nil, err
	}
	return out.(*types.PairTable), nil
}

// Close implements Backend. Close bypasses the breaker so shutdown always
// reaches the engine.
func (b *BreakerBackend) Close() error {
	return b.inner.Close()
}
