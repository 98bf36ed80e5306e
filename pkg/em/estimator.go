package em

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/wilko77/splink/pkg/settings"
	"github.com/wilko77/splink/pkg/types"
	"github.com/wilko77/splink/pkg/utils"
)

// Stopping reasons reported on FitResult.
const (
	StopConverged     = "parameter change below tolerance"
	StopMaxIterations = "maximum iterations reached"
)

// FitOptions scopes one training session.
type FitOptions struct {
	// FixedComparisons are held constant for this session on top of any
	// level-wise fixed flags already set on the parameters. A session
	// trained under a blocking rule on some column cannot identify that
	// column's own comparison, so the facade lists it here.
	FixedComparisons []string

	// FixPrior holds the prior match probability constant.
	FixPrior bool
}

// FitResult reports how one estimation session ended.
type FitResult struct {
	Iterations     int
	Converged      bool
	StoppingReason string

	// LogLikelihood holds the observed-data log likelihood after each
	// iteration; it is non-decreasing for a correct implementation.
	LogLikelihood []float64

	// UntrainedLevels lists "comparison.level" labels that had zero
	// non-null observations and kept their prior values.
	UntrainedLevels []string

	// Warning is set when the session stopped at the iteration cap
	// without converging. Non-fatal: the parameters hold the last
	// iterate.
	Warning *types.ConvergenceWarning
}

// Estimator runs expectation-maximisation sessions.
type Estimator struct {
	logger  *slog.Logger
	workers int
}

// EstimatorOption configures an Estimator.
type EstimatorOption func(*Estimator)

// WithWorkers sets the expectation-step concurrency.
func WithWorkers(n int) EstimatorOption {
	return func(e *Estimator) { e.workers = n }
}

// NewEstimator creates an estimator. A nil logger falls back to the default
// slog logger.
func NewEstimator(logger *slog.Logger, opts ...EstimatorOption) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Estimator{
		logger:  logger.With("component", "em"),
		workers: utils.DefaultConcurrency(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// accumulator collects one shard's expectation-step sums. Merging is
// addition, so shard order is immaterial.
type accumulator struct {
	sumW          float64
	n             int
	logLikelihood float64

	// mSums[i][j] is the posterior-weighted count of comparison i at
	// level j over non-null observations; uSums is the complement
	// weight. counts tracks raw non-null observation counts.
	mSums  [][]float64
	uSums  [][]float64
	counts [][]int
}

func newAccumulator(p *Parameters) *accumulator {
	a := &accumulator{
		mSums:  make([][]float64, len(p.Comparisons)),
		uSums:  make([][]float64, len(p.Comparisons)),
		counts: make([][]int, len(p.Comparisons)),
	}
	for i := range p.Comparisons {
		k := len(p.Comparisons[i].Levels)
		a.mSums[i] = make([]float64, k)
		a.uSums[i] = make([]float64, k)
		a.counts[i] = make([]int, k)
	}
	return a
}

func (a *accumulator) merge(b *accumulator) {
	a.sumW += b.sumW
	a.n += b.n
	a.logLikelihood += b.logLikelihood
	for i := range a.mSums {
		floats.Add(a.mSums[i], b.mSums[i])
		floats.Add(a.uSums[i], b.uSums[i])
		for j := range a.counts[i] {
			a.counts[i][j] += b.counts[i][j]
		}
	}
}

// posterior computes P(match | observation) under the current parameters.
// Null comparisons contribute no evidence on either hypothesis.
func posterior(p *Parameters, obs *types.PairObservation) (w, likelihood float64) {
	pm := p.Prior
	pu := 1 - p.Prior
	for i := range p.Comparisons {
		if obs.Nulls[i] {
			continue
		}
		lvl := obs.Levels[i]
		pm *= p.Comparisons[i].Levels[lvl].M
		pu *= p.Comparisons[i].Levels[lvl].U
	}
	total := pm + pu
	if total <= 0 {
		// Both hypotheses underflowed; treat the pair as uninformative.
		return p.Prior, math.Log(probFloor)
	}
	return pm / total, math.Log(total)
}

// Fit runs one EM session over an already-materialised observation set and
// updates params in place. Sessions are sequential; only the expectation
// step fans out over the worker pool. Cancellation is honoured at iteration
// boundaries.
func (e *Estimator) Fit(ctx context.Context, params *Parameters, s *settings.Settings, obs []types.PairObservation, opts FitOptions) (*FitResult, error) {
	if len(obs) == 0 {
		return nil, &types.DataError{Op: "em fit", Err: errors.New("training blocking rule produced no candidate pairs")}
	}
	for i, o := range obs {
		if len(o.Levels) != len(params.Comparisons) {
			return nil, &types.DataError{Op: "em fit", Err: fmt.Errorf("observation %d has %d levels, model has %d comparisons", i, len(o.Levels), len(params.Comparisons))}
		}
	}

	sessionFixed := make(map[string]bool, len(opts.FixedComparisons))
	for _, name := range opts.FixedComparisons {
		sessionFixed[name] = true
	}

	result := &FitResult{StoppingReason: StopMaxIterations}
	shards := utils.Shard(obs, e.workers)

	var lastDelta float64
	var lastCounts [][]int
	for iter := 1; iter <= s.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Iterations = iter

		agg, err := e.expectation(ctx, params, shards)
		if err != nil {
			return nil, err
		}

		delta := e.maximisation(params, agg, sessionFixed, opts.FixPrior)
		lastDelta = delta
		lastCounts = agg.counts
		result.LogLikelihood = append(result.LogLikelihood, agg.logLikelihood)

		e.logger.Debug("em iteration",
			"iteration", iter,
			"log_likelihood", agg.logLikelihood,
			"max_delta", delta,
			"prior", params.Prior)

		if delta < s.EMConvergence {
			result.Converged = true
			result.StoppingReason = StopConverged
			break
		}
	}

	result.UntrainedLevels = markTrained(params, sessionFixed, lastCounts)
	if !result.Converged {
		result.Warning = &types.ConvergenceWarning{
			Iterations: result.Iterations,
			Tolerance:  s.EMConvergence,
			LastDelta:  lastDelta,
		}
		e.logger.Warn("em session stopped without converging",
			"iterations", result.Iterations,
			"last_delta", lastDelta,
			"tolerance", s.EMConvergence)
	} else {
		e.logger.Info("em session converged",
			"iterations", result.Iterations,
			"prior", params.Prior)
	}
	return result, nil
}

// expectation runs one sharded E-step pass.
func (e *Estimator) expectation(ctx context.Context, params *Parameters, shards [][]types.PairObservation) (*accumulator, error) {
	pool := utils.NewWorkerPool(e.workers, func(ctx context.Context, shard []types.PairObservation) (*accumulator, error) {
		acc := newAccumulator(params)
		for i := range shard {
			w, ll := posterior(params, &shard[i])
			acc.sumW += w
			acc.n++
			acc.logLikelihood += ll
			for c := range params.Comparisons {
				if shard[i].Nulls[c] {
					continue
				}
				lvl := shard[i].Levels[c]
				acc.mSums[c][lvl] += w
				acc.uSums[c][lvl] += 1 - w
				acc.counts[c][lvl]++
			}
		}
		return acc, nil
	})

	results, errs := pool.ProcessItems(ctx, shards)
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	agg := newAccumulator(params)
	for _, acc := range results {
		agg.merge(acc)
	}
	return agg, nil
}

// maximisation replaces parameters from the aggregated expectation sums and
// returns the largest absolute parameter change. Levels with zero non-null
// observations keep their current value; fixed levels, session-fixed
// comparisons, and the null level are never touched.
func (e *Estimator) maximisation(params *Parameters, agg *accumulator, sessionFixed map[string]bool, fixPrior bool) float64 {
	var maxDelta float64
	track := func(old, new float64) float64 {
		if d := math.Abs(new - old); d > maxDelta {
			maxDelta = d
		}
		return new
	}

	for i := range params.Comparisons {
		cp := &params.Comparisons[i]
		if sessionFixed[cp.Name] {
			continue
		}
		mTotal := floats.Sum(agg.mSums[i])
		uTotal := floats.Sum(agg.uSums[i])
		for j := range cp.Levels {
			if j == cp.NullIndex || agg.counts[i][j] == 0 {
				continue
			}
			lp := &cp.Levels[j]
			if !lp.FixedM && mTotal > 0 {
				lp.M = track(lp.M, clampProb(agg.mSums[i][j]/mTotal))
			}
			if !lp.FixedU && uTotal > 0 {
				lp.U = track(lp.U, clampProb(agg.uSums[i][j]/uTotal))
			}
		}
	}

	if !fixPrior && !params.FixedPrior && agg.n > 0 {
		params.Prior = track(params.Prior, clampProb(agg.sumW/float64(agg.n)))
	}
	return maxDelta
}

// markTrained flags levels the session estimated and collects the ones it
// could not. counts are the non-null observation counts from the final
// expectation pass.
func markTrained(params *Parameters, sessionFixed map[string]bool, counts [][]int) []string {
	var untrained []string
	for i := range params.Comparisons {
		cp := &params.Comparisons[i]
		if sessionFixed[cp.Name] {
			continue
		}
		for j := range cp.Levels {
			if j == cp.NullIndex {
				continue
			}
			lp := &cp.Levels[j]
			if lp.FixedM && lp.FixedU {
				continue
			}
			if counts != nil && counts[i][j] > 0 {
				lp.TrainedM = true
				lp.TrainedU = true
			} else if !lp.TrainedM || !lp.TrainedU {
				untrained = append(untrained, fmt.Sprintf("%s.level_%d", cp.Name, j))
			}
		}
	}
	return untrained
}
