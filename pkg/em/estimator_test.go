package em

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilko77/splink/pkg/backend"
	"github.com/wilko77/splink/pkg/blocking"
	"github.com/wilko77/splink/pkg/comparison"
	"github.com/wilko77/splink/pkg/settings"
	"github.com/wilko77/splink/pkg/types"
)

// binaryComparison builds a two-level comparison: agree (exact) or not.
func binaryComparison(t *testing.T, name, column string) *comparison.Comparison {
	t.Helper()
	cc, err := comparison.NewComparison(name, "", []comparison.Level{
		{Kind: comparison.KindExact, Label: "exact", Column: column},
		{Kind: comparison.KindElse, Label: "else"},
	})
	require.NoError(t, err)
	return cc
}

func binarySettings(t *testing.T, opts ...settings.Option) *settings.Settings {
	t.Helper()
	comps := []*comparison.Comparison{
		binaryComparison(t, "c1", "a"),
		binaryComparison(t, "c2", "b"),
		binaryComparison(t, "c3", "c"),
	}
	s, err := settings.New(blocking.DedupeOnly, comps,
		[]blocking.Rule{blocking.ParseRule("l.a = r.a")}, opts...)
	require.NoError(t, err)
	return s
}

// syntheticObservations draws pairs from a known three-feature mixture so
// the estimator has ground truth to recover.
func syntheticObservations(n int, prior, mAgree, uAgree float64, seed int64) []types.PairObservation {
	rng := rand.New(rand.NewSource(seed))
	obs := make([]types.PairObservation, n)
	for i := range obs {
		isMatch := rng.Float64() < prior
		levels := make([]int, 3)
		for c := range levels {
			pAgree := uAgree
			if isMatch {
				pAgree = mAgree
			}
			if rng.Float64() < pAgree {
				levels[c] = 0
			} else {
				levels[c] = 1
			}
		}
		obs[i] = types.PairObservation{
			LeftID:  fmt.Sprintf("l%d", i),
			RightID: fmt.Sprintf("r%d", i),
			Levels:  levels,
			Nulls:   make([]bool, 3),
		}
	}
	return obs
}

func TestFitEmptyObservations(t *testing.T) {
	s := binarySettings(t)
	params := NewParameters(s)
	e := NewEstimator(nil)

	_, err := e.Fit(context.Background(), params, s, nil, FitOptions{})
	var dataErr *types.DataError
	require.ErrorAs(t, err, &dataErr)
}

func TestFitLevelCountMismatch(t *testing.T) {
	s := binarySettings(t)
	params := NewParameters(s)
	e := NewEstimator(nil)

	obs := []types.PairObservation{{Levels: []int{0}, Nulls: []bool{false}}}
	_, err := e.Fit(context.Background(), params, s, obs, FitOptions{})
	var dataErr *types.DataError
	require.ErrorAs(t, err, &dataErr)
}

func TestFitRecoversParameters(t *testing.T) {
	const (
		n      = 5000
		prior  = 0.3
		mAgree = 0.9
		uAgree = 0.2
	)
	s := binarySettings(t,
		settings.WithPriorMatchProbability(0.2),
		settings.WithConvergence(1e-6, 200),
	)
	// Initial guesses on the right side of the symmetry so EM descends
	// into the intended basin.
	s.Priors = [][]*settings.LevelPrior{
		{{M: 0.7, U: 0.3}, {M: 0.3, U: 0.7}},
		{{M: 0.7, U: 0.3}, {M: 0.3, U: 0.7}},
		{{M: 0.7, U: 0.3}, {M: 0.3, U: 0.7}},
	}
	params := NewParameters(s)
	obs := syntheticObservations(n, prior, mAgree, uAgree, 1)

	e := NewEstimator(nil, WithWorkers(4))
	result, err := e.Fit(context.Background(), params, s, obs, FitOptions{})
	require.NoError(t, err)

	assert.True(t, result.Converged)
	assert.Equal(t, StopConverged, result.StoppingReason)
	assert.Nil(t, result.Warning)
	assert.Empty(t, result.UntrainedLevels)
	assert.True(t, params.FullyTrained())

	assert.InDelta(t, prior, params.Prior, 0.03)
	for _, cp := range params.Comparisons {
		assert.InDelta(t, mAgree, cp.Levels[0].M, 0.03, "%s m agree", cp.Name)
		assert.InDelta(t, 1-mAgree, cp.Levels[1].M, 0.03, "%s m disagree", cp.Name)
		assert.InDelta(t, uAgree, cp.Levels[0].U, 0.03, "%s u agree", cp.Name)
		assert.InDelta(t, 1-uAgree, cp.Levels[1].U, 0.03, "%s u disagree", cp.Name)
	}

	// The observed-data log likelihood never decreases across iterations.
	ll := result.LogLikelihood
	require.NotEmpty(t, ll)
	for i := 1; i < len(ll); i++ {
		assert.GreaterOrEqual(t, ll[i], ll[i-1]-1e-9, "iteration %d", i)
	}
}

func TestFitStopsAtIterationCap(t *testing.T) {
	s := binarySettings(t, settings.WithConvergence(1e-12, 2))
	params := NewParameters(s)
	obs := syntheticObservations(500, 0.3, 0.9, 0.2, 7)

	e := NewEstimator(nil)
	result, err := e.Fit(context.Background(), params, s, obs, FitOptions{})
	require.NoError(t, err)

	assert.False(t, result.Converged)
	assert.Equal(t, StopMaxIterations, result.StoppingReason)
	assert.Equal(t, 2, result.Iterations)
	require.NotNil(t, result.Warning)
	assert.Equal(t, 2, result.Warning.Iterations)
	assert.Positive(t, result.Warning.LastDelta)
}

func TestFitHoldsFixedComparisons(t *testing.T) {
	s := binarySettings(t)
	params := NewParameters(s)
	before := params.Clone()
	obs := syntheticObservations(500, 0.3, 0.9, 0.2, 3)

	e := NewEstimator(nil)
	_, err := e.Fit(context.Background(), params, s, obs, FitOptions{
		FixedComparisons: []string{"c2"},
		FixPrior:         true,
	})
	require.NoError(t, err)

	// The session-fixed comparison and the prior keep their values; the
	// free comparisons move.
	assert.Equal(t, before.Comparisons[1].Levels, params.Comparisons[1].Levels)
	assert.Equal(t, before.Prior, params.Prior)
	assert.NotEqual(t, before.Comparisons[0].Levels[0].M, params.Comparisons[0].Levels[0].M)
}

func TestFitHoldsFixedLevels(t *testing.T) {
	s := binarySettings(t)
	params := NewParameters(s)
	require.True(t, params.Fix("c3"))
	frozen := params.Comparisons[2].Levels[0]
	obs := syntheticObservations(500, 0.3, 0.9, 0.2, 5)

	e := NewEstimator(nil)
	_, err := e.Fit(context.Background(), params, s, obs, FitOptions{})
	require.NoError(t, err)
	assert.Equal(t, frozen.M, params.Comparisons[2].Levels[0].M)
	assert.Equal(t, frozen.U, params.Comparisons[2].Levels[0].U)
}

func TestFitFlagsUntrainedLevels(t *testing.T) {
	nullable, err := comparison.NewComparison("c2", "", []comparison.Level{
		{Kind: comparison.KindNull, Label: "null", Column: "b"},
		{Kind: comparison.KindExact, Label: "exact", Column: "b"},
		{Kind: comparison.KindElse, Label: "else"},
	})
	require.NoError(t, err)
	comps := []*comparison.Comparison{binaryComparison(t, "c1", "a"), nullable}
	s, err := settings.New(blocking.DedupeOnly, comps,
		[]blocking.Rule{blocking.ParseRule("l.a = r.a")})
	require.NoError(t, err)
	params := NewParameters(s)

	// Every observation is null on c2, so its data levels see no data.
	rng := rand.New(rand.NewSource(11))
	obs := make([]types.PairObservation, 200)
	for i := range obs {
		obs[i] = types.PairObservation{
			Levels: []int{rng.Intn(2), 0},
			Nulls:  []bool{false, true},
		}
	}

	e := NewEstimator(nil)
	result, err := e.Fit(context.Background(), params, s, obs, FitOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c2.level_1", "c2.level_2"}, result.UntrainedLevels)
	assert.False(t, params.FullyTrained())
	assert.True(t, params.Comparisons[0].Levels[0].TrainedM)
	assert.False(t, params.Comparisons[1].Levels[1].TrainedM)
}

func TestFitHonoursCancellation(t *testing.T) {
	s := binarySettings(t)
	params := NewParameters(s)
	obs := syntheticObservations(100, 0.3, 0.9, 0.2, 9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewEstimator(nil)
	_, err := e.Fit(ctx, params, s, obs, FitOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEstimateU(t *testing.T) {
	ctx := context.Background()
	m := backend.NewMemory(nil)

	// Five of ten records share a city, so a random pair agrees with
	// probability C(5,2)/C(10,2) = 10/45.
	records := make([]types.Record, 10)
	for i := range records {
		city := fmt.Sprintf("town%d", i)
		if i < 5 {
			city = "london"
		}
		records[i] = types.Record{"unique_id": fmt.Sprintf("%02d", i), "city": city}
	}
	require.NoError(t, m.RegisterTable(ctx, &types.Table{Name: "people", Records: records}))

	city := binaryComparison(t, "city", "city")
	s, err := settings.New(blocking.DedupeOnly, []*comparison.Comparison{city},
		[]blocking.Rule{blocking.ParseRule("l.city = r.city")})
	require.NoError(t, err)
	params := NewParameters(s)
	mBefore := params.Comparisons[0].Levels[0].M

	untrained, err := EstimateU(ctx, m, params, s, 45, 42, nil)
	require.NoError(t, err)
	assert.Empty(t, untrained)

	lp := params.Comparisons[0].Levels
	assert.InDelta(t, 10.0/45.0, lp[0].U, 1e-9)
	assert.InDelta(t, 35.0/45.0, lp[1].U, 1e-9)
	assert.True(t, lp[0].TrainedU)
	assert.True(t, lp[1].TrainedU)
	// Direct u estimation leaves m untouched.
	assert.Equal(t, mBefore, lp[0].M)
	assert.False(t, lp[0].TrainedM)

	_, err = EstimateU(ctx, m, params, s, 0, 42, nil)
	var specErr *types.SpecificationError
	require.ErrorAs(t, err, &specErr)
}
