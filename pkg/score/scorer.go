package score

import (
	"context"
	"log/slog"
	"math"

	"github.com/wilko77/splink/pkg/em"
	"github.com/wilko77/splink/pkg/settings"
	"github.com/wilko77/splink/pkg/types"
)

// epsilon bounds every probability entering a log so weights stay finite.
// Clamp events are numeric degeneracies: logged, never errors.
const epsilon = 1e-12

// Scorer computes Fellegi-Sunter match weights from trained parameters.
// Construction binds one settings/parameters pair; the scorer itself is
// immutable and safe for concurrent use.
type Scorer struct {
	settings *settings.Settings
	params   *em.Parameters
	tf       *TermFrequencyTable
	logger   *slog.Logger

	priorLogOdds float64
}

// NewScorer creates a scorer. tf may be nil when no comparison carries a
// term-frequency adjustment.
func NewScorer(s *settings.Settings, params *em.Parameters, tf *TermFrequencyTable, logger *slog.Logger) (*Scorer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(params.Comparisons) != len(s.Comparisons) {
		return nil, types.NewSpecificationError("scorer",
			"parameters cover %d comparisons, settings define %d", len(params.Comparisons), len(s.Comparisons))
	}
	if tf == nil && len(s.TFColumns()) > 0 {
		return nil, types.NewSpecificationError("scorer",
			"settings use term-frequency adjustments on %v but no frequency table was supplied", s.TFColumns())
	}

	sc := &Scorer{
		settings: s,
		params:   params,
		tf:       tf,
		logger:   logger.With("component", "scorer"),
	}
	prior := sc.clamp(params.Prior, "prior match probability")
	sc.priorLogOdds = math.Log2(prior / (1 - prior))
	return sc, nil
}

// PriorLogOdds returns the log2 odds contributed by the prior alone: the
// match weight of a pair with no usable evidence.
func (sc *Scorer) PriorLogOdds() float64 { return sc.priorLogOdds }

// Score computes the match weight and probability of one observation.
// Each non-null comparison contributes log2(m/u) of its assigned level;
// null comparisons contribute exactly zero, so an all-null observation
// scores the prior log odds.
func (sc *Scorer) Score(obs types.PairObservation) types.ScoredPair {
	weight := sc.priorLogOdds
	for i := range sc.params.Comparisons {
		if obs.Nulls[i] {
			continue
		}
		lvlIdx := obs.Levels[i]
		lp := sc.params.Comparisons[i].Levels[lvlIdx]

		m := sc.clamp(lp.M, sc.params.Comparisons[i].Name)
		u := sc.clamp(sc.adjustedU(i, lvlIdx, lp.U, obs.TFValues), sc.params.Comparisons[i].Name)
		weight += math.Log2(m / u)
	}

	levels := make([]int, len(obs.Levels))
	copy(levels, obs.Levels)
	return types.ScoredPair{
		LeftID:           obs.LeftID,
		RightID:          obs.RightID,
		Levels:           levels,
		MatchWeight:      weight,
		MatchProbability: 1 / (1 + math.Exp2(-weight)),
	}
}

// ScoreAll scores a slice of observations, honouring cancellation between
// pairs.
func (sc *Scorer) ScoreAll(ctx context.Context, obs []types.PairObservation) ([]types.ScoredPair, error) {
	out := make([]types.ScoredPair, 0, len(obs))
	for i := range obs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, sc.Score(obs[i]))
	}
	return out, nil
}

// adjustedU interpolates a level's u toward the observed value's empirical
// frequency. Common values agree by coincidence more often, so a match on
// one is weaker evidence; the correction only applies when the observed
// frequency exceeds the configured floor.
func (sc *Scorer) adjustedU(compIdx, lvlIdx int, u float64, tfValues map[string]string) float64 {
	spec := sc.settings.Comparisons[compIdx].Levels[lvlIdx].TF
	if spec == nil || sc.tf == nil {
		return u
	}
	value, ok := tfValues[spec.Column]
	if !ok {
		return u
	}
	freq, ok := sc.tf.Lookup(spec.Column, value)
	if !ok || freq <= spec.MinimumUValue {
		return u
	}
	w := spec.Weight
	return u*(1-w) + w*freq
}

// clamp bounds a probability to (epsilon, 1-epsilon), logging the
// degeneracy when it fires.
func (sc *Scorer) clamp(p float64, subject string) float64 {
	if p > epsilon && p < 1-epsilon {
		return p
	}
	clamped := math.Min(math.Max(p, epsilon), 1-epsilon)
	sc.logger.Warn("degenerate probability clamped",
		"subject", subject,
		"value", p,
		"clamped", clamped)
	return clamped
}
