// Package em estimates the match model's m/u probabilities with
// expectation-maximisation, plus a direct u estimator from random sampling.
// Parameters are owned by the caller and shared with the scorer; training
// sessions replace them wholesale per iteration and freeze on completion.
package em

import (
	"math"

	"github.com/wilko77/splink/pkg/settings"
)

// probFloor keeps estimated probabilities away from exact zero so the
// scorer's log-odds stay finite.
const probFloor = 1e-6

// LevelParams holds the estimated probabilities of one comparison level.
// M is P(level | match), U is P(level | non-match). Trained flags record
// whether any estimation session has updated the value; Fixed flags hold a
// value constant through subsequent sessions.
type LevelParams struct {
	M float64
	U float64

	TrainedM bool
	TrainedU bool
	FixedM   bool
	FixedU   bool
}

// ComparisonParams groups the level parameters of one comparison, aligned
// by ordinal level index with the settings' comparison.
type ComparisonParams struct {
	Name      string
	Levels    []LevelParams
	NullIndex int
}

// Parameters is the complete trainable state of a linkage model: the prior
// match probability plus per-level m/u for every comparison, in settings
// order.
type Parameters struct {
	// Prior is the probability two random records match.
	Prior      float64
	FixedPrior bool

	Comparisons []ComparisonParams
}

// NewParameters initialises parameters from settings. User-supplied level
// priors take precedence; otherwise m mass is concentrated on early
// (stronger-agreement) levels and u mass on late levels, geometrically.
// The null level carries no probability mass on either side.
func NewParameters(s *settings.Settings) *Parameters {
	p := &Parameters{
		Prior:       s.PriorMatchProbability,
		Comparisons: make([]ComparisonParams, len(s.Comparisons)),
	}
	for i, cc := range s.Comparisons {
		cp := ComparisonParams{
			Name:      cc.OutputName,
			Levels:    make([]LevelParams, len(cc.Levels)),
			NullIndex: cc.NullLevelIndex(),
		}

		var dataLevels []int
		for j := range cc.Levels {
			if j != cp.NullIndex {
				dataLevels = append(dataLevels, j)
			}
		}
		k := len(dataLevels)
		var mTotal, uTotal float64
		for pos := range dataLevels {
			mTotal += math.Pow(2, float64(k-1-pos))
			uTotal += math.Pow(2, float64(pos))
		}
		for pos, j := range dataLevels {
			cp.Levels[j] = LevelParams{
				M: math.Pow(2, float64(k-1-pos)) / mTotal,
				U: math.Pow(2, float64(pos)) / uTotal,
			}
		}

		if i < len(s.Priors) {
			for j, prior := range s.Priors[i] {
				if prior == nil || j >= len(cp.Levels) || j == cp.NullIndex {
					continue
				}
				cp.Levels[j].M = clampProb(prior.M)
				cp.Levels[j].U = clampProb(prior.U)
			}
		}
		p.Comparisons[i] = cp
	}
	return p
}

// Fix marks every level of the named comparison as fixed, holding its
// current values through later sessions. Reports whether the comparison
// exists.
func (p *Parameters) Fix(comparisonName string) bool {
	for i := range p.Comparisons {
		if p.Comparisons[i].Name != comparisonName {
			continue
		}
		for j := range p.Comparisons[i].Levels {
			p.Comparisons[i].Levels[j].FixedM = true
			p.Comparisons[i].Levels[j].FixedU = true
		}
		return true
	}
	return false
}

// Unfix clears the fixed flags of the named comparison.
func (p *Parameters) Unfix(comparisonName string) bool {
	for i := range p.Comparisons {
		if p.Comparisons[i].Name != comparisonName {
			continue
		}
		for j := range p.Comparisons[i].Levels {
			p.Comparisons[i].Levels[j].FixedM = false
			p.Comparisons[i].Levels[j].FixedU = false
		}
		return true
	}
	return false
}

// FullyTrained reports whether every non-null level of every comparison has
// trained m and u values.
func (p *Parameters) FullyTrained() bool {
	for i := range p.Comparisons {
		cp := &p.Comparisons[i]
		for j := range cp.Levels {
			if j == cp.NullIndex {
				continue
			}
			if !cp.Levels[j].TrainedM || !cp.Levels[j].TrainedU {
				return false
			}
		}
	}
	return true
}

// Clone deep-copies the parameters.
func (p *Parameters) Clone() *Parameters {
	out := &Parameters{
		Prior:       p.Prior,
		FixedPrior:  p.FixedPrior,
		Comparisons: make([]ComparisonParams, len(p.Comparisons)),
	}
	for i, cp := range p.Comparisons {
		levels := make([]LevelParams, len(cp.Levels))
		copy(levels, cp.Levels)
		out.Comparisons[i] = ComparisonParams{Name: cp.Name, Levels: levels, NullIndex: cp.NullIndex}
	}
	return out
}

func clampProb(v float64) float64 {
	if v < probFloor {
		return probFloor
	}
	if v > 1-probFloor {
		return 1 - probFloor
	}
	return v
}
