// Package settings holds the top-level immutable configuration of a linkage
// model: link type, comparisons, blocking rules and model-level scalars.
// The settings document (JSON or YAML nested mapping) is the serialization
// contract shared with external tools; it is parsed once into typed structs
// and never re-validated at evaluation time.
package settings

import (
	"github.com/wilko77/splink/pkg/blocking"
	"github.com/wilko77/splink/pkg/comparison"
	"github.com/wilko77/splink/pkg/types"
)

// Defaults for model-level scalars when the document omits them.
const (
	DefaultUniqueIDColumn      = "unique_id"
	DefaultSourceDatasetColumn = "source_dataset"
	DefaultPriorMatchProb      = 0.0001
	DefaultEMConvergence       = 0.0001
	DefaultMaxIterations       = 25
)

// LevelPrior carries user-supplied initial m/u probabilities for one level,
// aligned by ordinal position with the comparison's levels. Nil entries fall
// back to estimator defaults.
type LevelPrior struct {
	M float64
	U float64
}

// Settings is the immutable model configuration.
type Settings struct {
	LinkType            blocking.LinkType
	UniqueIDColumn      string
	SourceDatasetColumn string

	Comparisons []*comparison.Comparison

	// BlockingRules generate candidate pairs for prediction.
	BlockingRules []blocking.Rule

	// TrainingBlockingRules, when set, restrict EM training to a distinct
	// candidate set; empty means train on the prediction candidates.
	TrainingBlockingRules []blocking.Rule

	// PriorMatchProbability is the probability two random records match.
	PriorMatchProbability float64

	// EMConvergence is the tolerance on the largest m/u change per
	// iteration; MaxIterations bounds the EM loop.
	EMConvergence float64
	MaxIterations int

	// Priors holds optional user-supplied initial m/u values, outer slice
	// aligned with Comparisons, inner with each comparison's levels.
	Priors [][]*LevelPrior
}

// Option mutates settings during construction.
type Option func(*Settings)

// WithTrainingBlockingRules sets a distinct candidate set for training.
func WithTrainingBlockingRules(rules ...blocking.Rule) Option {
	return func(s *Settings) { s.TrainingBlockingRules = rules }
}

// WithPriorMatchProbability overrides the prior.
func WithPriorMatchProbability(p float64) Option {
	return func(s *Settings) { s.PriorMatchProbability = p }
}

// WithConvergence overrides the EM stopping parameters.
func WithConvergence(tolerance float64, maxIterations int) Option {
	return func(s *Settings) {
		s.EMConvergence = tolerance
		s.MaxIterations = maxIterations
	}
}

// WithUniqueIDColumn overrides the unique id column name.
func WithUniqueIDColumn(name string) Option {
	return func(s *Settings) { s.UniqueIDColumn = name }
}

// New validates and builds settings from typed parts. Comparisons must
// already have passed their own construction-time validation.
func New(linkType blocking.LinkType, comparisons []*comparison.Comparison, rules []blocking.Rule, opts ...Option) (*Settings, error) {
	if !linkType.Valid() {
		return nil, types.NewSpecificationError("settings", "unknown link_type %q", string(linkType))
	}
	if len(comparisons) == 0 {
		return nil, types.NewSpecificationError("settings", "at least one comparison is required")
	}
	if len(rules) == 0 {
		return nil, types.NewSpecificationError("settings", "at least one blocking rule is required")
	}
	seen := make(map[string]struct{}, len(comparisons))
	for _, cc := range comparisons {
		if _, dup := seen[cc.OutputName]; dup {
			return nil, types.NewSpecificationError(cc.OutputName, "duplicate comparison output name")
		}
		seen[cc.OutputName] = struct{}{}
	}

	s := &Settings{
		LinkType:              linkType,
		UniqueIDColumn:        DefaultUniqueIDColumn,
		SourceDatasetColumn:   DefaultSourceDatasetColumn,
		Comparisons:           comparisons,
		BlockingRules:         rules,
		PriorMatchProbability: DefaultPriorMatchProb,
		EMConvergence:         DefaultEMConvergence,
		MaxIterations:         DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.PriorMatchProbability <= 0 || s.PriorMatchProbability >= 1 {
		return nil, types.NewSpecificationError("settings", "prior match probability must be in (0, 1), got %g", s.PriorMatchProbability)
	}
	if s.EMConvergence <= 0 {
		return nil, types.NewSpecificationError("settings", "em convergence tolerance must be positive")
	}
	if s.MaxIterations <= 0 {
		return nil, types.NewSpecificationError("settings", "max iterations must be positive")
	}
	return s, nil
}

// ComparisonByName returns the comparison with the given output name.
func (s *Settings) ComparisonByName(name string) (*comparison.Comparison, bool) {
	for _, cc := range s.Comparisons {
		if cc.OutputName == name {
			return cc, true
		}
	}
	return nil, false
}

// TFColumns returns the distinct term-frequency adjustment columns used by
// any comparison, in comparison order.
func (s *Settings) TFColumns() []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, cc := range s.Comparisons {
		for _, col := range cc.TFColumns() {
			if _, ok := seen[col]; !ok {
				seen[col] = struct{}{}
				cols = append(cols, col)
			}
		}
	}
	return cols
}

// TrainingRules returns the blocking rules to use for EM training,
// falling back to the prediction rules.
func (s *Settings) TrainingRules() []blocking.Rule {
	if len(s.TrainingBlockingRules) > 0 {
		return s.TrainingBlockingRules
	}
	return s.BlockingRules
}
