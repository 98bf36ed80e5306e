// Package splink links and deduplicates records with the Fellegi-Sunter
// probabilistic model. Comparisons grade pairwise agreement into ordinal
// levels, EM estimates the model's m/u probabilities, blocking rules keep
// the candidate set tractable, and union-find resolves scored links into
// entity clusters. Execution is delegated to a pluggable backend; plans
// compile per SQL dialect for engines that want them.
package splink

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/wilko77/splink/pkg/backend"
	"github.com/wilko77/splink/pkg/blocking"
	"github.com/wilko77/splink/pkg/cluster"
	"github.com/wilko77/splink/pkg/compiler"
	"github.com/wilko77/splink/pkg/dialect"
	"github.com/wilko77/splink/pkg/em"
	"github.com/wilko77/splink/pkg/score"
	"github.com/wilko77/splink/pkg/settings"
	"github.com/wilko77/splink/pkg/types"
)

// Linker is the main entry point: one settings document bound to one
// execution backend, carrying the trainable parameters between estimation
// and prediction.
type Linker struct {
	settings  *settings.Settings
	backend   backend.Backend
	dialect   dialect.Dialect
	params    *em.Parameters
	tf        *score.TermFrequencyTable
	estimator *em.Estimator
	logger    *slog.Logger

	// lastRecordIDs holds the id universe of the most recent pairwise
	// job, so clustering can emit singletons.
	lastRecordIDs []string
}

// Option configures a Linker.
type Option func(*Linker)

// WithLogger sets the logger; default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Linker) { l.logger = logger }
}

// WithDialect sets the SQL dialect plans compile for; default is DuckDB.
func WithDialect(d dialect.Dialect) Option {
	return func(l *Linker) { l.dialect = d }
}

// WithTermFrequencyTable supplies precomputed term frequencies. Required
// when any comparison level carries a term-frequency adjustment.
func WithTermFrequencyTable(tf *score.TermFrequencyTable) Option {
	return func(l *Linker) { l.tf = tf }
}

// WithParameters starts from previously trained parameters instead of
// settings-derived initial values.
func WithParameters(p *em.Parameters) Option {
	return func(l *Linker) { l.params = p }
}

// New creates a linker from validated settings and a backend.
func New(s *settings.Settings, be backend.Backend, opts ...Option) (*Linker, error) {
	if s == nil {
		return nil, types.NewSpecificationError("linker", "settings are required")
	}
	if be == nil {
		return nil, types.NewSpecificationError("linker", "a backend is required")
	}
	l := &Linker{
		settings: s,
		backend:  be,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.dialect == nil {
		d, err := dialect.DefaultRegistry().Lookup("duckdb")
		if err != nil {
			return nil, err
		}
		l.dialect = d
	}
	if l.params == nil {
		l.params = em.NewParameters(s)
	}
	if len(l.params.Comparisons) != len(s.Comparisons) {
		return nil, types.NewSpecificationError("linker",
			"supplied parameters cover %d comparisons, settings define %d", len(l.params.Comparisons), len(s.Comparisons))
	}
	l.estimator = em.NewEstimator(l.logger)
	l.logger = l.logger.With("component", "linker")
	return l, nil
}

// Parameters returns the linker's trainable state.
func (l *Linker) Parameters() *em.Parameters { return l.params }

// Backend returns the execution engine the linker runs jobs against.
func (l *Linker) Backend() backend.Backend { return l.backend }

// SettingsDocument exports the model as a wire-form settings document with
// the current m/u parameters folded into each comparison level, so a
// trained model round-trips through the document rather than only the
// initial priors. Null levels carry no probabilities.
func (l *Linker) SettingsDocument() *settings.Document {
	doc := l.settings.AsDocument()
	doc.ProbabilityTwoMatch = l.params.Prior
	for i, cp := range l.params.Comparisons {
		if i >= len(doc.Comparisons) {
			break
		}
		levels := doc.Comparisons[i].ComparisonLevels
		for j := range cp.Levels {
			if j >= len(levels) || j == cp.NullIndex {
				continue
			}
			m, u := cp.Levels[j].M, cp.Levels[j].U
			levels[j].MProbability = &m
			levels[j].UProbability = &u
		}
	}
	return doc
}

// Settings returns the immutable model configuration.
func (l *Linker) Settings() *settings.Settings { return l.settings }

// RegisterTable registers an input table with the backend. For link jobs
// the table name is the source dataset label.
func (l *Linker) RegisterTable(ctx context.Context, name string, records []types.Record) error {
	return l.backend.RegisterTable(ctx, &types.Table{Name: name, Records: records})
}

// CompilePlan lowers the prediction job for the linker's dialect.
func (l *Linker) CompilePlan() (*compiler.Plan, error) {
	return compiler.Compile(l.settings, l.dialect)
}

// Predict generates candidate pairs via the blocking rules, scores every
// pair, and returns pairs whose match probability reaches threshold. A
// threshold of zero returns every candidate, sorted by descending weight.
func (l *Linker) Predict(ctx context.Context, threshold float64) ([]types.ScoredPair, error) {
	if threshold < 0 || threshold > 1 {
		return nil, types.NewSpecificationError("predict", "threshold must be in [0, 1], got %g", threshold)
	}

	plan, err := l.CompilePlan()
	if err != nil {
		return nil, fmt.Errorf("compiling prediction plan: %w", err)
	}
	table, err := l.backend.Pairs(ctx, &backend.Job{
		Settings: l.settings,
		Rules:    l.settings.BlockingRules,
		Plan:     plan,
	})
	if err != nil {
		return nil, fmt.Errorf("generating candidate pairs: %w", err)
	}
	l.lastRecordIDs = table.RecordIDs
	l.logger.Info("candidate pairs generated",
		"pairs", len(table.Pairs),
		"records", len(table.RecordIDs),
		"rule_counts", table.RuleCounts)

	scorer, err := score.NewScorer(l.settings, l.params, l.tf, l.logger)
	if err != nil {
		return nil, err
	}
	scored, err := scorer.ScoreAll(ctx, table.Pairs)
	if err != nil {
		return nil, err
	}

	out := scored[:0]
	for _, sp := range scored {
		if sp.MatchProbability >= threshold {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MatchWeight != out[j].MatchWeight {
			return out[i].MatchWeight > out[j].MatchWeight
		}
		if out[i].LeftID != out[j].LeftID {
			return out[i].LeftID < out[j].LeftID
		}
		return out[i].RightID < out[j].RightID
	})
	l.logger.Info("prediction complete", "retained", len(out), "threshold", threshold)
	return out, nil
}

// TrainingSession describes one EM estimation run.
type TrainingSession struct {
	// Rule restricts the training observations to pairs it matches.
	// Comparisons over the rule's own blocking columns cannot be
	// identified from that subset and are held fixed for the session.
	Rule blocking.Rule

	// FixPrior holds the prior match probability constant.
	FixPrior bool

	// FixAfter freezes the comparisons this session trained, so later
	// sessions for other comparisons hold them constant.
	FixAfter bool
}

// EstimateParametersUsingEM runs one EM session over the pairs generated
// by the session's blocking rule and updates the linker's parameters in
// place.
func (l *Linker) EstimateParametersUsingEM(ctx context.Context, session TrainingSession) (*em.FitResult, error) {
	table, err := l.backend.Pairs(ctx, &backend.Job{
		Settings: l.settings,
		Rules:    []blocking.Rule{session.Rule},
	})
	if err != nil {
		return nil, fmt.Errorf("generating training pairs: %w", err)
	}

	fixed := l.blockedComparisons(session.Rule)
	if len(fixed) > 0 {
		l.logger.Info("comparisons held fixed for this session",
			"comparisons", fixed,
			"blocking_rule", session.Rule.Condition)
	}

	result, err := l.estimator.Fit(ctx, l.params, l.settings, table.Pairs, em.FitOptions{
		FixedComparisons: fixed,
		FixPrior:         session.FixPrior,
	})
	if err != nil {
		return nil, err
	}

	if session.FixAfter {
		blocked := make(map[string]bool, len(fixed))
		for _, name := range fixed {
			blocked[name] = true
		}
		for _, cc := range l.settings.Comparisons {
			if !blocked[cc.OutputName] {
				l.params.Fix(cc.OutputName)
			}
		}
	}
	return result, nil
}

// EstimateUUsingRandomSampling estimates every comparison's u
// probabilities from a random pair sample, without running EM. Returns the
// level labels the sample failed to cover.
func (l *Linker) EstimateUUsingRandomSampling(ctx context.Context, maxPairs int, seed int64) ([]string, error) {
	return em.EstimateU(ctx, l.backend, l.params, l.settings, maxPairs, seed, l.logger)
}

// ClusterPairwisePredictions resolves scored pairs into entity clusters at
// the given probability threshold. Records from the last prediction run
// that kept no edge become singleton clusters.
func (l *Linker) ClusterPairwisePredictions(ctx context.Context, pairs []types.ScoredPair, threshold float64) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	assignments, err := cluster.Cluster(pairs, threshold, l.lastRecordIDs)
	if err != nil {
		return nil, err
	}
	l.logger.Info("clustering complete",
		"records", len(assignments),
		"threshold", threshold)
	return assignments, nil
}

// Close releases the backend.
func (l *Linker) Close() error {
	return l.backend.Close()
}

// blockedComparisons lists comparisons that only inspect columns the rule
// blocks on exactly. Within the rule's candidate set those columns always
// agree, so their parameters cannot be estimated there.
func (l *Linker) blockedComparisons(rule blocking.Rule) []string {
	if !rule.IsExactMatch() {
		return nil
	}
	blocked := make(map[string]bool, len(rule.ExactMatchColumns))
	for _, col := range rule.ExactMatchColumns {
		blocked[col] = true
	}

	var fixed []string
	for _, cc := range l.settings.Comparisons {
		all := true
		for i := range cc.Levels {
			col := cc.Levels[i].Column
			if col != "" && !blocked[col] {
				all = false
				break
			}
		}
		if all {
			fixed = append(fixed, cc.OutputName)
		}
	}
	return fixed
}
