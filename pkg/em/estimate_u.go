package em

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wilko77/splink/pkg/backend"
	"github.com/wilko77/splink/pkg/settings"
	"github.com/wilko77/splink/pkg/types"
)

// EstimateU estimates every comparison's u probabilities directly from a
// random sample of record pairs. At realistic priors, almost all randomly
// drawn pairs are non-matches, so the observed level proportions estimate
// P(level | non-match) without running EM. maxPairs trades accuracy for
// runtime; seed makes the sample reproducible. Fixed levels are left
// untouched. Returns the labels of levels the sample never observed.
func EstimateU(ctx context.Context, be backend.Backend, params *Parameters, s *settings.Settings, maxPairs int, seed int64, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPairs <= 0 {
		return nil, types.NewSpecificationError("estimate u", "max pairs must be positive, got %d", maxPairs)
	}

	table, err := be.SamplePairs(ctx, &backend.Job{Settings: s}, maxPairs, seed)
	if err != nil {
		return nil, err
	}
	if len(table.Pairs) == 0 {
		return nil, &types.DataError{Op: "estimate u", Err: errors.New("random sample produced no pairs")}
	}

	counts := make([][]int, len(params.Comparisons))
	totals := make([]int, len(params.Comparisons))
	for i := range params.Comparisons {
		counts[i] = make([]int, len(params.Comparisons[i].Levels))
	}
	for _, obs := range table.Pairs {
		if len(obs.Levels) != len(params.Comparisons) {
			return nil, &types.DataError{Op: "estimate u", Err: fmt.Errorf("observation has %d levels, model has %d comparisons", len(obs.Levels), len(params.Comparisons))}
		}
		for c := range params.Comparisons {
			if obs.Nulls[c] {
				continue
			}
			counts[c][obs.Levels[c]]++
			totals[c]++
		}
	}

	var untrained []string
	for i := range params.Comparisons {
		cp := &params.Comparisons[i]
		for j := range cp.Levels {
			if j == cp.NullIndex {
				continue
			}
			lp := &cp.Levels[j]
			if counts[i][j] == 0 {
				if !lp.TrainedU {
					untrained = append(untrained, fmt.Sprintf("%s.level_%d", cp.Name, j))
				}
				continue
			}
			if lp.FixedU {
				continue
			}
			lp.U = clampProb(float64(counts[i][j]) / float64(totals[i]))
			lp.TrainedU = true
		}
	}

	logger.Info("estimated u probabilities from random sample",
		"pairs", len(table.Pairs),
		"max_pairs", maxPairs,
		"seed", seed,
		"untrained_levels", len(untrained))
	return untrained, nil
}
