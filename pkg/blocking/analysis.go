package blocking

import (
	"context"

	"github.com/wilko77/splink/pkg/types"
)

// InputRow couples one record with the identity fields pair eligibility
// needs. Source is the source dataset name, empty for dedupe-only inputs.
type InputRow struct {
	ID     string
	Source string
	Record types.Record
}

// RuleCount reports how many comparisons one blocking rule generates.
// PreDedupe counts every eligible pair the rule matches on its own;
// PostDedupe counts only the pairs first attributed to the rule, so the
// post-dedupe counts across all rules sum to the candidate set size.
type RuleCount struct {
	Rule       Rule
	PreDedupe  int
	PostDedupe int
}

// CountsPerRule sizes each blocking rule against the input rows without
// materializing the candidate pairs themselves. A rule whose post-dedupe
// count is near zero is redundant with earlier rules; a rule whose
// pre-dedupe count dwarfs the rest dominates the comparison budget.
func CountsPerRule(ctx context.Context, lt LinkType, rules []Rule, rows []InputRow) ([]RuleCount, error) {
	if len(rows) == 0 {
		return nil, &types.DataError{Op: "blocking analysis", Err: types.ErrNoRecords}
	}
	for i, rule := range rules {
		if !rule.IsExactMatch() && rule.Predicate == nil {
			return nil, types.NewSpecificationError("blocking",
				"rule %d (%q) is neither an equality rule nor carries a predicate", i, rule.Condition)
		}
	}

	counts := make([]RuleCount, len(rules))
	for i, rule := range rules {
		counts[i].Rule = rule
	}

	for a := 0; a < len(rows); a++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for b := a + 1; b < len(rows); b++ {
			l, r := rows[a], rows[b]
			if !lt.PairEligible(l.ID, r.ID, l.Source, r.Source) &&
				!lt.PairEligible(r.ID, l.ID, r.Source, l.Source) {
				continue
			}
			attributed := false
			for i, rule := range rules {
				if !rule.Matches(l.Record, r.Record) {
					continue
				}
				counts[i].PreDedupe++
				if !attributed {
					counts[i].PostDedupe++
					attributed = true
				}
			}
		}
	}
	return counts, nil
}
