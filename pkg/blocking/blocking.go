// Package blocking restricts the cross-product of record pairs to a
// tractable candidate set. Rules are predicates over a pair of records;
// candidate pairs are the union across rules, deduplicated so a pair
// matched by several rules is scored exactly once.
package blocking

import (
	"regexp"
	"strings"

	"github.com/wilko77/splink/pkg/types"
)

// Rule is one blocking rule. The structured form (ExactMatchColumns) allows
// hash-based blocking and exact SQL rendering; anything else keeps the raw
// condition plus an optional in-process predicate.
type Rule struct {
	// Condition is the raw pairwise predicate as written in the settings
	// document, e.g. "l.first_name = r.first_name".
	Condition string

	// ExactMatchColumns is populated when the condition is a conjunction
	// of left/right equalities on the same column.
	ExactMatchColumns []string

	// Predicate evaluates the rule in-process when the condition could not
	// be parsed into the structured form.
	Predicate func(left, right types.Record) bool
}

// IsExactMatch reports whether the rule blocks on column equality only.
func (r Rule) IsExactMatch() bool { return len(r.ExactMatchColumns) > 0 }

// Matches evaluates the rule against one pair of records.
func (r Rule) Matches(left, right types.Record) bool {
	if r.IsExactMatch() {
		for _, col := range r.ExactMatchColumns {
			if left.IsMissing(col) || right.IsMissing(col) {
				return false
			}
			if left.Get(col) != right.Get(col) {
				return false
			}
		}
		return true
	}
	if r.Predicate != nil {
		return r.Predicate(left, right)
	}
	return false
}

// equalityTerm matches one "l.col = r.col" conjunct, with optional
// left_name_l = right_name_r spelling.
var equalityTerm = regexp.MustCompile(`^(?:l\.(\w+)\s*=\s*r\.(\w+)|(\w+)_l\s*=\s*(\w+)_r)$`)

// ParseRule lowers a condition string into a Rule, recognizing conjunctions
// of same-column equalities. Conditions outside that shape are kept raw and
// need a predicate before an in-process backend can evaluate them.
func ParseRule(condition string) Rule {
	rule := Rule{Condition: condition}

	terms := strings.Split(condition, " AND ")
	var cols []string
	for _, term := range terms {
		m := equalityTerm.FindStringSubmatch(strings.TrimSpace(term))
		if m == nil {
			return rule
		}
		lcol, rcol := m[1], m[2]
		if lcol == "" {
			lcol, rcol = m[3], m[4]
		}
		if lcol != rcol {
			return rule
		}
		cols = append(cols, lcol)
	}
	rule.ExactMatchColumns = cols
	return rule
}

// LinkType determines which record pairs are structurally eligible before
// any rule is applied.
type LinkType string

const (
	// DedupeOnly compares a single table against itself, excluding
	// self-pairs and symmetric duplicates via left-id < right-id.
	DedupeOnly LinkType = "dedupe_only"
	// LinkOnly compares records across tables only; no within-table pairs.
	LinkOnly LinkType = "link_only"
	// LinkAndDedupe compares both across and within tables.
	LinkAndDedupe LinkType = "link_and_dedupe"
)

// Valid reports whether the link type is one of the known values.
func (lt LinkType) Valid() bool {
	switch lt {
	case DedupeOnly, LinkOnly, LinkAndDedupe:
		return true
	}
	return false
}

// PairEligible applies the link-type constraint to a candidate pair.
// leftID/rightID are the unique ids, leftSource/rightSource the source
// dataset names (empty for dedupe_only inputs).
func (lt LinkType) PairEligible(leftID, rightID, leftSource, rightSource string) bool {
	switch lt {
	case DedupeOnly:
		return leftID < rightID
	case LinkOnly:
		return leftSource != rightSource
	case LinkAndDedupe:
		if leftSource == rightSource {
			return leftID < rightID
		}
		return true
	}
	return false
}
