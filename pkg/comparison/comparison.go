package comparison

import (
	"fmt"

	"github.com/wilko77/splink/pkg/types"
)

// LevelKind is the closed set of comparison level variants. Custom is the
// escape hatch for a raw backend expression with an optional in-process
// predicate.
type LevelKind int

const (
	// KindNull captures pairs where either side of the column is missing.
	KindNull LevelKind = iota
	// KindExact matches when both sides are equal and present.
	KindExact
	// KindLevenshtein matches when edit distance is within a threshold.
	KindLevenshtein
	// KindJaroWinkler matches when Jaro-Winkler similarity meets a threshold.
	KindJaroWinkler
	// KindCustom evaluates a caller-supplied predicate; its Condition string
	// is what backends render.
	KindCustom
	// KindElse is the catch-all level matching any remaining pair.
	KindElse
)

// String returns the string representation of the level kind.
func (k LevelKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindExact:
		return "exact"
	case KindLevenshtein:
		return "levenshtein"
	case KindJaroWinkler:
		return "jaro_winkler"
	case KindCustom:
		return "custom"
	case KindElse:
		return "else"
	default:
		return fmt.Sprintf("LevelKind(%d)", int(k))
	}
}

// TFSpec configures a term-frequency adjustment for one level. Matches on
// common values carry less evidence; the scorer interpolates the level's
// u-probability toward the observed value's empirical frequency.
type TFSpec struct {
	Column        string  `json:"tf_adjustment_column"`
	Weight        float64 `json:"tf_adjustment_weight"`
	MinimumUValue float64 `json:"tf_minimum_u_value"`
}

// Level is one discrete similarity bucket of a comparison. Levels are
// immutable once their comparison is built.
type Level struct {
	Kind  LevelKind
	Label string

	// Column is the attribute the level inspects. Unused for KindElse and
	// optional for KindCustom.
	Column string

	// Threshold is the edit-distance bound (KindLevenshtein) or minimum
	// similarity (KindJaroWinkler).
	Threshold float64

	// Condition is the raw backend expression for KindCustom levels.
	Condition string

	// Predicate evaluates a KindCustom level in-process. Backends that
	// execute natively require it; SQL backends render Condition instead.
	Predicate func(left, right any) bool

	// TF is the optional term-frequency adjustment spec.
	TF *TFSpec
}

// IsNullLevel reports whether this is the designated missing-value level.
func (l *Level) IsNullLevel() bool { return l.Kind == KindNull }

// matches evaluates the level predicate against one pair of column values.
// Precondition: the comparison was validated at construction, so null
// handling has already happened by the time a data level is consulted.
func (l *Level) matches(left, right types.Record) bool {
	switch l.Kind {
	case KindNull:
		return left.IsMissing(l.Column) || right.IsMissing(l.Column)
	case KindExact:
		return asString(left.Get(l.Column)) == asString(right.Get(l.Column))
	case KindLevenshtein:
		d := Levenshtein(asString(left.Get(l.Column)), asString(right.Get(l.Column)))
		return float64(d) <= l.Threshold
	case KindJaroWinkler:
		return JaroWinkler(asString(left.Get(l.Column)), asString(right.Get(l.Column))) >= l.Threshold
	case KindCustom:
		if l.Predicate == nil {
			return false
		}
		return l.Predicate(left.Get(l.Column), right.Get(l.Column))
	case KindElse:
		return true
	default:
		return false
	}
}

// Comparison is an ordered sequence of levels covering one attribute or
// attribute group. Levels are mutually exclusive and jointly exhaustive by
// construction: ordinal precedence plus a mandatory trailing else level.
type Comparison struct {
	OutputName  string
	Description string
	Levels      []Level

	nullIndex int // -1 when no null level
}

// NewComparison validates and builds a comparison. Malformed specs are
// rejected here, before any query compiles; evaluation never re-validates.
func NewComparison(outputName, description string, levels []Level) (*Comparison, error) {
	if outputName == "" {
		return nil, types.NewSpecificationError("comparison", "output name is required")
	}
	if len(levels) == 0 {
		return nil, types.NewSpecificationError(outputName, "comparison has no levels")
	}

	nullIndex := -1
	elseIndex := -1
	for i, lvl := range levels {
		switch lvl.Kind {
		case KindNull:
			if nullIndex >= 0 {
				return nil, types.NewSpecificationError(outputName, "more than one level is marked as the null level")
			}
			nullIndex = i
		case KindElse:
			if elseIndex >= 0 {
				return nil, types.NewSpecificationError(outputName, "more than one else level")
			}
			elseIndex = i
		}
	}
	if elseIndex < 0 {
		return nil, types.NewSpecificationError(outputName, "no catch-all (else) level present")
	}
	if elseIndex != len(levels)-1 {
		return nil, types.NewSpecificationError(outputName, "else level must be the final level")
	}
	// Null inputs must never fall through to a data-comparison level, so
	// the null level has to precede every data level.
	if nullIndex > 0 {
		return nil, types.NewSpecificationError(outputName, "null level must precede all data levels")
	}

	cloned := make([]Level, len(levels))
	copy(cloned, levels)
	return &Comparison{
		OutputName:  outputName,
		Description: description,
		Levels:      cloned,
		nullIndex:   nullIndex,
	}, nil
}

// NullLevelIndex returns the ordinal position of the null level, or -1.
func (c *Comparison) NullLevelIndex() int { return c.nullIndex }

// Evaluate tests levels in ordinal order and returns the index of the first
// level whose predicate holds, plus whether that level is the null level.
// The else level guarantees a result for every pair.
func (c *Comparison) Evaluate(left, right types.Record) (levelIndex int, isNull bool) {
	for i := range c.Levels {
		if c.Levels[i].matches(left, right) {
			return i, c.Levels[i].IsNullLevel()
		}
	}
	// Unreachable: construction guarantees a trailing else level.
	return len(c.Levels) - 1, false
}

// TFColumns returns the distinct term-frequency adjustment columns
// referenced by this comparison's levels, in level order.
func (c *Comparison) TFColumns() []string {
	seen := make(map[string]struct{})
	var cols []string
	for i := range c.Levels {
		if tf := c.Levels[i].TF; tf != nil {
			if _, ok := seen[tf.Column]; !ok {
				seen[tf.Column] = struct{}{}
				cols = append(cols, tf.Column)
			}
		}
	}
	return cols
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
