package comparison

import (
	"fmt"
	"sort"

	"github.com/wilko77/splink/pkg/types"
)

// Builder constructs a preset comparison for one column.
type Builder func(column string) (*Comparison, error)

// Library is an explicit registry of preset comparison builders. Callers
// construct the registry they want and pass it into the settings builder;
// there is no ambient process-wide default.
type Library struct {
	builders map[string]Builder
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{builders: make(map[string]Builder)}
}

// Register adds a named builder, replacing any previous registration.
func (lib *Library) Register(name string, b Builder) {
	lib.builders[name] = b
}

// Build constructs the named preset for a column.
func (lib *Library) Build(name, column string) (*Comparison, error) {
	b, ok := lib.builders[name]
	if !ok {
		return nil, types.NewSpecificationError(name, "no comparison preset registered under %q", name)
	}
	return b(column)
}

// Names lists the registered preset names, sorted.
func (lib *Library) Names() []string {
	names := make([]string, 0, len(lib.builders))
	for name := range lib.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultLibrary returns a library with the standard presets registered.
func DefaultLibrary() *Library {
	lib := NewLibrary()
	lib.Register("exact_match", func(column string) (*Comparison, error) {
		return ExactMatch(column)
	})
	lib.Register("levenshtein", func(column string) (*Comparison, error) {
		return LevenshteinAtThresholds(column, 1, 2)
	})
	lib.Register("jaro_winkler", func(column string) (*Comparison, error) {
		return JaroWinklerAtThresholds(column, 0.9, 0.7)
	})
	return lib
}

// ExactMatch builds a null / exact / else comparison for one column.
func ExactMatch(column string) (*Comparison, error) {
	return NewComparison(column, fmt.Sprintf("Exact match on %s", column), []Level{
		{Kind: KindNull, Column: column, Label: "Null"},
		{Kind: KindExact, Column: column, Label: fmt.Sprintf("Exact match %s", column)},
		{Kind: KindElse, Label: "All other comparisons"},
	})
}

// ExactMatchWithTF builds an exact-match comparison whose match level
// carries a term-frequency adjustment.
func ExactMatchWithTF(column string, weight, minimumU float64) (*Comparison, error) {
	return NewComparison(column, fmt.Sprintf("Exact match on %s with term-frequency adjustment", column), []Level{
		{Kind: KindNull, Column: column, Label: "Null"},
		{
			Kind:   KindExact,
			Column: column,
			Label:  fmt.Sprintf("Exact match %s", column),
			TF:     &TFSpec{Column: column, Weight: weight, MinimumUValue: minimumU},
		},
		{Kind: KindElse, Label: "All other comparisons"},
	})
}

// LevenshteinAtThresholds builds a comparison with an exact-match level
// followed by one level per edit-distance threshold, in ascending order.
func LevenshteinAtThresholds(column string, thresholds ...int) (*Comparison, error) {
	levels := []Level{
		{Kind: KindNull, Column: column, Label: "Null"},
		{Kind: KindExact, Column: column, Label: fmt.Sprintf("Exact match %s", column)},
	}
	for _, t := range thresholds {
		levels = append(levels, Level{
			Kind:      KindLevenshtein,
			Column:    column,
			Threshold: float64(t),
			Label:     fmt.Sprintf("Levenshtein distance of %s <= %d", column, t),
		})
	}
	levels = append(levels, Level{Kind: KindElse, Label: "All other comparisons"})
	return NewComparison(column, fmt.Sprintf("Exact match and levenshtein thresholds on %s", column), levels)
}

// JaroWinklerAtThresholds builds a comparison with an exact-match level
// followed by one level per similarity threshold, in descending order.
func JaroWinklerAtThresholds(column string, thresholds ...float64) (*Comparison, error) {
	levels := []Level{
		{Kind: KindNull, Column: column, Label: "Null"},
		{Kind: KindExact, Column: column, Label: fmt.Sprintf("Exact match %s", column)},
	}
	for _, t := range thresholds {
		levels = append(levels, Level{
			Kind:      KindJaroWinkler,
			Column:    column,
			Threshold: t,
			Label:     fmt.Sprintf("Jaro-Winkler similarity of %s >= %g", column, t),
		})
	}
	levels = append(levels, Level{Kind: KindElse, Label: "All other comparisons"})
	return NewComparison(column, fmt.Sprintf("Exact match and Jaro-Winkler thresholds on %s", column), levels)
}
