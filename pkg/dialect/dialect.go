// Package dialect abstracts the SQL dialects of the execution backends the
// query compiler can target. Each dialect reports the names of its string
// similarity functions and whether those functions may be pushed into a
// join condition or must run as a post-join filter.
package dialect

import (
	"fmt"
	"sort"
)

// ScalarFunction identifies a string similarity function a comparison level
// may require of a backend.
type ScalarFunction string

const (
	Levenshtein        ScalarFunction = "levenshtein"
	DamerauLevenshtein ScalarFunction = "damerau_levenshtein"
	Jaro               ScalarFunction = "jaro"
	JaroWinkler        ScalarFunction = "jaro_winkler"
	Jaccard            ScalarFunction = "jaccard"
)

// Dialect describes the capability set of one backend SQL dialect. The query
// compiler is dialect-agnostic and depends only on this interface.
type Dialect interface {
	// Name is the registry key, e.g. "duckdb".
	Name() string

	// FunctionName maps an abstract scalar function to the dialect's
	// native name. An error means the dialect has no such function.
	FunctionName(fn ScalarFunction) (string, error)

	// SupportsPushdown reports whether the scalar function may appear in
	// a join condition, or must instead filter after the candidate join
	// has materialized.
	SupportsPushdown(fn ScalarFunction) bool

	// RandomSampleClause renders the dialect's random sampling clause for
	// u-estimation. proportion is in (0, 1]; seed is optional.
	RandomSampleClause(proportion float64, sampleSize int, seed *int64) (string, error)
}

// Registry is an explicit collection of dialects keyed by name. Callers
// construct the registry they want rather than relying on a process-wide
// default.
type Registry struct {
	dialects map[string]Dialect
}

// NewRegistry creates a registry containing the given dialects.
func NewRegistry(dialects ...Dialect) *Registry {
	r := &Registry{dialects: make(map[string]Dialect, len(dialects))}
	for _, d := range dialects {
		r.dialects[d.Name()] = d
	}
	return r
}

// DefaultRegistry returns a registry with all built-in dialects.
func DefaultRegistry() *Registry {
	return NewRegistry(DuckDB{}, Spark{}, SQLite{}, Postgres{})
}

// Register adds a dialect, replacing any previous entry with the same name.
func (r *Registry) Register(d Dialect) {
	r.dialects[d.Name()] = d
}

// Lookup returns the dialect registered under name.
func (r *Registry) Lookup(name string) (Dialect, error) {
	d, ok := r.dialects[name]
	if !ok {
		return nil, fmt.Errorf("no dialect registered under %q (have %v)", name, r.Names())
	}
	return d, nil
}

// Names lists registered dialect names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.dialects))
	for name := range r.dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
