package dialect

import "fmt"

// DuckDB is the in-process columnar engine dialect.
type DuckDB struct{}

// Name implements Dialect.
func (DuckDB) Name() string { return "duckdb" }

// FunctionName implements Dialect.
func (DuckDB) FunctionName(fn ScalarFunction) (string, error) {
	switch fn {
	case Levenshtein:
		return "levenshtein", nil
	case DamerauLevenshtein:
		return "damerau_levenshtein", nil
	case Jaro:
		return "jaro_similarity", nil
	case JaroWinkler:
		return "jaro_winkler_similarity", nil
	case Jaccard:
		return "jaccard", nil
	}
	return "", missingFunction("duckdb", fn)
}

// SupportsPushdown implements Dialect. DuckDB evaluates scalar functions in
// join conditions natively.
func (DuckDB) SupportsPushdown(ScalarFunction) bool { return true }

// RandomSampleClause implements Dialect.
func (DuckDB) RandomSampleClause(proportion float64, _ int, seed *int64) (string, error) {
	if proportion >= 1.0 {
		return "", nil
	}
	percent := proportion * 100
	if seed != nil {
		return fmt.Sprintf("USING SAMPLE bernoulli(%g%%) REPEATABLE(%d)", percent, *seed), nil
	}
	return fmt.Sprintf("USING SAMPLE %g%% (bernoulli)", percent), nil
}

// Spark is the distributed cluster engine dialect.
type Spark struct{}

// Name implements Dialect.
func (Spark) Name() string { return "spark" }

// FunctionName implements Dialect.
func (Spark) FunctionName(fn ScalarFunction) (string, error) {
	switch fn {
	case Levenshtein:
		return "levenshtein", nil
	case DamerauLevenshtein:
		return "damerau_levenshtein", nil
	case Jaro:
		return "jaro_sim", nil
	case JaroWinkler:
		return "jaro_winkler", nil
	case Jaccard:
		return "jaccard", nil
	}
	return "", missingFunction("spark", fn)
}

// SupportsPushdown implements Dialect. Scalar functions in join conditions
// defeat Spark's sort-merge join planning, so distance predicates filter
// after the blocked join materializes.
func (Spark) SupportsPushdown(ScalarFunction) bool { return false }

// RandomSampleClause implements Dialect.
func (Spark) RandomSampleClause(proportion float64, sampleSize int, seed *int64) (string, error) {
	if proportion >= 1.0 {
		return "", nil
	}
	if seed != nil {
		return fmt.Sprintf("ORDER BY rand(%d) LIMIT %d", *seed, sampleSize), nil
	}
	return fmt.Sprintf("TABLESAMPLE (%g PERCENT)", proportion*100), nil
}

// SQLite is the embedded engine dialect. String distance functions exist
// only as registered UDFs and cannot be pushed into join conditions.
type SQLite struct{}

// Name implements Dialect.
func (SQLite) Name() string { return "sqlite" }

// FunctionName implements Dialect.
func (SQLite) FunctionName(fn ScalarFunction) (string, error) {
	switch fn {
	case Levenshtein:
		return "levenshtein", nil
	case DamerauLevenshtein:
		return "damerau_levenshtein", nil
	case Jaro:
		return "jaro_sim", nil
	case JaroWinkler:
		return "jaro_winkler", nil
	}
	return "", missingFunction("sqlite", fn)
}

// SupportsPushdown implements Dialect.
func (SQLite) SupportsPushdown(ScalarFunction) bool { return false }

// RandomSampleClause implements Dialect. SQLite has no seeded sampling.
func (SQLite) RandomSampleClause(proportion float64, sampleSize int, seed *int64) (string, error) {
	if proportion >= 1.0 {
		return "", nil
	}
	if seed != nil {
		return "", fmt.Errorf("sqlite does not support seeded random samples")
	}
	return fmt.Sprintf("ORDER BY RANDOM() LIMIT %d", sampleSize), nil
}

// Postgres is the server engine dialect; levenshtein comes from the
// fuzzystrmatch extension.
type Postgres struct{}

// Name implements Dialect.
func (Postgres) Name() string { return "postgres" }

// FunctionName implements Dialect.
func (Postgres) FunctionName(fn ScalarFunction) (string, error) {
	switch fn {
	case Levenshtein:
		return "levenshtein", nil
	}
	return "", missingFunction("postgres", fn)
}

// SupportsPushdown implements Dialect.
func (Postgres) SupportsPushdown(fn ScalarFunction) bool { return fn == Levenshtein }

// RandomSampleClause implements Dialect. Postgres has no seeded sampling
// clause; seeding would need setseed() in the surrounding session.
func (Postgres) RandomSampleClause(proportion float64, sampleSize int, seed *int64) (string, error) {
	if proportion >= 1.0 {
		return "", nil
	}
	if seed != nil {
		return "", fmt.Errorf("postgres does not support seeded random samples")
	}
	return fmt.Sprintf("ORDER BY RANDOM() LIMIT %d", sampleSize), nil
}

func missingFunction(dialect string, fn ScalarFunction) error {
	return fmt.Errorf("backend %q does not have a %q function", dialect, string(fn))
}
