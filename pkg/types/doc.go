// Package types defines the shared data model for the record linkage engine:
// input records, pairwise comparison observations, scored pairs, and the
// error taxonomy used across packages.
//
// Types here are deliberately free of behavior beyond validation so that
// every other package (comparison, blocking, compiler, em, score, cluster)
// can depend on them without cycles.
package types
