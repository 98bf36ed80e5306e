package types

import "fmt"

// SpecificationError reports a malformed settings or comparison spec detected
// at construction time. It is always fatal and never silently repaired.
type SpecificationError struct {
	// Subject names the offending object, e.g. a comparison output name.
	Subject string

	// Reason describes what is wrong with the spec.
	Reason string
}

// Error implements the error interface.
func (e *SpecificationError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("invalid specification: %s", e.Reason)
	}
	return fmt.Sprintf("invalid specification for %q: %s", e.Subject, e.Reason)
}

// NewSpecificationError creates a SpecificationError for a named subject.
func NewSpecificationError(subject, format string, args ...any) *SpecificationError {
	return &SpecificationError{Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

// DataError reports a problem with the input data for one call, e.g. an
// empty training subset or a referenced column that is absent. It is fatal
// for the call that triggered it but does not corrupt frozen parameters.
type DataError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *DataError) Error() string {
	return fmt.Sprintf("data error in %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError wraps an error as a DataError for an operation.
func NewDataError(op string, err error) *DataError {
	return &DataError{Op: op, Err: err}
}

// ConvergenceWarning is a non-fatal outcome attached to an EM fit result
// when the iteration budget is exhausted before reaching tolerance. The
// caller decides whether to proceed with the partially converged model.
type ConvergenceWarning struct {
	Iterations int
	Tolerance  float64
	LastDelta  float64
}

// Error implements the error interface.
func (w *ConvergenceWarning) Error() string {
	return fmt.Sprintf("EM did not converge after %d iterations: largest parameter change %.3g exceeds tolerance %.3g",
		w.Iterations, w.LastDelta, w.Tolerance)
}
