package mutation

import (
	"fmt"
	"strings"
)

// LocalValidationError is a precondition that failed before any remote call.
// Nothing was applied, so nothing is rolled back.
type LocalValidationError struct {
	Kind    Kind
	LoanID  string
	Message string
}

func (e *LocalValidationError) Error() string {
	return e.Message
}

// Failure is one failed sub-operation of a batch.
type Failure struct {
	// Position is the 1-based position of the item in the draft
	Position int
	Label    string
	Message  string
	Err      error
}

func (f Failure) String() string {
	return f.Label + ": " + f.Message
}

// PartialBatchError reports a parent operation that succeeded while some of
// its independent sub-operations failed. The successful part is kept.
type PartialBatchError struct {
	Parent   string
	ParentID string
	Failures []Failure
}

func (e *PartialBatchError) Error() string {
	lines := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		lines = append(lines, f.String())
	}
	return fmt.Sprintf("%s saved, but %d of its items failed: %s",
		e.Parent, len(e.Failures), strings.Join(lines, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *PartialBatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}
