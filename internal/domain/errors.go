package domain

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ErrInsufficientCredits is returned by the ledger when an at_cost
// organization cannot cover a debit. The enrollment is paused, never
// retried automatically.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrConcurrencyConflict marks an optimistic-version mismatch. The losing
// writer discards its work; this is never surfaced to an API caller.
var ErrConcurrencyConflict = errors.New("enrollment modified concurrently")

// ErrDuplicateEnrollment is returned when a live enrollment already exists
// for the (workflow, contact) pair.
var ErrDuplicateEnrollment = errors.New("contact already enrolled in workflow")

// NotFoundError identifies an unknown workflow, enrollment or organization.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func NewNotFoundError(kind string, key any) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: fmt.Sprint(key)}
}

// ValidationError rejects a bad step graph at definition time. It carries
// every violation, not just the first.
type ValidationError struct {
	err *multierror.Error
}

func (e *ValidationError) Error() string {
	return e.err.Error()
}

func (e *ValidationError) Violations() []string {
	out := make([]string, 0, len(e.err.Errors))
	for _, v := range e.err.Errors {
		out = append(out, v.Error())
	}
	return out
}

// NewValidationError returns nil when no violations were collected.
func NewValidationError(errs *multierror.Error) error {
	if errs == nil || len(errs.Errors) == 0 {
		return nil
	}
	return &ValidationError{err: errs}
}
