package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a fault in wiring or plugin output. It aborts the
	// current event only.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound is returned by store lookups.
	ErrNotFound = errors.New("not found")
	// ErrIllegalTransition is returned when a status change is not allowed.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// ValidationError reports out-of-contract input. It is answered with a
// rejection and never persisted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Reason }

// Invalid builds a ValidationError.
func Invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
