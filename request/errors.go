package request

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRequestNotFound is returned when no request row exists for the id.
	ErrRequestNotFound = errors.New("request: not found")
)

// ArgumentError reports a missing, empty or non-positive required field. It is
// raised before any guard check or mutation, so the caller can fix the input
// and retry.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("request: invalid argument %s: %s", e.Field, e.Reason)
}

func badArg(field, reason string) error {
	return &ArgumentError{Field: field, Reason: reason}
}

// StateError reports a guard failure: the request's current status does not
// admit the attempted transition. Expected preserves the call-site order.
type StateError struct {
	Actual   Status
	Expected []Status
}

func (e *StateError) Error() string {
	if len(e.Expected) == 0 {
		return fmt.Sprintf("request: status is %s, want no prior status", e.Actual)
	}
	names := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		names[i] = string(s)
	}
	return fmt.Sprintf("request: status is %s, want one of [%s]", e.Actual, strings.Join(names, ", "))
}

func badState(actual Status, expected ...Status) error {
	return &StateError{Actual: actual, Expected: expected}
}

// ProgressError reports an operation attempted on a finished request.
type ProgressError struct {
	Actual ProgressStatus
}

func (e *ProgressError) Error() string {
	return fmt.Sprintf("request: progress status is %s", e.Actual)
}

// internalf wraps failures a satisfied precondition should have prevented
// (a gateway rejecting well-formed input, a save failing validation). These
// abort the unit of work and are never surfaced as recoverable.
func internalf(format string, args ...any) error {
	return fmt.Errorf("request: internal: "+format, args...)
}

// Recoverable reports whether the caller can act on the error by fixing input
// or choosing a different operation.
func Recoverable(err error) bool {
	var argErr *ArgumentError
	var stateErr *StateError
	var progErr *ProgressError
	return errors.As(err, &argErr) || errors.As(err, &stateErr) ||
		errors.As(err, &progErr) || errors.Is(err, ErrRequestNotFound)
}
