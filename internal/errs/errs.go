// Package errs defines the error taxonomy shared across the control plane.
// Callers classify with errors.As; wrapping with fmt.Errorf("%w") preserves
// the class.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError marks bad input or a policy violation. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError marks a uniqueness or invariant breach, or an apply failure
// that forced a rollback.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func Conflict(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError marks a missing resource.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

func NotFound(format string, args ...any) error {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// ExternalError marks a failure of an external collaborator (ACME, DNS,
// edge network). Recoverable failures leave state intact for a user retry;
// non-recoverable ones surface as hard errors.
type ExternalError struct {
	Msg         string
	Recoverable bool
	Err         error
}

func (e *ExternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ExternalError) Unwrap() error { return e.Err }

func External(err error, format string, args ...any) error {
	return &ExternalError{Msg: fmt.Sprintf(format, args...), Err: err}
}

func ExternalRecoverable(err error, format string, args ...any) error {
	return &ExternalError{Msg: fmt.Sprintf(format, args...), Err: err, Recoverable: true}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsRecoverable reports whether err is an external failure the user can fix
// and retry (e.g. DNS not yet propagated).
func IsRecoverable(err error) bool {
	var ee *ExternalError
	return errors.As(err, &ee) && ee.Recoverable
}
