// README: Error kinds shared by every module; callers match them with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state transition")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")

	// ErrAlreadyMatched and ErrTerminalState are specializations of
	// ErrInvalidState: errors.Is(ErrAlreadyMatched, ErrInvalidState) holds.
	ErrAlreadyMatched = &kindError{msg: "ride request already matched", parent: ErrInvalidState}
	ErrTerminalState  = &kindError{msg: "aggregate is in a terminal state", parent: ErrInvalidState}

	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

type kindError struct {
	msg    string
	parent error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool {
	return target == e.parent
}

// Validation, InvalidState, ... attach a message to a kind.
func Validation(format string, args ...any) error {
	return wrap(ErrValidation, format, args...)
}

func InvalidState(format string, args ...any) error {
	return wrap(ErrInvalidState, format, args...)
}

func Forbidden(format string, args ...any) error {
	return wrap(ErrForbidden, format, args...)
}

func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

func Terminal(format string, args ...any) error {
	return wrap(ErrTerminalState, format, args...)
}

func AlreadyMatched(format string, args ...any) error {
	return wrap(ErrAlreadyMatched, format, args...)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return ErrCollaboratorUnavailable.Error() + ": " + e.cause.Error()
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrCollaboratorUnavailable, e.cause}
}

// Unavailable marks err as a collaborator failure. Errors that already carry a
// business kind pass through unchanged, so a store can return ErrNotFound and
// still have its transport errors wrapped at the same call site.
func Unavailable(err error) error {
	if err == nil || IsBusiness(err) || errors.Is(err, ErrCollaboratorUnavailable) {
		return err
	}
	return &unavailableError{cause: err}
}

// IsBusiness reports whether err is a business-rule rejection rather than an
// infrastructure failure.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound)
}

// Code is the stable machine-readable name of err's kind.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyMatched):
		return "already_matched"
	case errors.Is(err, ErrTerminalState):
		return "terminal_state"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCollaboratorUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
