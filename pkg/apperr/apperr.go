// Package apperr carries a failure kind decided where the failure happens, so HTTP adapters and bulk
// operations never have to re-derive it from error text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindMalformed          Kind = "malformed_id"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindServiceUnavailable Kind = "service_unavailable"
	KindStorage            Kind = "storage_error"
	KindOwnership          Kind = "ownership_error"
	KindForbidden          Kind = "forbidden"
	KindUnauthorized       Kind = "unauthorized"
	KindInternal           Kind = "internal"
)

// Error is an application error tagged with its Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// Malformed is the validation failure for identifiers that fail structural parsing.
func Malformed(format string, args ...any) *Error {
	return New(KindMalformed, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func Ownership(format string, args ...any) *Error {
	return New(KindOwnership, fmt.Sprintf(format, args...))
}

func Storage(message string, err error) *Error {
	return Wrap(KindStorage, message, err)
}

func Unavailable(message string, err error) *Error {
	return Wrap(KindServiceUnavailable, message, err)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to its response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindMalformed:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindOwnership, KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
