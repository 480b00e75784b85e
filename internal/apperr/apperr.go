// Package apperr defines the caller-visible error kinds of the service.
// Storage errors never leave the service boundary untranslated.
package apperr

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindForbidden
	KindInsufficientCredit
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInsufficientCredit:
		return "insufficient_credit"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// HTTPStatus is the response code the transport uses for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInsufficientCredit:
		return http.StatusPaymentRequired
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Field names the offending input, if any.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...any) *Error {
	return newf(KindInvalidInput, format, args...)
}

// InvalidField is InvalidInput naming the offending field.
func InvalidField(field, format string, args ...any) *Error {
	e := newf(KindInvalidInput, format, args...)
	e.Field = field
	return e
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newf(KindForbidden, format, args...)
}

func InsufficientCredit(format string, args ...any) *Error {
	return newf(KindInsufficientCredit, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

// ConflictField is Conflict naming the colliding field.
func ConflictField(field, format string, args ...any) *Error {
	e := newf(KindConflict, format, args...)
	e.Field = field
	return e
}

// Internal hides err behind a constant message. The cause stays reachable
// through errors.Unwrap for logging.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: errors.WithStack(err)}
}

// Translate maps any error onto the taxonomy.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound("not found")
	}
	return Internal(err)
}

// KindOf reports the kind of err; unclassified errors are internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
