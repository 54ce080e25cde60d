// Package common defines the classified error type shared by every domain
// operation, plus small helpers for random secrets. Callers match errors
// with KindOf/errors.As rather than string comparison.
package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain failure. The HTTP status is a hint for outer
// surfaces; the core never depends on transport semantics.
type Kind string

const (
	KindUnauthorized Kind = "unauthorized" // missing, expired, or revoked credential
	KindForbidden    Kind = "forbidden"    // insufficient role or workspace mismatch
	KindNotFound     Kind = "not_found"    // entity absent or out of tenant scope
	KindConflict     Kind = "conflict"     // invalid transition, duplicate, quota exceeded
	KindBadRequest   Kind = "bad_request"  // payload validation failure
	KindInternal     Kind = "internal"     // infrastructure failure
)

// Error is the classified error returned by domain operations.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Unauthorizedf(format string, args ...any) *Error { return newf(KindUnauthorized, format, args...) }
func Forbiddenf(format string, args ...any) *Error    { return newf(KindForbidden, format, args...) }
func NotFoundf(format string, args ...any) *Error     { return newf(KindNotFound, format, args...) }
func Conflictf(format string, args ...any) *Error     { return newf(KindConflict, format, args...) }
func BadRequestf(format string, args ...any) *Error   { return newf(KindBadRequest, format, args...) }

// Internal wraps an infrastructure error so callers can still classify it.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf extracts the classification of err, or KindInternal when err is not
// a classified error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// HTTPStatus maps a classification to its HTTP status hint.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
