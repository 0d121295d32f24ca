// Package apperr defines the error taxonomy shared by the authorization
// server, the authorization engine, and the proxy. Every domain-level
// failure is classified into one of a fixed set of Kinds so HTTP handlers
// can map it to a status code and wire error body without type-switching on
// package-specific sentinel errors the way the teacher's storage package
// does for ErrNotFound/ErrAlreadyExists.
package apperr

import (
	std_errors "errors"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies a domain error into one of the outcomes callers need to
// distinguish. New Kinds should be rare: most new failure modes fit an
// existing one plus a descriptive Message.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindUserNotFound       Kind = "user_not_found"
	KindUserInactive       Kind = "user_inactive"
	KindEmailNotVerified   Kind = "email_not_verified"
	KindMFARequired        Kind = "mfa_required"
	KindInvalidMFACode     Kind = "invalid_mfa_code"
	KindAccountLocked      Kind = "account_locked"
	KindAccountBanned      Kind = "account_banned"
	KindInvalidToken       Kind = "invalid_token"
	KindTokenExpired       Kind = "token_expired"
	KindWeakPassword       Kind = "weak_password"
	KindValidation         Kind = "validation_error"
	KindBadRequest         Kind = "bad_request"
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
	KindAlreadyExists      Kind = "already_exists"
	KindForbidden          Kind = "forbidden"
	KindDatabase           Kind = "database"
	KindCache              Kind = "cache"
	KindExternalProvider   Kind = "external_provider"
	KindInternal           Kind = "internal"
	KindRateLimited        Kind = "rate_limited"
)

// Error is the concrete error type every internal package should return for
// expected, classifiable failures. Wrap with Wrap/Wrapf to attach a Kind to
// an error returned from a dependency (sql, redis, jose, ...).
type Error struct {
	Kind    Kind
	Message string
	cause   error

	// MFAToken carries the short-lived challenge token issued alongside
	// KindMFARequired, so the caller can complete step-up auth without a
	// second round trip to look it up.
	MFAToken string
	// LockedUntil carries the unlock instant alongside KindAccountLocked.
	LockedUntil string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to cause, preserving cause for errors.Is/As and for
// logging with %+v via pkg/errors' stack trace capture.
func Wrap(cause error, kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   errors.WithStack(cause),
	}
}

// Is reports whether err is an *Error of the given kind, unwrapping through
// any wrapping layers added by pkg/errors or fmt.Errorf("%w", ...).
func Is(err error, kind Kind) bool {
	var e *Error
	if std_errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or KindInternal if err is not (or does
// not wrap) an *Error. Handlers use this to decide the HTTP status and
// OAuth/RFC 6749 error code for an otherwise-opaque error value.
func KindOf(err error) Kind {
	var e *Error
	if std_errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the status code the AS and PS HTTP layers
// should respond with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidCredentials, KindInvalidMFACode, KindInvalidToken, KindTokenExpired:
		return http.StatusUnauthorized
	case KindUserInactive, KindEmailNotVerified, KindAccountLocked, KindAccountBanned, KindForbidden:
		return http.StatusForbidden
	case KindMFARequired:
		return http.StatusUnauthorized
	case KindUserNotFound, KindNotFound:
		return http.StatusNotFound
	case KindWeakPassword, KindValidation, KindBadRequest, KindInvalidInput:
		return http.StatusBadRequest
	case KindAlreadyExists:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindDatabase, KindCache, KindExternalProvider, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
