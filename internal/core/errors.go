package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies pipeline failures into the statuses clients see.
type ErrorKind string

const (
	KindUnauthenticated     ErrorKind = "UNAUTHENTICATED"
	KindInsufficientCredits ErrorKind = "INSUFFICIENT_CREDITS"
	KindForbidden           ErrorKind = "FORBIDDEN"
	KindInvalidInput        ErrorKind = "INVALID_INPUT"
	KindDailyQuotaExceeded  ErrorKind = "DAILY_QUOTA_EXCEEDED"
	KindUpstream            ErrorKind = "UPSTREAM_ERROR"
	KindPersistence         ErrorKind = "PERSISTENCE_ERROR"
)

// Error carries a user-safe Message. Err holds internal detail for logs only.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status maps the kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindInsufficientCredits, KindForbidden:
		return http.StatusForbidden
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindDailyQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Unauthenticated(message string) *Error {
	return newError(KindUnauthenticated, message, nil)
}

func Forbidden(message string) *Error {
	return newError(KindForbidden, message, nil)
}

func InvalidInput(message string) *Error {
	return newError(KindInvalidInput, message, nil)
}

func Upstream(message string, err error) *Error {
	return newError(KindUpstream, message, err)
}

func Persistence(message string, err error) *Error {
	return newError(KindPersistence, message, err)
}

var (
	errInsufficientCredits = newError(KindInsufficientCredits, "No credits remaining. Please purchase more credits.", nil)
	errDailyQuotaExceeded  = newError(KindDailyQuotaExceeded, "Daily diagram limit reached. Please try again tomorrow or add your own API keys.", nil)
)

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}
