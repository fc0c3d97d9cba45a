// Package apperr classifies domain errors so that handlers can map them to
// HTTP responses without knowing every sentinel.
package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind is the error taxonomy shared by every domain package.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is a classified error. Sentinels are declared once per package with
// New and compared with errors.Is; callers add context with fmt.Errorf("%w").
type Error struct {
	Kind      Kind
	Msg       string
	Retryable bool
	// Status overrides the default HTTP status for the kind when non-zero.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// NotFound, Conflict, Validation and Transient are shorthands for New.
func NotFound(msg string) *Error   { return New(KindNotFound, msg) }
func Conflict(msg string) *Error   { return New(KindConflict, msg) }
func Validation(msg string) *Error { return New(KindValidation, msg) }
func Transient(msg string) *Error  { return New(KindTransient, msg) }

// Unprocessable marks a validation error that breaks a business rule rather
// than a malformed request; it maps to 422.
func Unprocessable(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg, Status: http.StatusUnprocessableEntity}
}

// Wrap attaches a cause to a copy of the sentinel. errors.Is(result, sentinel)
// keeps working because the copy unwraps to the sentinel.
func Wrap(sentinel *Error, cause error) error {
	return &wrapped{sentinel: sentinel, cause: cause}
}

type wrapped struct {
	sentinel *Error
	cause    error
}

func (w *wrapped) Error() string {
	if w.cause == nil {
		return w.sentinel.Error()
	}
	return w.sentinel.Error() + ": " + w.cause.Error()
}

func (w *wrapped) Unwrap() []error { return []error{w.sentinel, w.cause} }

// KindOf reports the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the caller may safely retry the operation.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable || e.Kind == KindTransient
	}
	return false
}

// HTTPStatus maps an error to its response status.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	if e.Status != 0 {
		return e.Status
	}
	if e.Retryable {
		return http.StatusServiceUnavailable
	}
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPError converts err into an echo.HTTPError. Internal errors are reported
// with a generic message; the original error is kept as Internal for logging.
func HTTPError(err error) *echo.HTTPError {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	var e *Error
	errors.As(err, &e)
	return echo.NewHTTPError(status, publicMessage(err, e)).SetInternal(err)
}

// publicMessage is the text a client sees. Classified messages are safe to
// show; unclassified causes (driver or network errors) stay in Internal.
func publicMessage(err error, e *Error) string {
	var w *wrapped
	if errors.As(err, &w) {
		var cause *Error
		if errors.As(w.cause, &cause) {
			return w.sentinel.Msg + ": " + cause.Msg
		}
		return w.sentinel.Msg
	}
	if e.Err != nil {
		return e.Msg
	}
	return err.Error()
}

// Respond is the handler-side helper: it sets Retry-After for retryable
// failures and returns the mapped echo error.
func Respond(c echo.Context, err error) error {
	if IsRetryable(err) {
		c.Response().Header().Set("Retry-After", "1")
	}
	return HTTPError(err)
}
