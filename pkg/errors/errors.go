package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodePlanNotFound         Code = "PLAN_NOT_FOUND"
	CodeNoActiveSubscription Code = "NO_ACTIVE_SUBSCRIPTION"
)

// Metadata describes how a Code surfaces over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func meta(status int, public string, opts ...func(*Metadata)) Metadata {
	m := Metadata{HTTPStatus: status, PublicMessage: public}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func retryable(m *Metadata)   { m.Retryable = true }
func withDetails(m *Metadata) { m.DetailsAllowed = true }

var metadataByCode = map[Code]Metadata{
	CodeValidation:           meta(http.StatusBadRequest, "validation failed", withDetails),
	CodeUnauthorized:         meta(http.StatusUnauthorized, "authentication required"),
	CodeForbidden:            meta(http.StatusForbidden, "access denied"),
	CodeNotFound:             meta(http.StatusNotFound, "resource not found"),
	CodeConflict:             meta(http.StatusConflict, "conflict detected"),
	CodeStateConflict:        meta(http.StatusUnprocessableEntity, "state transition disallowed", withDetails),
	CodePlanNotFound:         meta(http.StatusBadRequest, "plan not found or inactive", withDetails),
	CodeNoActiveSubscription: meta(http.StatusNotFound, "no active subscription found"),
	CodeRateLimit:            meta(http.StatusTooManyRequests, "rate limit exceeded"),
	CodeInternal:             meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:           meta(http.StatusServiceUnavailable, "dependency unavailable", retryable, withDetails),
}

// MetadataFor falls back to the internal error entry for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded application error. Handlers map the code to a status
// and public message via MetadataFor.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether err carries the given typed code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// IsRetryable reports whether err should be retried. Untyped errors are
// assumed to be transient infrastructure failures.
func IsRetryable(err error) bool {
	typed := As(err)
	if typed == nil {
		return true
	}
	return MetadataFor(typed.code).Retryable
}
