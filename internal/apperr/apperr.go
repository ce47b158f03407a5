// Package apperr defines the classified errors shared by every layer of the
// helpdesk. Components return *Error values; only the HTTP boundary turns a
// Kind into a status code and response body.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by who can correct it and how it surfaces.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindConflict
	KindNotFound
	KindDatabase
	KindRateLimit
)

var kindNames = map[Kind]string{
	KindInternal:     "INTERNAL_SERVER_ERROR",
	KindValidation:   "VALIDATION_ERROR",
	KindUnauthorized: "UNAUTHORIZED",
	KindForbidden:    "FORBIDDEN",
	KindConflict:     "CONFLICT",
	KindNotFound:     "NOT_FOUND",
	KindDatabase:     "DATABASE_ERROR",
	KindRateLimit:    "RATE_LIMIT_EXCEEDED",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return kindNames[KindInternal]
}

// Status returns the default HTTP status for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Message is safe to show to clients; Err carries
// the underlying cause for logs only.
type Error struct {
	Kind    Kind
	Code    string // machine-readable code; defaults to Kind.String()
	Message string
	Field   string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode returns Code, falling back to the kind name.
func (e *Error) ErrorCode() string {
	if e.Code != "" {
		return e.Code
	}
	return e.Kind.String()
}

// Is matches another *Error with the same Kind and Code, so sentinel values
// declared with New work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.ErrorCode() == t.ErrorCode() && e.Message == t.Message
}

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithCode returns a copy of e carrying a specific machine-readable code.
func (e *Error) WithCode(code string) *Error {
	c := *e
	c.Code = code
	return &c
}

// WithDetail returns a copy of e with an extra response field.
func (e *Error) WithDetail(key string, value any) *Error {
	c := *e
	c.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	c.Details[key] = value
	return &c
}

func Validation(message string) *Error { return New(KindValidation, message) }

// ValidationField reports which input field was rejected.
func ValidationField(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Field: field}
}

func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }
func Forbidden(message string) *Error    { return New(KindForbidden, message) }
func Conflict(message string) *Error     { return New(KindConflict, message) }
func RateLimit(message string) *Error    { return New(KindRateLimit, message) }

// NotFound reports an absent resource, e.g. NotFound("Ticket").
func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found", Details: map[string]any{"resource": resource}}
}

// Database wraps a backing-store failure.
func Database(op string, err error) *Error {
	return &Error{Kind: KindDatabase, Message: "Database operation failed", Err: fmt.Errorf("%s: %w", op, err)}
}

// Internal wraps an unexpected failure.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: "An unexpected error occurred", Err: fmt.Errorf("%s: %w", op, err)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As returns the first *Error in err's chain. Unclassified errors are wrapped
// as KindInternal so callers always get a renderable value.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("unclassified", err)
}
