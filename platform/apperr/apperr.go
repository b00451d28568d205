// Package apperr provides standardized error types for the engine.
// Collaborator adapters classify their failures into a Kind; retry policy and
// HTTP mapping are both pure functions of that Kind.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure. Callers branch on Kind, never on message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindForbidden
	KindUnauthorized
	KindBadRequest
	KindInternal
	// KindTransient is a collaborator failure worth retrying: rate limited,
	// overloaded, 5xx or timed out.
	KindTransient
	// KindPermanent is a collaborator failure that must not be retried.
	KindPermanent
	// KindFlowControl is a transport-imposed pause; RetryAfter holds the wait.
	KindFlowControl
	// KindCorruption is persisted state that could not be read back.
	KindCorruption
)

var kindNames = [...]string{
	KindUnknown:      "unknown",
	KindNotFound:     "not_found",
	KindValidation:   "validation",
	KindConflict:     "conflict",
	KindForbidden:    "forbidden",
	KindUnauthorized: "unauthorized",
	KindBadRequest:   "bad_request",
	KindInternal:     "internal",
	KindTransient:    "transient",
	KindPermanent:    "permanent",
	KindFlowControl:  "flow_control",
	KindCorruption:   "corruption",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// Error is a classified error with a typed Kind.
type Error struct {
	Kind       Kind
	Message    string
	Op         string        // Operation that failed (optional)
	Err        error         // Underlying error (optional)
	RetryAfter time.Duration // Wait requested by a flow-control signal (optional)
	Details    interface{}   // Additional details for response (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the appropriate HTTP status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindTransient, KindFlowControl:
		return http.StatusServiceUnavailable
	case KindPermanent:
		return http.StatusUnprocessableEntity
	case KindInternal, KindCorruption:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// New creates a new error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a new error wrapping an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithOp sets the operation and returns the error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithDetails sets additional details and returns the error.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// Convenience constructors for common error types.

// NotFound creates a not found error.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Conflict creates a conflict error.
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// Forbidden creates a forbidden error.
func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

// BadRequest creates a bad request error.
func BadRequest(message string) *Error {
	return New(KindBadRequest, message)
}

// Internal creates an internal error.
func Internal(message string) *Error {
	return New(KindInternal, message)
}

// Transient creates a retryable collaborator error.
func Transient(message string, err error) *Error {
	return Wrap(KindTransient, message, err)
}

// Permanent creates a non-retryable collaborator error.
func Permanent(message string, err error) *Error {
	return Wrap(KindPermanent, message, err)
}

// FlowControl creates a flow-control signal carrying the requested wait.
func FlowControl(wait time.Duration) *Error {
	return &Error{Kind: KindFlowControl, Message: fmt.Sprintf("flow control: wait %s", wait), RetryAfter: wait}
}

// Corruption creates an error for unreadable persisted state.
func Corruption(message string, err error) *Error {
	return Wrap(KindCorruption, message, err)
}

// GetKind extracts the error kind from anywhere in the error chain.
// Returns KindUnknown if no *Error is present.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && GetKind(err) == kind
}

// Retryable reports whether an error of this kind should be retried by a
// backoff loop. Flow control is handled by the dispatcher and is not retried here.
func Retryable(err error) bool {
	return Is(err, KindTransient)
}

// RetryAfter returns the wait carried by a flow-control error.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindFlowControl {
		return e.RetryAfter, true
	}
	return 0, false
}
