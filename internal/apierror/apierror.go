// Package apierror defines the error taxonomy shared by the core components
// and its mapping onto HTTP responses.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and transport mapping.
type Kind int

const (
	// KindValidation marks malformed input, rejected before touching state.
	KindValidation Kind = iota

	// KindNotFound marks an unknown request or service id.
	KindNotFound

	// KindConflict marks an operation that is illegal for the current state,
	// e.g. confirming a request that already reached a terminal state.
	KindConflict

	// KindUnavailable marks a failed or timed-out external collaborator
	// (embedding, retrieval, health probe).
	KindUnavailable

	// KindInternal is the fallback for everything else.
	KindInternal
)

// Error is a classified error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Validation creates a KindValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a KindConflict error.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: "CONFLICT", Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a collaborator failure.
func Unavailable(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Code: "DEPENDENCY_UNAVAILABLE", Message: fmt.Sprintf(format, args...), Err: err}
}

// Internal wraps an unclassified failure.
func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL_ERROR", Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsUnavailable reports whether err is a dependency-unavailable error.
func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }

// Response is the JSON error envelope returned by the HTTP surface.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Retryable bool   `json:"retryable"`
}

// HTTPStatus maps an error kind to its status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToResponse builds the response envelope for err.
func ToResponse(err error, requestID string) Response {
	var ae *Error
	if errors.As(err, &ae) {
		return Response{
			Code:      ae.Code,
			Message:   ae.Message,
			RequestID: requestID,
			Retryable: ae.Kind == KindUnavailable || ae.Kind == KindInternal,
		}
	}
	return Response{
		Code:      "INTERNAL_ERROR",
		Message:   err.Error(),
		RequestID: requestID,
		Retryable: true,
	}
}
