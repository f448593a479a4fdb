package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass is the closed set of error classes the fallback executor
// reasons about.
type ErrorClass string

const (
	ClassAuth                ErrorClass = "AUTH"
	ClassRateLimit           ErrorClass = "RATE_LIMIT"
	ClassProviderUnavailable ErrorClass = "PROVIDER_UNAVAILABLE"
	ClassTimeout             ErrorClass = "TIMEOUT"
	ClassInvalidRequest      ErrorClass = "INVALID_REQUEST"
	ClassContentPolicy       ErrorClass = "CONTENT_POLICY"
	ClassEmptyResponse       ErrorClass = "EMPTY_RESPONSE"
	ClassSerialization       ErrorClass = "SERIALIZATION_ERROR"
	ClassTemplate            ErrorClass = "TEMPLATE"
	ClassDbLogging           ErrorClass = "DB_LOGGING_ERROR"

	// ClassAll is a sentinel used only in FallbackTarget catch sets; it
	// matches every class above.
	ClassAll ErrorClass = "ALL"
)

// Error is the structured error carried across the gateway.
type Error struct {
	Class      ErrorClass `json:"class"`
	Message    string     `json:"message"`
	HTTPStatus int        `json:"http_status,omitempty"`
	Retryable  bool       `json:"retryable"`
	Provider   string     `json:"provider,omitempty"`
	Cause      error      `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a new Error with the given class and message.
func NewError(class ErrorClass, message string) *Error {
	return &Error{Class: class, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the upstream HTTP status.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable within one target.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider records which provider produced the error.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// ClassOf extracts the error class. Context deadline errors map to Timeout,
// plain cancellation and unknown errors map to ProviderUnavailable so that
// transport-level failures stay fallback-eligible.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ClassProviderUnavailable
}

// IsRetryable reports whether a single target may retry the error in place.
// Only rate limits, provider unavailability and timeouts qualify.
func IsRetryable(err error) bool {
	switch ClassOf(err) {
	case ClassRateLimit, ClassProviderUnavailable, ClassTimeout:
		return true
	}
	return false
}

// FallbackEligible reports whether another provider could plausibly succeed
// with the same inputs. Request-shaped and local errors surface immediately.
func FallbackEligible(class ErrorClass) bool {
	switch class {
	case ClassInvalidRequest, ClassTemplate, ClassSerialization, ClassDbLogging:
		return false
	}
	return true
}
