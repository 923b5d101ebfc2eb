package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorType classifies failures that are not sync-rule violations: bad
// gateway input, auth, and the transport to the remote API.
type ErrorType string

const (
	// Gateway input and access
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeInternal     ErrorType = "INTERNAL"

	// Remote API transport
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
	ErrorTypeNetwork     ErrorType = "NETWORK"
	ErrorTypeExternal    ErrorType = "EXTERNAL"
)

// AppError is a failure with an HTTP status but no place in the sync
// error taxonomy. Transport failures wrap the underlying error as Cause.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether repeating the remote call may succeed
func (e *AppError) Retryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeUnavailable, ErrorTypeNetwork:
		return true
	}
	return false
}

// WithCode sets a stable machine-readable code, e.g. HTTP_502
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func newAppError(t ErrorType, status int, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		HTTPStatus: status,
		StackTrace: captureStackTrace(),
	}
}

func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(4, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return b.String()
}

// NewValidationError reports a malformed gateway request
func NewValidationError(message string) *AppError {
	return newAppError(ErrorTypeValidation, http.StatusBadRequest, message)
}

// NewUnauthorizedError reports a missing or rejected bearer token
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return newAppError(ErrorTypeUnauthorized, http.StatusUnauthorized, message)
}

// NewForbiddenError reports a request for a session of another viewer
func NewForbiddenError(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return newAppError(ErrorTypeForbidden, http.StatusForbidden, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return newAppError(ErrorTypeInternal, http.StatusInternalServerError, message)
}

// NewTimeoutError reports a remote call that did not answer in time
func NewTimeoutError(operation string) *AppError {
	return newAppError(ErrorTypeTimeout, http.StatusGatewayTimeout,
		fmt.Sprintf("operation '%s' timed out", operation))
}

// NewUnavailableError reports a remote service the circuit breaker cut off
func NewUnavailableError(service string) *AppError {
	return newAppError(ErrorTypeUnavailable, http.StatusServiceUnavailable,
		fmt.Sprintf("service '%s' is unavailable", service))
}

// NewNetworkError reports a transport failure before any answer arrived
func NewNetworkError(message string, err error) *AppError {
	return newAppError(ErrorTypeNetwork, http.StatusBadGateway, message).WithCause(err)
}

// NewExternalError reports an unusable answer from the remote API
func NewExternalError(service string, err error) *AppError {
	return newAppError(ErrorTypeExternal, http.StatusBadGateway,
		fmt.Sprintf("external service '%s' error", service)).WithCause(err)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is an AppError of errType
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsValidation reports bad input, from the gateway or a sync-rule check
func IsValidation(err error) bool {
	if de := GetDomainError(err); de != nil && de.Type == DomainValidationError {
		return true
	}
	return IsType(err, ErrorTypeValidation)
}

// IsUnauthorized reports a rejected token or an anonymous mutation
func IsUnauthorized(err error) bool {
	if de := GetDomainError(err); de != nil && de.Type == DomainAuthenticationError {
		return true
	}
	return IsType(err, ErrorTypeUnauthorized)
}

// IsRetryable reports whether the failure is transient
func IsRetryable(err error) bool {
	if de := GetDomainError(err); de != nil {
		return de.Retryable
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Retryable()
	}
	return false
}
