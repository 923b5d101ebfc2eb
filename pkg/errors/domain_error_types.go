package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// DomainErrorType represents the category of domain error
type DomainErrorType string

const (
	// DomainValidationError indicates input validation failure
	DomainValidationError DomainErrorType = "VALIDATION_ERROR"

	// DomainBusinessRuleError indicates a business rule violation
	DomainBusinessRuleError DomainErrorType = "BUSINESS_RULE_ERROR"

	// DomainNotFoundError indicates a resource was not found
	DomainNotFoundError DomainErrorType = "NOT_FOUND"

	// DomainConflictError indicates a conflict with existing state
	DomainConflictError DomainErrorType = "CONFLICT"

	// DomainInfrastructureError indicates an infrastructure-level failure
	DomainInfrastructureError DomainErrorType = "INFRASTRUCTURE_ERROR"

	// DomainAuthorizationError indicates insufficient permissions
	DomainAuthorizationError DomainErrorType = "AUTHORIZATION_ERROR"

	// DomainAuthenticationError indicates authentication failure
	DomainAuthenticationError DomainErrorType = "AUTHENTICATION_ERROR"

	// DomainRateLimitError indicates rate limit exceeded
	DomainRateLimitError DomainErrorType = "RATE_LIMIT_ERROR"

	// DomainTimeoutError indicates operation timeout
	DomainTimeoutError DomainErrorType = "TIMEOUT_ERROR"

	// DomainStaleError indicates a result superseded by newer local state
	DomainStaleError DomainErrorType = "STALE_ERROR"
)

// DomainError represents a domain-specific error with rich context
type DomainError struct {
	Type       DomainErrorType        `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

// NewDomainError creates a new domain error
func NewDomainError(errorType DomainErrorType, code string, message string) *DomainError {
	return &DomainError{
		Type:       errorType,
		Code:       code,
		Message:    message,
		Details:    make(map[string]interface{}),
		Retryable:  false,
		StatusCode: domainErrorTypeToStatusCode(errorType),
	}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// WithCause adds a cause to the error
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	e.Details[key] = value
	return e
}

// WithDetails adds multiple details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithRetryable sets whether the error is retryable
func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

// WithStatusCode sets a custom HTTP status code
func (e *DomainError) WithStatusCode(code int) *DomainError {
	e.StatusCode = code
	return e
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// domainErrorTypeToStatusCode maps error types to HTTP status codes
func domainErrorTypeToStatusCode(errorType DomainErrorType) int {
	switch errorType {
	case DomainValidationError:
		return 400 // Bad Request
	case DomainBusinessRuleError:
		return 422 // Unprocessable Entity
	case DomainNotFoundError:
		return 404 // Not Found
	case DomainConflictError:
		return 409 // Conflict
	case DomainAuthenticationError:
		return 401 // Unauthorized
	case DomainAuthorizationError:
		return 403 // Forbidden
	case DomainRateLimitError:
		return 429 // Too Many Requests
	case DomainTimeoutError:
		return 504 // Gateway Timeout
	case DomainStaleError:
		return 409 // Conflict
	case DomainInfrastructureError:
		return 500 // Internal Server Error
	default:
		return 500 // Internal Server Error
	}
}

// Sync error codes. Sentinels below are comparison targets for errors.Is;
// the constructors return fresh values carrying details.
const (
	CodeEntityNotFound   = "ENTITY_NOT_FOUND"
	CodeInvalidHierarchy = "INVALID_HIERARCHY"
	CodeHasChildren      = "HAS_CHILDREN"
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeMutationFailed   = "MUTATION_FAILED"
	CodeStaleFeed        = "STALE_FEED"
	CodeInvalidDraft     = "INVALID_DRAFT"
	CodeUnknownFeed      = "UNKNOWN_FEED"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
)

var (
	ErrEntityNotFound   = NewDomainError(DomainNotFoundError, CodeEntityNotFound, "El elemento no existe")
	ErrInvalidHierarchy = NewDomainError(DomainBusinessRuleError, CodeInvalidHierarchy, "No se puede mover una nota dentro de sí misma o de sus descendientes")
	ErrHasChildren      = NewDomainError(DomainConflictError, CodeHasChildren, "No se puede eliminar una nota que contiene otras notas")
	ErrUnauthenticated  = NewDomainError(DomainAuthenticationError, CodeUnauthenticated, "Debes iniciar sesión")
	ErrMutationFailed   = NewDomainError(DomainInfrastructureError, CodeMutationFailed, "No se pudo guardar el cambio")
	ErrStaleFeed        = NewDomainError(DomainStaleError, CodeStaleFeed, "La lista cambió mientras se cargaba")
	ErrInvalidDraft     = NewDomainError(DomainValidationError, CodeInvalidDraft, "Los datos de la nota no son válidos")
	ErrUnknownFeed      = NewDomainError(DomainNotFoundError, CodeUnknownFeed, "Lista desconocida")
	ErrRateLimitExceeded = NewDomainError(
		DomainRateLimitError,
		"RATE_LIMIT_EXCEEDED",
		"Too many requests, please try again later",
	).WithRetryable(true)
)

// EntityNotFound reports an id unknown to the local cache or the server.
func EntityNotFound(entityType string, id int64) *DomainError {
	return NewDomainError(DomainNotFoundError, CodeEntityNotFound, ErrEntityNotFound.Message).
		WithDetail("entity_type", entityType).
		WithDetail("id", id)
}

// InvalidHierarchy reports a re-parent that would create a cycle.
func InvalidHierarchy(nodeID, parentID int64) *DomainError {
	return NewDomainError(DomainBusinessRuleError, CodeInvalidHierarchy, ErrInvalidHierarchy.Message).
		WithDetail("node_id", nodeID).
		WithDetail("parent_id", parentID)
}

// HasChildren reports a delete attempted on a node that still has children.
func HasChildren(nodeID int64, children int) *DomainError {
	return NewDomainError(DomainConflictError, CodeHasChildren, ErrHasChildren.Message).
		WithDetail("node_id", nodeID).
		WithDetail("children", children)
}

// Unauthenticated reports a mutation attempted without a viewer.
func Unauthenticated(operation string) *DomainError {
	return NewDomainError(DomainAuthenticationError, CodeUnauthenticated, ErrUnauthenticated.Message).
		WithDetail("operation", operation)
}

// MutationFailed wraps the transport failure that caused a rollback.
func MutationFailed(operation string, cause error) *DomainError {
	return NewDomainError(DomainInfrastructureError, CodeMutationFailed, ErrMutationFailed.Message).
		WithDetail("operation", operation).
		WithStatusCode(502).
		WithRetryable(true).
		WithCause(cause)
}

// StaleFeed reports a page response discarded because the feed was reset.
func StaleFeed(feed string, requested, current uint64) *DomainError {
	return NewDomainError(DomainStaleError, CodeStaleFeed, ErrStaleFeed.Message).
		WithDetail("feed", feed).
		WithDetail("requested_generation", requested).
		WithDetail("current_generation", current)
}

// InvalidDraft reports a library draft that failed validation.
func InvalidDraft(reason string) *DomainError {
	return NewDomainError(DomainValidationError, CodeInvalidDraft, ErrInvalidDraft.Message).
		WithDetail("reason", reason)
}

// UnknownFeed reports a feed name with no registered spec.
func UnknownFeed(feed string) *DomainError {
	return NewDomainError(DomainNotFoundError, CodeUnknownFeed, ErrUnknownFeed.Message).
		WithDetail("feed", feed)
}

// RateLimited reports a throttled caller, locally or by the remote API.
func RateLimited(scope string) *DomainError {
	return NewDomainError(DomainRateLimitError, ErrRateLimitExceeded.Code, ErrRateLimitExceeded.Message).
		WithDetail("scope", scope).
		WithRetryable(true)
}

// SessionNotFound reports an unknown or expired gateway session.
func SessionNotFound(sessionID string) *DomainError {
	return NewDomainError(DomainNotFoundError, CodeSessionNotFound, "La sesión expiró").
		WithDetail("session_id", sessionID)
}

// IsStale reports whether err is a discarded stale page.
func IsStale(err error) bool {
	return stderrors.Is(err, ErrStaleFeed)
}

// GetDomainError extracts a DomainError from an error chain.
func GetDomainError(err error) *DomainError {
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// ValidationErrors aggregates multiple validation errors
type ValidationErrors struct {
	Errors []*DomainError `json:"errors"`
}

// NewValidationErrors creates a new validation errors collection
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make([]*DomainError, 0),
	}
}

// Add adds a validation error
func (v *ValidationErrors) Add(field string, message string) {
	err := NewDomainError(DomainValidationError, "FIELD_VALIDATION_ERROR", message).
		WithDetail("field", field)
	v.Errors = append(v.Errors, err)
}

// AddError adds a pre-existing domain error
func (v *ValidationErrors) AddError(err *DomainError) {
	v.Errors = append(v.Errors, err)
}

// HasErrors returns true if there are validation errors
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}

	messages := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		messages[i] = err.Message
	}
	return fmt.Sprintf("Validation failed: %s", strings.Join(messages, "; "))
}

// ToMap converts validation errors to a map for JSON serialization
func (v *ValidationErrors) ToMap() map[string][]string {
	result := make(map[string][]string)

	for _, err := range v.Errors {
		field, ok := err.Details["field"].(string)
		if !ok {
			field = "general"
		}

		if _, exists := result[field]; !exists {
			result[field] = make([]string, 0)
		}
		result[field] = append(result[field], err.Message)
	}

	return result
}
