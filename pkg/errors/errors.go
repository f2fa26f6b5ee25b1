package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Extraction errors
	ErrorTypeParse ErrorType = "parse"

	// Retrieval errors
	ErrorTypeNotFound            ErrorType = "not_found"
	ErrorTypeValidationRejected  ErrorType = "validation_rejected"

	// Infrastructure errors
	ErrorTypeDependency ErrorType = "dependency"
	ErrorTypeTimeout    ErrorType = "timeout"

	// System errors
	ErrorTypeInternal ErrorType = "internal"
	ErrorTypeConfig   ErrorType = "configuration"
	ErrorTypeInvalid  ErrorType = "invalid"
)

// ServiceError represents a standardized error with context
type ServiceError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Service    string                 `json:"service"`
	Operation  string                 `json:"operation"`
	Timestamp  time.Time              `json:"timestamp"`
	Cause      error                  `json:"-"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"http_status,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Service, e.Operation, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Service, e.Operation, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison
func (e *ServiceError) Is(target error) bool {
	if target == nil {
		return false
	}
	if se, ok := target.(*ServiceError); ok {
		return e.Type == se.Type && e.Code == se.Code
	}
	return errors.Is(e.Cause, target)
}

// WithCause attaches the underlying cause
func (e *ServiceError) WithCause(cause error) *ServiceError {
	e.Cause = cause
	return e
}

// WithDetails attaches a human-readable detail string
func (e *ServiceError) WithDetails(details string) *ServiceError {
	e.Details = details
	return e
}

// WithMetadata attaches a single metadata key
func (e *ServiceError) WithMetadata(key string, value interface{}) *ServiceError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ErrorBuilder helps build standardized errors for one service/operation pair
type ErrorBuilder struct {
	service   string
	operation string
}

// NewErrorBuilder creates a new error builder for a service operation
func NewErrorBuilder(service, operation string) *ErrorBuilder {
	return &ErrorBuilder{service: service, operation: operation}
}

func (eb *ErrorBuilder) newError(errType ErrorType, code, message string, httpStatus int, retryable bool) *ServiceError {
	return &ServiceError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Service:    eb.service,
		Operation:  eb.operation,
		Timestamp:  time.Now(),
		Retryable:  retryable,
		HTTPStatus: httpStatus,
	}
}

// ParseError reports a malformed element in a source file. Parse failures are
// collected per record and never abort a whole ingest batch.
func (eb *ErrorBuilder) ParseError(element, message string) *ServiceError {
	return eb.newError(ErrorTypeParse, "malformed_element", message, http.StatusUnprocessableEntity, false).
		WithMetadata("element", element)
}

// NotFoundError reports a query that resolved to nothing after validation.
// User-visible, not a system fault.
func (eb *ErrorBuilder) NotFoundError(kind, name string) *ServiceError {
	return eb.newError(ErrorTypeNotFound, "not_found",
		fmt.Sprintf("%s %q not found", kind, name), http.StatusNotFound, false).
		WithMetadata("kind", kind).
		WithMetadata("name", name)
}

// DependencyError reports an unreachable or failing external service
func (eb *ErrorBuilder) DependencyError(dependency, message string) *ServiceError {
	return eb.newError(ErrorTypeDependency, "dependency_unavailable", message, http.StatusServiceUnavailable, true).
		WithMetadata("dependency", dependency)
}

// TimeoutError reports an external call that exceeded its deadline
func (eb *ErrorBuilder) TimeoutError(dependency string, timeout time.Duration) *ServiceError {
	return eb.newError(ErrorTypeTimeout, "dependency_timeout",
		fmt.Sprintf("%s did not respond within %s", dependency, timeout), http.StatusServiceUnavailable, true).
		WithMetadata("dependency", dependency)
}

// ValidationRejectedError reports a semantic candidate that failed the
// authoritative-cache cross-check. Logged and excluded from results, never
// surfaced to the caller as an error.
func (eb *ErrorBuilder) ValidationRejectedError(recordID, reason string) *ServiceError {
	return eb.newError(ErrorTypeValidationRejected, "candidate_rejected", reason, 0, false).
		WithMetadata("record_id", recordID)
}

// InvalidInputError reports a malformed request
func (eb *ErrorBuilder) InvalidInputError(field, message string) *ServiceError {
	return eb.newError(ErrorTypeInvalid, "invalid_input", message, http.StatusBadRequest, false).
		WithMetadata("field", field)
}

// ConfigError reports invalid or missing configuration
func (eb *ErrorBuilder) ConfigError(message string) *ServiceError {
	return eb.newError(ErrorTypeConfig, "invalid_configuration", message, http.StatusInternalServerError, false)
}

// InternalError reports an unexpected system fault
func (eb *ErrorBuilder) InternalError(message string, cause error) *ServiceError {
	return eb.newError(ErrorTypeInternal, "internal_error", message, http.StatusInternalServerError, false).
		WithCause(cause)
}

// IsType reports whether err (or anything it wraps) is a ServiceError of the
// given type.
func IsType(err error, errType ErrorType) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Type == errType
	}
	return false
}

// HTTPStatus extracts the HTTP status for an error, defaulting to 500
func HTTPStatus(err error) int {
	var se *ServiceError
	if errors.As(err, &se) && se.HTTPStatus != 0 {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether the operation that produced err may be retried
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
