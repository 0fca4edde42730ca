package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/nkkko/supports/internal/keyboard"
	"github.com/nkkko/supports/pkg/bag"
)

// ErrorType defines the type of error
type ErrorType string

const (
	// ErrorTypeValidation represents a malformed request or payload
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeNotFound represents a missing resource
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeUnavailable represents an event source that is shutting down
	ErrorTypeUnavailable ErrorType = "unavailable"

	// ErrorTypeInternal represents an internal server error
	ErrorTypeInternal ErrorType = "internal"
)

// APIError represents a standardized API error
type APIError struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	HTTPCode  int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Code, e.Message)
}

// WithDetails adds details to the error
func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to the error
func (e *APIError) WithRequestID(requestID string) *APIError {
	e.RequestID = requestID
	return e
}

// ValidationError creates a new validation error
func ValidationError(code string, message string) *APIError {
	return &APIError{
		Type:     ErrorTypeValidation,
		Code:     code,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(code string, message string) *APIError {
	return &APIError{
		Type:     ErrorTypeNotFound,
		Code:     code,
		Message:  message,
		HTTPCode: http.StatusNotFound,
	}
}

// UnavailableError creates a new service unavailable error
func UnavailableError(code string, message string) *APIError {
	return &APIError{
		Type:     ErrorTypeUnavailable,
		Code:     code,
		Message:  message,
		HTTPCode: http.StatusServiceUnavailable,
	}
}

// InternalError creates a new internal server error
func InternalError(code string, message string) *APIError {
	return &APIError{
		Type:     ErrorTypeInternal,
		Code:     code,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
	}
}

// FromError maps a Go error onto an API error. Known domain errors get their
// own type; anything else is internal.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	var malformed *keyboard.MalformedPayloadError
	if stderrors.As(err, &malformed) {
		return ValidationError("malformed_payload", malformed.Error()).
			WithDetails(map[string]string{"field": malformed.Field})
	}

	if stderrors.Is(err, bag.ErrSourceUnavailable) {
		return UnavailableError("source_unavailable", err.Error())
	}

	return InternalError("internal_error", err.Error())
}
