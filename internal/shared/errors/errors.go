package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types
var (
	ErrNotFound          = errors.New("resource not found")
	ErrBadRequest        = errors.New("bad request")
	ErrValidation        = errors.New("validation error")
	ErrInternal          = errors.New("internal error")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyResolved   = errors.New("already resolved")
	ErrMalformedReading  = errors.New("malformed reading")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// InvalidTransition creates an error for an action an alert's state machine rejects.
// No partial state change accompanies it.
func InvalidTransition(action, status string) *AppError {
	return &AppError{
		Err:        ErrInvalidTransition,
		Message:    fmt.Sprintf("action %q is not valid for an alert in status %q", action, status),
		Code:       "INVALID_TRANSITION",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"action": action, "status": status},
	}
}

// AlreadyResolved creates an error for an action against a terminal alert.
// Same category as InvalidTransition, distinguished for clearer user messaging.
func AlreadyResolved(status string) *AppError {
	return &AppError{
		Err:        ErrAlreadyResolved,
		Message:    fmt.Sprintf("alert was already closed with status %q", status),
		Code:       "ALREADY_RESOLVED",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"status": status},
	}
}

// MalformedReading creates an error for a metric value outside its plausible range.
// The reading is dropped at ingestion; other readings in the batch are unaffected.
func MalformedReading(metric, reason string) *AppError {
	return &AppError{
		Err:        ErrMalformedReading,
		Message:    fmt.Sprintf("reading for %s rejected: %s", metric, reason),
		Code:       "MALFORMED_READING",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]string{"metric": metric, "reason": reason},
	}
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Validation creates a validation error with field details
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	if appErr, ok := err.(*AppError); ok {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Is reports whether err matches the target sentinel
func Is(err, target error) bool {
	return errors.Is(err, target)
}
