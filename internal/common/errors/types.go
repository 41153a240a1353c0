// Package errors defines the structured error taxonomy shared across the
// router. Error types drive HTTP status mapping and circuit breaker failure
// counting: validation and not_found errors are the caller's fault and never
// trip a breaker, internal errors do.
package errors

import (
	"fmt"
	"strings"
)

// ErrorType classifies an AppError.
type ErrorType string

const (
	// ErrTypeValidation marks malformed or rejected input.
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig marks invalid configuration discovered at startup.
	ErrTypeConfig ErrorType = "config"
	// ErrTypeNotFound marks a missing resource.
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal marks failures of the system itself.
	ErrTypeInternal ErrorType = "internal"
)

// AppError is a typed application error with an optional underlying cause.
type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// ValidationError creates a validation error.
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a configuration error.
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// NotFoundError creates a not found error for the named resource.
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates an internal error wrapping its cause.
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error's type, treating non-AppErrors as internal.
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	appErr, ok := err.(*AppError)
	if !ok {
		return ErrTypeInternal
	}
	return appErr.Type
}
