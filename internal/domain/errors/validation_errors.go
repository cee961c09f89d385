package errors

import (
	"errors"
	"fmt"
)

var (
	ErrRequiredField = errors.New("required field is missing")
	ErrInvalidFormat = errors.New("invalid format")
	ErrOutOfRange    = errors.New("value out of range")
)

// ValidationError wraps a field validation error
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed for field '%s': %v", e.Field, e.Err)
}

// Unwrap exposes both the field cause and ErrInvalidParameter
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidParameter}
	}
	return []error{e.Err, ErrInvalidParameter}
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewRequiredFieldError creates a validation error for a missing field
func NewRequiredFieldError(field string) *ValidationError {
	return &ValidationError{Field: field, Err: ErrRequiredField}
}
