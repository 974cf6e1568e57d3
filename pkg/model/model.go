// Package model defines the core domain types for GoTodo.
package model

import (
	"errors"
	"fmt"
)

// ErrNotFoundOrUnauthorized is returned when a record does not exist or is
// owned by another user. The two cases are deliberately indistinguishable.
var ErrNotFoundOrUnauthorized = errors.New("Todo not found or not authorized")

// ValidationError reports a missing or malformed field. Message is safe to
// show to clients.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
