package docstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when the store rejects a request as malformed.
	// Validation failures are never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when the addressed document does not exist.
	// Not-found failures are never retried.
	ErrNotFound = errors.New("document not found")
)

// ValidationError wraps ErrValidation with the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

// Unwrap allows errors.Is(err, ErrValidation).
func (*ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether an operation that failed with err is worth
// attempting again. Validation, not-found and cancellation are terminal;
// anything else is treated as transient.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case IsValidation(err), IsNotFound(err):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
