// Package domain defines the core business entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidFormat is returned when data is not in the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidAmount is returned when a monetary amount is not a positive decimal.
	ErrInvalidAmount = errors.New("amount must be a positive decimal")

	// ErrInvalidTransactionType is returned for a type outside INCOME, EXPENSE and TRANSFER.
	ErrInvalidTransactionType = errors.New("invalid transaction type")

	// ErrInvalidStatusTransition is returned when a staged record is moved
	// to a status that is not reachable from its current status.
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrExecutionTerminal is returned when a finished job execution is mutated.
	ErrExecutionTerminal = errors.New("job execution already finished")

	// ErrUnauthorized is returned when an operation is not permitted.
	ErrUnauthorized = errors.New("unauthorized operation")
)

// ValidationError describes a single failed field check.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Unwrap returns the wrapped sentinel so errors.Is(err, ErrValidation) works.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a ValidationError for the given field.
// If err is nil, ErrValidation is used.
func NewValidationError(field, message string, err error) *ValidationError {
	if err == nil {
		err = ErrValidation
	}
	return &ValidationError{Field: field, Message: message, Err: err}
}
