package imports

import (
	"errors"
	"fmt"

	"github.com/phrazzld/fintrack-api/internal/store"
)

// Sentinel errors returned by the CSV import service.
// The API layer maps them to HTTP status codes.
var (
	// ErrEmptyFile indicates an upload without any data rows.
	// API layer should map this to HTTP 400 Bad Request.
	ErrEmptyFile = errors.New("csv file contains no data rows")

	// ErrTooManyRows indicates an upload above the configured row ceiling.
	// API layer should map this to HTTP 400 Bad Request.
	ErrTooManyRows = errors.New("csv file exceeds the maximum number of rows")

	// ErrMalformedFile indicates the payload is not parseable CSV.
	// API layer should map this to HTTP 400 Bad Request.
	ErrMalformedFile = errors.New("csv file is malformed")

	// ErrBatchNotValidated indicates a confirmation of a batch that is not
	// awaiting confirmation. API layer should map this to HTTP 409 Conflict.
	ErrBatchNotValidated = errors.New("import batch is not awaiting confirmation")
)

// ServiceError wraps errors from the import service with context.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "validate_upload", "confirm")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("import service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("import service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
// It returns known sentinel errors directly without wrapping.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range []error{ErrEmptyFile, ErrTooManyRows, ErrBatchNotValidated} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}

	// Not-found errors keep their entity-specific variant.
	if store.IsNotFoundError(err) {
		return err
	}

	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
