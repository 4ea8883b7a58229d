package statement

import (
	"errors"
	"fmt"

	"github.com/phrazzld/fintrack-api/internal/platform/pdftext"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// Sentinel errors returned by the statement service.
var (
	// ErrUnsupportedContentType indicates an upload that is not a PDF.
	// API layer should map this to HTTP 415 Unsupported Media Type.
	ErrUnsupportedContentType = errors.New("statement must be an application/pdf upload")

	// ErrFileTooLarge indicates an upload above the configured size limit.
	// API layer should map this to HTTP 413 Request Entity Too Large.
	ErrFileTooLarge = errors.New("statement file exceeds the maximum size")

	// ErrEmptyFile indicates an upload without content.
	ErrEmptyFile = errors.New("statement file is empty")

	// ErrLLMNotConfigured indicates that neither the user nor the
	// administrator has provided a model API key.
	// API layer should map this to HTTP 412 Precondition Failed.
	ErrLLMNotConfigured = errors.New("no language model credential is configured")

	// ErrNotParseable indicates a parse request for a statement that is not
	// waiting to be parsed. API layer should map this to HTTP 409 Conflict.
	ErrNotParseable = errors.New("statement is not ready for parsing")

	// ErrNotParsed indicates a confirmation of a statement whose rows are not
	// awaiting confirmation. API layer should map this to HTTP 409 Conflict.
	ErrNotParsed = errors.New("statement is not awaiting confirmation")
)

// ServiceError wraps errors from the statement service with context.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "upload", "trigger_parse")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("statement service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("statement service %s failed: %s", e.Operation, e.Message)
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

	for _, sentinel := range []error{
		ErrUnsupportedContentType,
		ErrFileTooLarge,
		ErrEmptyFile,
		ErrLLMNotConfigured,
		ErrNotParseable,
		ErrNotParsed,
		pdftext.ErrBadPassword,
		pdftext.ErrExtractionFailed,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}

	if store.IsNotFoundError(err) {
		return err
	}

	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
