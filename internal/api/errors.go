package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/fintrack-api/internal/api/shared"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/imports"
	"github.com/phrazzld/fintrack-api/internal/jobs"
	"github.com/phrazzld/fintrack-api/internal/platform/pdftext"
	"github.com/phrazzld/fintrack-api/internal/statement"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// MapErrorToStatusCode maps service errors to HTTP status codes without
// exposing their text.
func MapErrorToStatusCode(err error) int {
	var validationErr *domain.ValidationError
	var fieldErrs validator.ValidationErrors

	switch {
	// Records of other users read as missing.
	case errors.Is(err, domain.ErrUnauthorized),
		store.IsNotFoundError(err):
		return http.StatusNotFound

	case errors.Is(err, imports.ErrBatchNotValidated),
		errors.Is(err, statement.ErrNotParseable),
		errors.Is(err, statement.ErrNotParsed),
		errors.Is(err, domain.ErrInvalidStatusTransition),
		errors.Is(err, jobs.ErrJobRunning),
		store.IsDuplicateError(err):
		return http.StatusConflict

	case errors.Is(err, statement.ErrFileTooLarge),
		errors.Is(err, errUploadTooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, statement.ErrUnsupportedContentType):
		return http.StatusUnsupportedMediaType

	case errors.Is(err, statement.ErrLLMNotConfigured):
		return http.StatusPreconditionFailed

	case errors.Is(err, pdftext.ErrBadPassword),
		errors.Is(err, pdftext.ErrExtractionFailed):
		return http.StatusUnprocessableEntity

	case errors.Is(err, imports.ErrEmptyFile),
		errors.Is(err, imports.ErrTooManyRows),
		errors.Is(err, imports.ErrMalformedFile),
		errors.Is(err, statement.ErrEmptyFile),
		errors.Is(err, jobs.ErrInvalidCron),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity),
		errors.As(err, &validationErr),
		errors.As(err, &fieldErrs):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var validationErr *domain.ValidationError
	var fieldErrs validator.ValidationErrors

	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		return "Account not found"
	case errors.Is(err, store.ErrBatchNotFound):
		return "Import batch not found"
	case errors.Is(err, store.ErrStatementNotFound):
		return "Statement not found"
	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, store.ErrExecutionNotFound):
		return "Job execution not found"
	case errors.Is(err, domain.ErrUnauthorized), store.IsNotFoundError(err):
		return "Resource not found"

	case errors.Is(err, imports.ErrBatchNotValidated):
		return "Import batch is not awaiting confirmation"
	case errors.Is(err, statement.ErrNotParseable):
		return "Statement is not ready for parsing"
	case errors.Is(err, statement.ErrNotParsed):
		return "Statement is not awaiting confirmation"
	case errors.Is(err, jobs.ErrJobRunning):
		return "Job is already running"

	case errors.Is(err, statement.ErrFileTooLarge):
		return "Statement file is too large"
	case errors.Is(err, errUploadTooLarge):
		return "Upload is too large"
	case errors.Is(err, statement.ErrUnsupportedContentType):
		return "Statement must be a PDF"
	case errors.Is(err, statement.ErrEmptyFile):
		return "Statement file is empty"
	case errors.Is(err, statement.ErrLLMNotConfigured):
		return "No language model credential is configured"
	case errors.Is(err, pdftext.ErrBadPassword):
		return "Statement password is missing or incorrect"
	case errors.Is(err, pdftext.ErrExtractionFailed):
		return "Statement text could not be extracted"

	case errors.Is(err, imports.ErrEmptyFile):
		return "CSV file contains no data rows"
	case errors.Is(err, imports.ErrTooManyRows):
		return "CSV file has too many rows"
	case errors.Is(err, imports.ErrMalformedFile):
		return "CSV file is malformed"
	case errors.Is(err, jobs.ErrInvalidCron):
		return "Invalid cron expression"

	case errors.As(err, &validationErr):
		return fmt.Sprintf("Invalid %s: %s", validationErr.Field, validationErr.Message)
	case errors.As(err, &fieldErrs):
		return SanitizeValidationError(err)
	case errors.Is(err, domain.ErrValidation), errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the error response for err. A non-empty
// userMessage replaces the mapped message for client errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, userMessage string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if userMessage != "" && status < http.StatusInternalServerError {
		message = userMessage
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError turns struct validation failures into a message
// naming the first offending field.
func SanitizeValidationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Validation error"
	}
	fe := fieldErrs[0]
	return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fe.Field()), validationTagMessage(fe.Tag()))
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "uuid":
		return "must be a UUID"
	default:
		return "validation failed"
	}
}
