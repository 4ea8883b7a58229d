package gemini

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/fintrack-api/internal/generation"
	"google.golang.org/genai"
)

// Error definitions for the gemini package.
var (
	// ErrEmptyStatementText is returned when there is no text to parse.
	ErrEmptyStatementText = errors.New("statement text cannot be empty")

	// ErrMissingAPIKey is returned when a request carries no credential.
	ErrMissingAPIKey = fmt.Errorf("%w: api key cannot be empty", generation.ErrInvalidConfig)
)

// classifyCallError maps a failed GenerateContent call onto the generation
// sentinels. Rate limits, server errors and failures without an HTTP status
// are transient. A rejected key or request is a configuration error and is
// not retried.
func classifyCallError(err error) error {
	code := apiStatus(err)
	switch {
	case code == 0, code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	case code == http.StatusBadRequest, code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: model rejected the request with status %d: %v", generation.ErrInvalidConfig, code, err)
	default:
		return fmt.Errorf("%w: model call failed with status %d: %v", generation.ErrGenerationFailed, code, err)
	}
}

// apiStatus returns the HTTP status carried by a genai API error, or 0.
func apiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}
