package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when parsing fails for any general reason
	ErrGenerationFailed = errors.New("failed to parse statement with language model")

	// ErrInvalidResponse is returned when the LLM response cannot be parsed or is malformed.
	// The request may succeed if retried.
	ErrInvalidResponse = errors.New("unparseable response from language model, retry")

	// ErrContentBlocked is returned when the LLM blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error calling language model")

	// ErrInvalidConfig is returned when the parser configuration is invalid
	ErrInvalidConfig = errors.New("invalid language model configuration")
)

// IsRetryable reports whether err belongs to the class of external failures
// a caller may retry: unreachable service or malformed response.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientFailure) || errors.Is(err, ErrInvalidResponse)
}
