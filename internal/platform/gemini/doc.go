// Package gemini implements generation.StatementParser on top of Google's
// Gemini API.
//
// The parser renders a prompt from the extracted statement text and the
// owner's category vocabulary and merchant rules, sends it with bounded
// retries, and decodes the JSON array the model returns into
// domain.ParsedRow values. Model errors are classified into the
// generation package's sentinels:
//
//   - network failures, rate limits and server errors wrap
//     generation.ErrTransientFailure and are retried
//   - a rejected key or request (400, 401, 403) wraps generation.ErrInvalidConfig
//   - other API errors wrap generation.ErrGenerationFailed
//   - output that is not a JSON array of rows wraps generation.ErrInvalidResponse
//   - safety refusals wrap generation.ErrContentBlocked
//
// The API key is supplied per request because credentials are resolved per
// statement owner, so a client is opened for each parse through a
// ClientFactory.
package gemini
