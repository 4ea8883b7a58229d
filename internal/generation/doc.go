// Package generation defines the boundary between the statement pipeline and
// external LLM services. A StatementParser turns extracted statement text
// into transaction rows; the Gemini adapter in internal/platform/gemini is
// the production implementation.
package generation
