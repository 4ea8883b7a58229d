package generation

import (
	"context"

	"github.com/phrazzld/fintrack-api/internal/domain"
)

// StatementRequest carries everything one statement parse needs.
type StatementRequest struct {
	// APIKey is the effective credential resolved for the statement owner.
	APIKey string

	// StatementText is the text extracted from the uploaded PDF.
	StatementText string

	// Categories is the owner's allowed category vocabulary.
	Categories []domain.Category

	// Mappings are the owner's merchant override rules.
	Mappings []domain.MerchantMapping
}

// StatementParser defines the interface for turning statement text into
// transaction rows. This interface serves as a boundary between the
// application core and external AI/LLM services.
type StatementParser interface {
	// ParseStatement returns the rows the model found in the statement.
	// Errors wrap ErrTransientFailure, ErrInvalidResponse or
	// ErrContentBlocked so callers can tell the external failure classes apart.
	ParseStatement(ctx context.Context, req StatementRequest) ([]domain.ParsedRow, error)

	// Model returns the model identifier requests are sent to.
	Model() string
}
