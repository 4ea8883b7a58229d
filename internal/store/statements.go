package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
)

// StatementStore persists statement imports.
type StatementStore interface {
	// Create inserts a new statement import.
	Create(ctx context.Context, stmt *domain.StatementImport) error

	// GetByID retrieves a statement import by ID.
	// Returns ErrStatementNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.StatementImport, error)

	// GetByExecution retrieves the statement import linked to execID.
	// Returns ErrStatementNotFound if none is.
	GetByExecution(ctx context.Context, execID uuid.UUID) (*domain.StatementImport, error)

	// Update writes the mutable state of a statement import.
	// Returns ErrStatementNotFound if it does not exist.
	Update(ctx context.Context, stmt *domain.StatementImport) error
}

// CredentialStore reads LLM API keys managed by the settings collaborator.
type CredentialStore interface {
	// GetUserKey returns the user's own API key.
	// Returns ErrCredentialNotFound if the user has none.
	GetUserKey(ctx context.Context, userID uuid.UUID) (string, error)

	// GetSharedKey returns the administrator key and whether sharing it
	// with users is enabled. An empty key means none is configured.
	GetSharedKey(ctx context.Context) (key string, enabled bool, err error)
}
