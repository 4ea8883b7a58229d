package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
)

// RecurringStore persists recurring transaction definitions.
type RecurringStore interface {
	// Create inserts a validated definition.
	Create(ctx context.Context, def *domain.RecurringDefinition) error

	// GetByID retrieves a definition by ID.
	// Returns ErrRecurringNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RecurringDefinition, error)

	// ListDue returns ACTIVE definitions whose next execution date is on or
	// before today, oldest due first.
	ListDue(ctx context.Context, today time.Time) ([]domain.RecurringDefinition, error)

	// Update writes status, next execution date and last execution time.
	// Returns ErrRecurringNotFound if it does not exist.
	Update(ctx context.Context, def *domain.RecurringDefinition) error
}
