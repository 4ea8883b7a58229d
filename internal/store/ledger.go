package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/shopspring/decimal"
)

// AccountStore exposes the parts of the accounts collaborator the ingestion
// pipelines need: ownership lookups and balance adjustment.
type AccountStore interface {
	// GetByID retrieves an account by ID.
	// Returns ErrAccountNotFound if the account does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// ApplyDelta adds delta to the account balance in a single statement
	// (balance = balance + delta) so concurrent imports never lose updates.
	// Returns ErrAccountNotFound if the account does not exist.
	ApplyDelta(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
}

// CategoryStore is a read-only view of user categories.
type CategoryStore interface {
	// ListByUser returns every category owned by userID.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Category, error)
}

// MerchantMappingStore is a read-only view of merchant override rules.
type MerchantMappingStore interface {
	// ListByUser returns every merchant mapping owned by userID,
	// with CategoryName resolved.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.MerchantMapping, error)
}

// DuplicateKey identifies a ledger entry for exact duplicate detection.
type DuplicateKey struct {
	UserID      uuid.UUID
	AccountID   uuid.UUID
	Date        time.Time
	Amount      decimal.Decimal
	Description string
}

// TransactionStore persists ledger transactions. Balance side effects are
// applied by the ledger poster, never by the store.
type TransactionStore interface {
	// Create inserts a validated transaction.
	Create(ctx context.Context, txn *domain.Transaction) error

	// GetByID retrieves a transaction by ID.
	// Returns ErrTransactionNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)

	// Delete removes a transaction by ID.
	// Returns ErrTransactionNotFound if it does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// ExistsExact reports whether an entry with the same owner, account,
	// date, amount and description already exists.
	ExistsExact(ctx context.Context, key DuplicateKey) (bool, error)

	// ListInRange returns the owner's entries on accountID dated within
	// [from, to], inclusive.
	ListInRange(ctx context.Context, userID, accountID uuid.UUID, from, to time.Time) ([]domain.Transaction, error)

	// CountBySource counts entries produced by one staged record.
	CountBySource(ctx context.Context, source domain.TransactionSource, sourceID uuid.UUID) (int, error)
}
