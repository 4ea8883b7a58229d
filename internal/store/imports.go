package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
)

// ImportBatchStore persists CSV import batches.
type ImportBatchStore interface {
	// Create inserts a new batch including raw payload and verdicts.
	Create(ctx context.Context, batch *domain.ImportBatch) error

	// GetByID retrieves a batch by ID.
	// Returns ErrBatchNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ImportBatch, error)

	// Update writes the mutable state of a batch (status, counts, verdicts,
	// flags, message, execution link).
	// Returns ErrBatchNotFound if it does not exist.
	Update(ctx context.Context, batch *domain.ImportBatch) error

	// LinkExecution attaches execID to an IMPORTING batch that is unlinked
	// or already linked to execID, provided execID is still RUNNING. It
	// reports false when the batch is owned by another execution, is no
	// longer IMPORTING, or execID has finished.
	LinkExecution(ctx context.Context, batchID, execID uuid.UUID) (bool, error)

	// UnlinkExecution clears the link of an IMPORTING batch held by execID
	// so the stuck-batch sweep can resume it.
	UnlinkExecution(ctx context.Context, execID uuid.UUID) (int, error)

	// ClaimStuck atomically leases up to limit IMPORTING batches with no
	// linked execution, last updated before cutoff, whose lease is absent or
	// expired. The lease is set to leaseUntil in the same statement.
	ClaimStuck(ctx context.Context, cutoff, leaseUntil time.Time, limit int) ([]domain.ImportBatch, error)
}
