// Package ledger posts transactions to the ledger together with the balance
// changes they imply. It is the only code path that writes ledger entries,
// so the balance invariants hold for every pipeline.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// Poster inserts and reverses ledger transactions. Callers supply
// repositories bound to the transaction the posting must join.
type Poster struct {
	logger *slog.Logger
}

// NewPoster creates a Poster.
func NewPoster(logger *slog.Logger) *Poster {
	return &Poster{logger: logger.With("component", "ledger_poster")}
}

// Post validates txn, inserts it and applies its balance deltas. The
// account must exist and belong to the transaction's owner.
func (p *Poster) Post(ctx context.Context, repos store.Repositories, txn *domain.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if err := txn.Validate(); err != nil {
		return err
	}

	account, err := repos.Accounts.GetByID(ctx, txn.AccountID)
	if err != nil {
		return err
	}
	if account.UserID != txn.UserID {
		return fmt.Errorf("%w: account %s does not belong to user", domain.ErrUnauthorized, txn.AccountID)
	}

	if err := repos.Transactions.Create(ctx, txn); err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	if err := applyDeltas(ctx, repos, txn.BalanceDeltas(), false); err != nil {
		return err
	}

	p.logger.Debug("transaction posted",
		"transaction_id", txn.ID,
		"account_id", txn.AccountID,
		"type", txn.Type,
		"amount", txn.Amount.String(),
		"source", txn.Source)
	return nil
}

// Reverse deletes a transaction and applies the exact inverse of the
// balance deltas its posting applied.
func (p *Poster) Reverse(ctx context.Context, repos store.Repositories, id uuid.UUID) error {
	txn, err := repos.Transactions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := repos.Transactions.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if err := applyDeltas(ctx, repos, txn.BalanceDeltas(), true); err != nil {
		return err
	}

	p.logger.Debug("transaction reversed", "transaction_id", id, "account_id", txn.AccountID)
	return nil
}

func applyDeltas(ctx context.Context, repos store.Repositories, deltas []domain.BalanceDelta, invert bool) error {
	for _, d := range deltas {
		amount := d.Amount
		if invert {
			amount = amount.Neg()
		}
		if err := repos.Accounts.ApplyDelta(ctx, d.AccountID, amount); err != nil {
			return fmt.Errorf("failed to adjust balance of account %s: %w", d.AccountID, err)
		}
	}
	return nil
}
