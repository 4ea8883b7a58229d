// Package store provides abstractions and implementations for data persistence
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/fintrack-api/internal/platform/logger"
)

// TxFn is a function that executes within a database transaction.
// It receives the context and a transaction, and returns an error if the operation fails.
// The transaction is committed if the function returns nil, or rolled back if it returns an error.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction executes the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed and any hooks registered with
// AfterCommit during fn run once the commit has succeeded.
// The function handles rollbacks in case of panic and logs appropriate information.
func RunInTransaction(ctx context.Context, db *sql.DB, fn TxFn) error {
	log := logger.FromContext(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction",
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx, hooks := WithCommitHooks(ctx)

	defer func() {
		if p := recover(); p != nil {
			txErr := tx.Rollback()
			if txErr != nil {
				log.Error("failed to roll back transaction after panic",
					slog.String("error", txErr.Error()),
					slog.Any("panic", p))
			} else {
				log.Error("rolled back transaction after panic",
					slog.Any("panic", p))
			}
			// ALLOW-PANIC: Propagating caught panic from transaction
			panic(p)
		}
	}()

	err = fn(txCtx, tx)
	if err != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			log.Error("failed to roll back transaction",
				slog.String("rollback_error", rollbackErr.Error()),
				slog.String("original_error", err.Error()))
			return fmt.Errorf(
				"error rolling back transaction: %v (original error: %w)",
				rollbackErr,
				err,
			)
		}
		log.Debug("rolled back transaction due to error",
			slog.String("error", err.Error()),
			slog.Int("dropped_hooks", hooks.Len()))
		return err
	}

	err = tx.Commit()
	if err != nil {
		log.Error("failed to commit transaction",
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Debug("transaction committed successfully", slog.Int("hooks", hooks.Len()))
	hooks.Run(ctx)
	return nil
}

type commitHooksKey struct{}

// CommitHooks collects work that may only start once the enclosing
// transaction is durable.
type CommitHooks struct {
	mu  sync.Mutex
	fns []func(context.Context)
	ran bool
}

// WithCommitHooks returns a context carrying a fresh hook collector.
// Transaction implementations call this on begin and Run after commit;
// on rollback the collector is simply discarded.
func WithCommitHooks(ctx context.Context) (context.Context, *CommitHooks) {
	h := &CommitHooks{}
	return context.WithValue(ctx, commitHooksKey{}, h), h
}

// AfterCommit defers fn until the transaction carried by ctx commits.
// Outside a transaction fn runs immediately. Hooks receive a context that
// is not cancelled with the originating request.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if h, ok := ctx.Value(commitHooksKey{}).(*CommitHooks); ok && h.add(fn) {
		return
	}
	fn(context.WithoutCancel(ctx))
}

// InTransaction reports whether ctx belongs to an open transaction.
func InTransaction(ctx context.Context) bool {
	h, ok := ctx.Value(commitHooksKey{}).(*CommitHooks)
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.ran
}

func (h *CommitHooks) add(fn func(context.Context)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ran {
		return false
	}
	h.fns = append(h.fns, fn)
	return true
}

// Len returns the number of pending hooks.
func (h *CommitHooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fns)
}

// Run executes the registered hooks in registration order, at most once.
// A panicking hook is logged and does not stop the others.
func (h *CommitHooks) Run(ctx context.Context) {
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		return
	}
	h.ran = true
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	hookCtx := context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)
	for i, fn := range fns {
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.Error("after-commit hook panicked",
						slog.Int("hook_index", i),
						slog.Any("panic", p))
				}
			}()
			fn(hookCtx)
		}()
	}
}
