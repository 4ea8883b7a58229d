package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/phrazzld/fintrack-api/internal/config"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// Open establishes a connection pool and verifies it with a ping.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns))
	return db, nil
}

// Transactor implements store.Transactor on a *sql.DB.
type Transactor struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.Transactor = (*Transactor)(nil)

// NewTransactor creates a Transactor over db.
func NewTransactor(db *sql.DB, logger *slog.Logger) *Transactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transactor{db: db, logger: logger}
}

// Repos returns repositories that auto-commit every call.
func (t *Transactor) Repos() store.Repositories {
	return NewRepositories(t.db, t.logger)
}

// InTx runs fn with repositories bound to one transaction. Hooks registered
// through store.AfterCommit run after a successful commit.
func (t *Transactor) InTx(ctx context.Context, fn store.RepoFn) error {
	return store.RunInTransaction(ctx, t.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, NewRepositories(tx, t.logger))
	})
}

// NewRepositories builds every store over db.
func NewRepositories(db store.DBTX, logger *slog.Logger) store.Repositories {
	return store.Repositories{
		Accounts:     NewPostgresAccountStore(db, logger),
		Categories:   NewPostgresCategoryStore(db),
		Mappings:     NewPostgresMappingStore(db),
		Transactions: NewPostgresTransactionStore(db, logger),
		Batches:      NewPostgresBatchStore(db, logger),
		Statements:   NewPostgresStatementStore(db, logger),
		Credentials:  NewPostgresCredentialStore(db),
		Recurring:    NewPostgresRecurringStore(db, logger),
		Jobs:         NewPostgresJobStore(db, logger),
	}
}
