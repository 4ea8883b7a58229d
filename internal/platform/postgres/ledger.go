package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
	"github.com/phrazzld/fintrack-api/internal/store"
	"github.com/shopspring/decimal"
)

// PostgresAccountStore implements store.AccountStore.
type PostgresAccountStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.AccountStore = (*PostgresAccountStore)(nil)

// NewPostgresAccountStore creates a PostgresAccountStore.
func NewPostgresAccountStore(db store.DBTX, logger *slog.Logger) *PostgresAccountStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAccountStore{db: db, logger: logger.With(slog.String("component", "account_store"))}
}

// GetByID implements store.AccountStore.GetByID.
func (s *PostgresAccountStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var a domain.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, balance, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id).Scan(&a.ID, &a.UserID, &a.Name, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err, store.ErrAccountNotFound)
	}
	return &a, nil
}

// ApplyDelta implements store.AccountStore.ApplyDelta with a single
// relative UPDATE.
func (s *PostgresAccountStore) ApplyDelta(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
	`, delta, id)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to apply balance delta",
			slog.String("account_id", id.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrAccountNotFound)
}

// PostgresCategoryStore implements store.CategoryStore.
type PostgresCategoryStore struct {
	db store.DBTX
}

var _ store.CategoryStore = (*PostgresCategoryStore)(nil)

// NewPostgresCategoryStore creates a PostgresCategoryStore.
func NewPostgresCategoryStore(db store.DBTX) *PostgresCategoryStore {
	return &PostgresCategoryStore{db: db}
}

// ListByUser implements store.CategoryStore.ListByUser.
func (s *PostgresCategoryStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, type
		FROM categories
		WHERE user_id = $1
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PostgresMappingStore implements store.MerchantMappingStore.
type PostgresMappingStore struct {
	db store.DBTX
}

var _ store.MerchantMappingStore = (*PostgresMappingStore)(nil)

// NewPostgresMappingStore creates a PostgresMappingStore.
func NewPostgresMappingStore(db store.DBTX) *PostgresMappingStore {
	return &PostgresMappingStore{db: db}
}

// ListByUser implements store.MerchantMappingStore.ListByUser.
func (s *PostgresMappingStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.MerchantMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, m.pattern, m.category_id, c.name
		FROM merchant_mappings m
		JOIN categories c ON c.id = m.category_id
		WHERE m.user_id = $1
		ORDER BY m.pattern
	`, userID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.MerchantMapping
	for rows.Next() {
		var m domain.MerchantMapping
		if err := rows.Scan(&m.ID, &m.UserID, &m.Pattern, &m.CategoryID, &m.CategoryName); err != nil {
			return nil, fmt.Errorf("failed to scan merchant mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PostgresTransactionStore implements store.TransactionStore.
type PostgresTransactionStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.TransactionStore = (*PostgresTransactionStore)(nil)

// NewPostgresTransactionStore creates a PostgresTransactionStore.
func NewPostgresTransactionStore(db store.DBTX, logger *slog.Logger) *PostgresTransactionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTransactionStore{
		db:     db,
		logger: logger.With(slog.String("component", "transaction_store")),
	}
}

const transactionColumns = `id, user_id, account_id, transfer_account_id, category_id, type, amount,
	description, notes, tags, transaction_date, source, source_id, created_at`

// Create implements store.TransactionStore.Create.
func (s *PostgresTransactionStore) Create(ctx context.Context, txn *domain.Transaction) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := txn.Validate(); err != nil {
		log.Warn("transaction validation failed during create",
			slog.String("transaction_id", txn.ID.String()),
			slog.String("error", err.Error()))
		return err
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	tags := txn.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		txn.ID,
		txn.UserID,
		txn.AccountID,
		nullUUID(txn.TransferAccountID),
		nullUUID(txn.CategoryID),
		txn.Type,
		txn.Amount,
		txn.Description,
		txn.Notes,
		tags,
		domain.DateOf(txn.TransactionDate),
		txn.Source,
		nullUUID(txn.SourceID),
		txn.CreatedAt,
	)
	if err != nil {
		log.Error("failed to create transaction",
			slog.String("transaction_id", txn.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// GetByID implements store.TransactionStore.GetByID.
func (s *PostgresTransactionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	txn, err := s.scan(row)
	if err != nil {
		return nil, mapNotFound(err, store.ErrTransactionNotFound)
	}
	return txn, nil
}

// Delete implements store.TransactionStore.Delete.
func (s *PostgresTransactionStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrTransactionNotFound)
}

// ExistsExact implements store.TransactionStore.ExistsExact. Descriptions
// compare case-insensitively after trimming.
func (s *PostgresTransactionStore) ExistsExact(ctx context.Context, key store.DuplicateKey) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE user_id = $1
			  AND account_id = $2
			  AND transaction_date = $3
			  AND amount = $4
			  AND LOWER(BTRIM(description)) = LOWER(BTRIM($5))
		)
	`, key.UserID, key.AccountID, domain.DateOf(key.Date), key.Amount, key.Description).Scan(&exists)
	if err != nil {
		return false, MapError(err)
	}
	return exists, nil
}

// ListInRange implements store.TransactionStore.ListInRange.
func (s *PostgresTransactionStore) ListInRange(ctx context.Context, userID, accountID uuid.UUID, from, to time.Time) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1 AND account_id = $2 AND transaction_date BETWEEN $3 AND $4
		ORDER BY transaction_date, created_at
	`, userID, accountID, domain.DateOf(from), domain.DateOf(to))
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Transaction
	for rows.Next() {
		txn, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

// CountBySource implements store.TransactionStore.CountBySource.
func (s *PostgresTransactionStore) CountBySource(ctx context.Context, source domain.TransactionSource, sourceID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions WHERE source = $1 AND source_id = $2
	`, source, sourceID).Scan(&n)
	if err != nil {
		return 0, MapError(err)
	}
	return n, nil
}

// scan reads one row in transactionColumns order. A fresh pgtype.Map per
// call keeps the store safe for concurrent use.
func (s *PostgresTransactionStore) scan(row rowScanner) (*domain.Transaction, error) {
	var (
		txn                          domain.Transaction
		transfer, category, sourceID uuid.NullUUID
		tags                         []string
	)
	err := row.Scan(
		&txn.ID,
		&txn.UserID,
		&txn.AccountID,
		&transfer,
		&category,
		&txn.Type,
		&txn.Amount,
		&txn.Description,
		&txn.Notes,
		pgtype.NewMap().SQLScanner(&tags),
		&txn.TransactionDate,
		&txn.Source,
		&sourceID,
		&txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	txn.TransferAccountID = uuidPtr(transfer)
	txn.CategoryID = uuidPtr(category)
	txn.SourceID = uuidPtr(sourceID)
	txn.TransactionDate = domain.DateOf(txn.TransactionDate)
	if len(tags) > 0 {
		txn.Tags = tags
	}
	return &txn, nil
}
