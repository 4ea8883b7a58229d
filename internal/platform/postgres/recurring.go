package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// PostgresRecurringStore implements store.RecurringStore.
type PostgresRecurringStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.RecurringStore = (*PostgresRecurringStore)(nil)

// NewPostgresRecurringStore creates a PostgresRecurringStore.
func NewPostgresRecurringStore(db store.DBTX, logger *slog.Logger) *PostgresRecurringStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRecurringStore{db: db, logger: logger.With(slog.String("component", "recurring_store"))}
}

const recurringColumns = `id, user_id, account_id, category_id, amount, type, description, frequency,
	day_of_month, start_date, end_date, status, next_execution_date, last_executed_at, created_at, updated_at`

// Create implements store.RecurringStore.Create.
func (s *PostgresRecurringStore) Create(ctx context.Context, def *domain.RecurringDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recurring_transactions (`+recurringColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		def.ID, def.UserID, def.AccountID, nullUUID(def.CategoryID), def.Amount, def.Type,
		def.Description, def.Frequency, def.DayOfMonth, domain.DateOf(def.StartDate),
		nullDate(def.EndDate), def.Status, domain.DateOf(def.NextExecutionDate),
		nullTime(def.LastExecutedAt), def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		return MapError(err)
	}
	return nil
}

// GetByID implements store.RecurringStore.GetByID.
func (s *PostgresRecurringStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.RecurringDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recurringColumns+` FROM recurring_transactions WHERE id = $1`, id)
	def, err := scanRecurring(row)
	if err != nil {
		return nil, mapNotFound(err, store.ErrRecurringNotFound)
	}
	return def, nil
}

// ListDue implements store.RecurringStore.ListDue.
func (s *PostgresRecurringStore) ListDue(ctx context.Context, today time.Time) ([]domain.RecurringDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recurringColumns+`
		FROM recurring_transactions
		WHERE status = 'ACTIVE' AND next_execution_date <= $1
		ORDER BY next_execution_date, id
	`, domain.DateOf(today))
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.RecurringDefinition
	for rows.Next() {
		def, err := scanRecurring(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurring definition: %w", err)
		}
		out = append(out, *def)
	}
	return out, rows.Err()
}

// Update implements store.RecurringStore.Update.
func (s *PostgresRecurringStore) Update(ctx context.Context, def *domain.RecurringDefinition) error {
	def.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE recurring_transactions
		SET status = $2, next_execution_date = $3, last_executed_at = $4, updated_at = $5
		WHERE id = $1
	`, def.ID, def.Status, domain.DateOf(def.NextExecutionDate), nullTime(def.LastExecutedAt), def.UpdatedAt)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrRecurringNotFound)
}

func nullDate(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: domain.DateOf(*t), Valid: true}
}

func scanRecurring(row rowScanner) (*domain.RecurringDefinition, error) {
	var (
		def          domain.RecurringDefinition
		category     uuid.NullUUID
		end, lastRun sql.NullTime
	)
	err := row.Scan(
		&def.ID, &def.UserID, &def.AccountID, &category, &def.Amount, &def.Type,
		&def.Description, &def.Frequency, &def.DayOfMonth, &def.StartDate,
		&end, &def.Status, &def.NextExecutionDate, &lastRun, &def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	def.CategoryID = uuidPtr(category)
	def.EndDate = timePtr(end)
	def.LastExecutedAt = timePtr(lastRun)
	def.StartDate = domain.DateOf(def.StartDate)
	def.NextExecutionDate = domain.DateOf(def.NextExecutionDate)
	return &def, nil
}
