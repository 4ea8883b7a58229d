package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// PostgresStatementStore implements store.StatementStore. Parsed rows are
// kept as a JSONB array on the statement row.
type PostgresStatementStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.StatementStore = (*PostgresStatementStore)(nil)

// NewPostgresStatementStore creates a PostgresStatementStore.
func NewPostgresStatementStore(db store.DBTX, logger *slog.Logger) *PostgresStatementStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStatementStore{db: db, logger: logger.With(slog.String("component", "statement_store"))}
}

const statementColumns = `id, user_id, account_id, file_name, archive_uri, status, current_step,
	extracted_text, parsed_rows, parsed_count, duplicate_count, imported_count,
	exclude_duplicates, job_execution_id, error_message, created_at, updated_at`

// Create implements store.StatementStore.Create.
func (s *PostgresStatementStore) Create(ctx context.Context, st *domain.StatementImport) error {
	rows, err := jsonArg(st.ParsedRows)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO statement_imports (`+statementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		st.ID, st.UserID, st.AccountID, st.FileName, st.ArchiveURI, st.Status, st.CurrentStep,
		st.ExtractedText, rows, st.ParsedCount, st.DuplicateCount, st.ImportedCount,
		st.ExcludeDuplicates, nullUUID(st.JobExecutionID), st.ErrorMessage, st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create statement import",
			slog.String("statement_id", st.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// GetByID implements store.StatementStore.GetByID.
func (s *PostgresStatementStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.StatementImport, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+statementColumns+` FROM statement_imports WHERE id = $1`, id)
	return scanStatement(row)
}

// GetByExecution implements store.StatementStore.GetByExecution.
func (s *PostgresStatementStore) GetByExecution(ctx context.Context, execID uuid.UUID) (*domain.StatementImport, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+statementColumns+` FROM statement_imports WHERE job_execution_id = $1`, execID)
	return scanStatement(row)
}

func scanStatement(row rowScanner) (*domain.StatementImport, error) {
	var (
		st     domain.StatementImport
		rows   []byte
		execID uuid.NullUUID
	)
	err := row.Scan(
		&st.ID, &st.UserID, &st.AccountID, &st.FileName, &st.ArchiveURI, &st.Status, &st.CurrentStep,
		&st.ExtractedText, &rows, &st.ParsedCount, &st.DuplicateCount, &st.ImportedCount,
		&st.ExcludeDuplicates, &execID, &st.ErrorMessage, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, mapNotFound(err, store.ErrStatementNotFound)
	}
	if err := decodeJSON(rows, &st.ParsedRows); err != nil {
		return nil, err
	}
	st.JobExecutionID = uuidPtr(execID)
	return &st, nil
}

// Update implements store.StatementStore.Update.
func (s *PostgresStatementStore) Update(ctx context.Context, st *domain.StatementImport) error {
	rows, err := jsonArg(st.ParsedRows)
	if err != nil {
		return err
	}
	st.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE statement_imports
		SET archive_uri = $2, status = $3, current_step = $4, parsed_rows = $5,
		    parsed_count = $6, duplicate_count = $7, imported_count = $8,
		    exclude_duplicates = $9, job_execution_id = $10, error_message = $11, updated_at = $12
		WHERE id = $1
	`,
		st.ID, st.ArchiveURI, st.Status, st.CurrentStep, rows,
		st.ParsedCount, st.DuplicateCount, st.ImportedCount,
		st.ExcludeDuplicates, nullUUID(st.JobExecutionID), st.ErrorMessage, st.UpdatedAt,
	)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrStatementNotFound)
}

// PostgresCredentialStore implements store.CredentialStore.
type PostgresCredentialStore struct {
	db store.DBTX
}

var _ store.CredentialStore = (*PostgresCredentialStore)(nil)

// NewPostgresCredentialStore creates a PostgresCredentialStore.
func NewPostgresCredentialStore(db store.DBTX) *PostgresCredentialStore {
	return &PostgresCredentialStore{db: db}
}

// GetUserKey implements store.CredentialStore.GetUserKey.
func (s *PostgresCredentialStore) GetUserKey(ctx context.Context, userID uuid.UUID) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `SELECT api_key FROM llm_credentials WHERE user_id = $1`, userID).Scan(&key)
	if err != nil {
		return "", mapNotFound(err, store.ErrCredentialNotFound)
	}
	if key == "" {
		return "", store.ErrCredentialNotFound
	}
	return key, nil
}

// GetSharedKey implements store.CredentialStore.GetSharedKey. A missing
// settings row reads as no shared key.
func (s *PostgresCredentialStore) GetSharedKey(ctx context.Context) (string, bool, error) {
	var (
		key     string
		enabled bool
	)
	err := s.db.QueryRowContext(ctx, `SELECT shared_api_key, shared_enabled FROM llm_settings WHERE id`).Scan(&key, &enabled)
	if err != nil {
		err = MapError(err)
		if store.IsNotFoundError(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return key, enabled, nil
}
