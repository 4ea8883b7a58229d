package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// PostgresBatchStore implements store.ImportBatchStore.
type PostgresBatchStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.ImportBatchStore = (*PostgresBatchStore)(nil)

// NewPostgresBatchStore creates a PostgresBatchStore.
func NewPostgresBatchStore(db store.DBTX, logger *slog.Logger) *PostgresBatchStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresBatchStore{db: db, logger: logger.With(slog.String("component", "import_batch_store"))}
}

const batchColumns = `id, user_id, account_id, file_name, file_size, total_rows, valid_rows,
	duplicate_rows, error_rows, imported_rows, status, raw_content, verdicts, skip_duplicates,
	job_execution_id, error_message, claim_expires_at, created_at, updated_at, completed_at`

// Create implements store.ImportBatchStore.Create.
func (s *PostgresBatchStore) Create(ctx context.Context, b *domain.ImportBatch) error {
	verdicts, err := jsonArg(b.Verdicts)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		b.ID, b.UserID, b.AccountID, b.FileName, b.FileSize,
		b.TotalRows, b.ValidRows, b.DuplicateRows, b.ErrorRows, b.ImportedRows,
		b.Status, b.RawContent, verdicts, b.SkipDuplicates,
		nullUUID(b.JobExecutionID), b.ErrorMessage, nullTime(b.ClaimExpiresAt),
		b.CreatedAt, b.UpdatedAt, nullTime(b.CompletedAt),
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create import batch",
			slog.String("batch_id", b.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// GetByID implements store.ImportBatchStore.GetByID.
func (s *PostgresBatchStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ImportBatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE id = $1`, id)
	b, err := scanBatch(row)
	if err != nil {
		return nil, mapNotFound(err, store.ErrBatchNotFound)
	}
	return b, nil
}

// Update implements store.ImportBatchStore.Update. The claim lease is left
// alone; only ClaimStuck writes it.
func (s *PostgresBatchStore) Update(ctx context.Context, b *domain.ImportBatch) error {
	verdicts, err := jsonArg(b.Verdicts)
	if err != nil {
		return err
	}
	b.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE import_batches
		SET total_rows = $2, valid_rows = $3, duplicate_rows = $4, error_rows = $5,
		    imported_rows = $6, status = $7, verdicts = $8, skip_duplicates = $9,
		    job_execution_id = $10, error_message = $11, updated_at = $12, completed_at = $13
		WHERE id = $1
	`,
		b.ID, b.TotalRows, b.ValidRows, b.DuplicateRows, b.ErrorRows,
		b.ImportedRows, b.Status, verdicts, b.SkipDuplicates,
		nullUUID(b.JobExecutionID), b.ErrorMessage, b.UpdatedAt, nullTime(b.CompletedAt),
	)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrBatchNotFound)
}

// LinkExecution implements store.ImportBatchStore.LinkExecution as a
// conditional UPDATE, so two workers can never both own a batch and a
// finished execution can never take one.
func (s *PostgresBatchStore) LinkExecution(ctx context.Context, batchID, execID uuid.UUID) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE import_batches
		SET job_execution_id = $2, updated_at = NOW()
		WHERE id = $1
		  AND status = 'IMPORTING'
		  AND (job_execution_id IS NULL OR job_execution_id = $2)
		  AND EXISTS (
			SELECT 1 FROM job_executions
			WHERE id = $2 AND status = 'RUNNING'
		  )
	`, batchID, execID)
	if err != nil {
		return false, MapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Distinguish a missing batch from one owned elsewhere.
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM import_batches WHERE id = $1)`, batchID).Scan(&exists); err != nil {
		return false, MapError(err)
	}
	if !exists {
		return false, store.ErrBatchNotFound
	}
	return false, nil
}

// UnlinkExecution implements store.ImportBatchStore.UnlinkExecution.
func (s *PostgresBatchStore) UnlinkExecution(ctx context.Context, execID uuid.UUID) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE import_batches
		SET job_execution_id = NULL
		WHERE status = 'IMPORTING' AND job_execution_id = $1
	`, execID)
	if err != nil {
		return 0, MapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// ClaimStuck implements store.ImportBatchStore.ClaimStuck. Candidates are
// locked with SKIP LOCKED and leased in the same statement, so concurrent
// sweeps partition the stuck batches instead of sharing them.
func (s *PostgresBatchStore) ClaimStuck(ctx context.Context, cutoff, leaseUntil time.Time, limit int) ([]domain.ImportBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE import_batches
		SET claim_expires_at = $2
		WHERE id IN (
			SELECT id FROM import_batches
			WHERE status = 'IMPORTING'
			  AND job_execution_id IS NULL
			  AND updated_at < $1
			  AND (claim_expires_at IS NULL OR claim_expires_at <= NOW())
			ORDER BY updated_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+batchColumns, cutoff, leaseUntil, limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ImportBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import batch: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) > 0 {
		logger.FromContextOrDefault(ctx, s.logger).Info("claimed stuck import batches",
			slog.Int("count", len(out)),
			slog.Time("lease_until", leaseUntil))
	}
	return out, nil
}

func scanBatch(row rowScanner) (*domain.ImportBatch, error) {
	var (
		b                domain.ImportBatch
		verdicts         []byte
		execID           uuid.NullUUID
		claim, completed sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.UserID, &b.AccountID, &b.FileName, &b.FileSize,
		&b.TotalRows, &b.ValidRows, &b.DuplicateRows, &b.ErrorRows, &b.ImportedRows,
		&b.Status, &b.RawContent, &verdicts, &b.SkipDuplicates,
		&execID, &b.ErrorMessage, &claim, &b.CreatedAt, &b.UpdatedAt, &completed,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(verdicts, &b.Verdicts); err != nil {
		return nil, err
	}
	b.JobExecutionID = uuidPtr(execID)
	b.ClaimExpiresAt = timePtr(claim)
	b.CompletedAt = timePtr(completed)
	return &b, nil
}
