package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pgArgs lets string slices through to the mock the way the pgx driver
// accepts them for array columns.
type pgArgs struct{}

func (pgArgs) ConvertValue(v any) (driver.Value, error) {
	if s, ok := v.([]string); ok {
		return s, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(pgArgs{}))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

func TestAccountStore_ApplyDeltaIsRelative(t *testing.T) {
	db, mock := newMock(t)
	accounts := NewPostgresAccountStore(db, quiet())
	id := uuid.New()

	mock.ExpectExec(q("SET balance = balance + $1")).
		WithArgs("-42.1", id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, accounts.ApplyDelta(context.Background(), id, decimal.RequireFromString("-42.10")))

	mock.ExpectExec(q("SET balance = balance + $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := accounts.ApplyDelta(context.Background(), uuid.New(), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestAccountStore_GetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("FROM accounts")).WillReturnError(sql.ErrNoRows)

	_, err := NewPostgresAccountStore(db, quiet()).GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestTransactionStore_CreateAndScan(t *testing.T) {
	db, mock := newMock(t)
	txns := NewPostgresTransactionStore(db, quiet())
	ctx := context.Background()

	source := uuid.New()
	txn := &domain.Transaction{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		AccountID:       uuid.New(),
		Type:            domain.TransactionTypeExpense,
		Amount:          decimal.RequireFromString("12.50"),
		Description:     "Corner Market",
		TransactionDate: time.Date(2024, 3, 2, 15, 4, 5, 0, time.UTC),
		Source:          domain.SourceCSVImport,
		SourceID:        &source,
	}

	mock.ExpectExec(q("INSERT INTO transactions")).
		WithArgs(txn.ID.String(), txn.UserID.String(), txn.AccountID.String(), nil, nil,
			"EXPENSE", "12.5", "Corner Market", "", []string{},
			time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), "CSV_IMPORT", source.String(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, txns.Create(ctx, txn))
	assert.False(t, txn.CreatedAt.IsZero())

	cols := []string{"id", "user_id", "account_id", "transfer_account_id", "category_id", "type", "amount",
		"description", "notes", "tags", "transaction_date", "source", "source_id", "created_at"}
	mock.ExpectQuery(q("FROM transactions")).
		WithArgs(txn.ID.String()).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			txn.ID.String(), txn.UserID.String(), txn.AccountID.String(), nil, nil, "EXPENSE", "12.5000",
			"Corner Market", "", "{food,weekly}", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
			"CSV_IMPORT", source.String(), time.Now()))

	got, err := txns.GetByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(txn.Amount))
	assert.Equal(t, []string{"food", "weekly"}, got.Tags)
	require.NotNil(t, got.SourceID)
	assert.Equal(t, source, *got.SourceID)
	assert.Nil(t, got.CategoryID)
}

func TestTransactionStore_CreateRejectsInvalid(t *testing.T) {
	db, _ := newMock(t)
	err := NewPostgresTransactionStore(db, quiet()).Create(context.Background(), &domain.Transaction{ID: uuid.New()})
	assert.Error(t, err)
}

func TestBatchStore_ClaimStuckLeasesInOneStatement(t *testing.T) {
	db, mock := newMock(t)
	batches := NewPostgresBatchStore(db, quiet())

	cutoff := time.Now().Add(-10 * time.Minute)
	lease := time.Now().Add(15 * time.Minute)
	id, user, account := uuid.New(), uuid.New(), uuid.New()

	cols := []string{"id", "user_id", "account_id", "file_name", "file_size", "total_rows", "valid_rows",
		"duplicate_rows", "error_rows", "imported_rows", "status", "raw_content", "verdicts", "skip_duplicates",
		"job_execution_id", "error_message", "claim_expires_at", "created_at", "updated_at", "completed_at"}
	mock.ExpectQuery(`UPDATE import_batches\s+SET claim_expires_at = \$2.*FOR UPDATE SKIP LOCKED.*RETURNING`).
		WithArgs(cutoff, lease, 5).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			id.String(), user.String(), account.String(), "march.csv", int64(120), 2, 2,
			0, 0, 0, "IMPORTING", "raw", []byte(`[{"row_number":1,"status":"VALID"}]`), true,
			nil, "", lease, time.Now(), cutoff.Add(-time.Minute), nil))

	claimed, err := batches.ClaimStuck(context.Background(), cutoff, lease, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
	assert.Nil(t, claimed[0].JobExecutionID)
	require.NotNil(t, claimed[0].ClaimExpiresAt)
	require.Len(t, claimed[0].Verdicts, 1)
	assert.Equal(t, domain.RowStatusValid, claimed[0].Verdicts[0].Status)
}

func TestBatchStore_LinkExecution(t *testing.T) {
	ctx := context.Background()
	batchID, execID := uuid.New(), uuid.New()

	t.Run("linked", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(q("SET job_execution_id = $2")).
			WithArgs(batchID.String(), execID.String()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		ok, err := NewPostgresBatchStore(db, quiet()).LinkExecution(ctx, batchID, execID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("only while the execution is running", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(q("WHERE id = $2 AND status = 'RUNNING'")).
			WithArgs(batchID.String(), execID.String()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("SELECT EXISTS")).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		ok, err := NewPostgresBatchStore(db, quiet()).LinkExecution(ctx, batchID, execID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("owned by another execution", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(q("SET job_execution_id = $2")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("SELECT EXISTS")).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		ok, err := NewPostgresBatchStore(db, quiet()).LinkExecution(ctx, batchID, execID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(q("SET job_execution_id = $2")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("SELECT EXISTS")).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		_, err := NewPostgresBatchStore(db, quiet()).LinkExecution(ctx, batchID, execID)
		assert.ErrorIs(t, err, store.ErrBatchNotFound)
	})
}

func TestStatementStore_NotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("FROM statement_imports")).WillReturnError(sql.ErrNoRows)
	_, err := NewPostgresStatementStore(db, quiet()).GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrStatementNotFound)

	mock.ExpectQuery(q("FROM statement_imports WHERE job_execution_id = $1")).WillReturnError(sql.ErrNoRows)
	_, err = NewPostgresStatementStore(db, quiet()).GetByExecution(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrStatementNotFound)

	mock.ExpectExec(q("UPDATE statement_imports")).WillReturnResult(sqlmock.NewResult(0, 0))
	err = NewPostgresStatementStore(db, quiet()).Update(context.Background(), &domain.StatementImport{ID: uuid.New()})
	assert.ErrorIs(t, err, store.ErrStatementNotFound)
}

func TestCredentialStore(t *testing.T) {
	ctx := context.Background()

	t.Run("user key", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(q("FROM llm_credentials")).WillReturnRows(sqlmock.NewRows([]string{"api_key"}).AddRow("k-123"))
		key, err := NewPostgresCredentialStore(db).GetUserKey(ctx, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, "k-123", key)
	})

	t.Run("no user key", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(q("FROM llm_credentials")).WillReturnError(sql.ErrNoRows)
		_, err := NewPostgresCredentialStore(db).GetUserKey(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrCredentialNotFound)
	})

	t.Run("missing settings row", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(q("FROM llm_settings")).WillReturnError(sql.ErrNoRows)
		key, enabled, err := NewPostgresCredentialStore(db).GetSharedKey(ctx)
		require.NoError(t, err)
		assert.Empty(t, key)
		assert.False(t, enabled)
	})
}

func TestRecurringStore_ListDueNormalizesDates(t *testing.T) {
	db, mock := newMock(t)
	today := time.Date(2024, 1, 31, 18, 30, 0, 0, time.UTC)

	cols := []string{"id", "user_id", "account_id", "category_id", "amount", "type", "description", "frequency",
		"day_of_month", "start_date", "end_date", "status", "next_execution_date", "last_executed_at", "created_at", "updated_at"}
	id := uuid.New()
	mock.ExpectQuery(q("WHERE status = 'ACTIVE' AND next_execution_date <= $1")).
		WithArgs(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			id.String(), uuid.NewString(), uuid.NewString(), nil, "50.0000", "EXPENSE", "Gym", "MONTHLY",
			31, time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC), nil, "ACTIVE",
			time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), nil, time.Now(), time.Now()))

	due, err := NewPostgresRecurringStore(db, quiet()).ListDue(context.Background(), today)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)
	assert.Nil(t, due[0].EndDate)
	assert.Equal(t, 31, due[0].DayOfMonth)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), due[0].NextExecutionAfter(today))
}

func TestJobStore_CreateExecutionWritesStepsInOneStatement(t *testing.T) {
	db, mock := newMock(t)
	exec, err := domain.NewJobExecution("csv-import", domain.TriggerManual, "validate", "insert")
	require.NoError(t, err)

	mock.ExpectExec(`WITH execution AS \(\s+INSERT INTO job_executions.*INSERT INTO job_step_executions.*VALUES \(\$10, .*\$18\), \(\$19, .*\$27\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, NewPostgresJobStore(db, quiet()).CreateExecution(context.Background(), exec))
}

func TestJobStore_SaveExecutionMissing(t *testing.T) {
	db, mock := newMock(t)
	exec, err := domain.NewJobExecution("csv-import", domain.TriggerManual, "validate")
	require.NoError(t, err)

	mock.ExpectExec(q("UPDATE job_step_executions AS s")).WillReturnResult(sqlmock.NewResult(0, 0))
	err = NewPostgresJobStore(db, quiet()).SaveExecution(context.Background(), exec)
	assert.ErrorIs(t, err, store.ErrExecutionNotFound)
}

func TestJobStore_CreateDefinitionDuplicate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q("INSERT INTO job_definitions")).
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "job_definitions_pkey"})
	err := NewPostgresJobStore(db, quiet()).CreateDefinition(context.Background(), &domain.JobDefinition{Name: "sweeper", Cron: "@every 5m"})
	assert.ErrorIs(t, err, store.ErrJobExists)
}

func TestJobStore_GetExecutionLoadsSteps(t *testing.T) {
	db, mock := newMock(t)
	id := uuid.New()
	started := time.Now().UTC().Add(-time.Minute)

	mock.ExpectQuery(q("FROM job_executions WHERE id = $1")).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_name", "status", "trigger", "started_at", "ended_at",
			"total_steps", "completed_steps", "error_message"}).
			AddRow(id.String(), "recurring-transactions", "COMPLETED", "SCHEDULED", started, started, 1, 1, ""))
	mock.ExpectQuery(q("FROM job_step_executions")).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "execution_id", "name", "step_order", "status",
			"started_at", "ended_at", "context", "error_message"}).
			AddRow(uuid.NewString(), id.String(), "process-due", 1, "COMPLETED", started, started,
				[]byte(`{"due_count":2,"failed_ids":[]}`), ""))

	exec, err := NewPostgresJobStore(db, quiet()).GetExecution(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, exec.Steps, 1)
	assert.EqualValues(t, 2, exec.Steps[0].Context[domain.CtxDueCount])
	assert.NotNil(t, exec.EndedAt)
}

func TestTransactor_RunsHooksOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		db, mock := newMock(t)
		tx := NewTransactor(db, quiet())
		mock.ExpectBegin()
		mock.ExpectExec(q("SET balance = balance + $1")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		ran := false
		err := tx.InTx(ctx, func(ctx context.Context, repos store.Repositories) error {
			store.AfterCommit(ctx, func(context.Context) { ran = true })
			assert.False(t, ran)
			return repos.Accounts.ApplyDelta(ctx, uuid.New(), decimal.NewFromInt(5))
		})
		require.NoError(t, err)
		assert.True(t, ran)
	})

	t.Run("rollback", func(t *testing.T) {
		db, mock := newMock(t)
		tx := NewTransactor(db, quiet())
		mock.ExpectBegin()
		mock.ExpectRollback()

		ran := false
		boom := errors.New("boom")
		err := tx.InTx(ctx, func(ctx context.Context, _ store.Repositories) error {
			store.AfterCommit(ctx, func(context.Context) { ran = true })
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, ran)
	})
}
