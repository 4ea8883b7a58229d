package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInTransaction_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectCommit()

	err = RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		return nil
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTransaction_FunctionError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectRollback()

	expectedErr := errors.New("function failed")
	err = RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		return expectedErr
	})
	assert.Equal(t, expectedErr, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTransaction_BeginTransactionError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	expectedErr := errors.New("begin transaction failed")
	mock.ExpectBegin().WillReturnError(expectedErr)

	err = RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		return nil
	})
	assert.ErrorContains(t, err, "failed to begin transaction")
	assert.ErrorIs(t, err, expectedErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTransaction_CommitError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	expectedErr := errors.New("commit failed")
	mock.ExpectCommit().WillReturnError(expectedErr)

	hookRan := false
	err = RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		AfterCommit(ctx, func(context.Context) { hookRan = true })
		return nil
	})
	assert.ErrorContains(t, err, "failed to commit transaction")
	assert.ErrorIs(t, err, expectedErr)
	assert.False(t, hookRan, "hooks must not run when commit fails")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTransaction_RollbackError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	functionErr := errors.New("function failed")
	mock.ExpectRollback().WillReturnError(errors.New("rollback failed"))

	err = RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		return functionErr
	})
	assert.ErrorContains(t, err, "error rolling back transaction")
	assert.ErrorContains(t, err, "rollback failed")
	assert.ErrorIs(t, err, functionErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTransaction_Panic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
			panic("test panic")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTransaction_HooksRunAfterCommitOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var order []string

	mock.ExpectBegin()
	mock.ExpectCommit()
	err = RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		assert.True(t, InTransaction(ctx))
		AfterCommit(ctx, func(context.Context) { order = append(order, "first") })
		AfterCommit(ctx, func(context.Context) { order = append(order, "second") })
		order = append(order, "body")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"body", "first", "second"}, order)

	order = nil
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		AfterCommit(ctx, func(context.Context) { order = append(order, "hook") })
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Empty(t, order, "hooks must be dropped on rollback")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAfterCommit_OutsideTransactionRunsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	AfterCommit(ctx, func(hookCtx context.Context) {
		ran = true
		assert.NoError(t, hookCtx.Err(), "hook context must not inherit cancellation")
	})
	assert.True(t, ran)
	assert.False(t, InTransaction(context.Background()))
}

func TestCommitHooks_RunOnceAndSurvivePanics(t *testing.T) {
	ctx, hooks := WithCommitHooks(context.Background())

	calls := 0
	AfterCommit(ctx, func(context.Context) { panic("hook failure") })
	AfterCommit(ctx, func(context.Context) { calls++ })
	assert.Equal(t, 2, hooks.Len())

	hooks.Run(context.Background())
	hooks.Run(context.Background())
	assert.Equal(t, 1, calls)

	// Registering after the hooks ran executes immediately.
	AfterCommit(ctx, func(context.Context) { calls++ })
	assert.Equal(t, 2, calls)
	assert.False(t, InTransaction(ctx))
}

func TestErrorFamilies(t *testing.T) {
	for _, err := range []error{
		ErrAccountNotFound, ErrBatchNotFound, ErrStatementNotFound,
		ErrRecurringNotFound, ErrJobNotFound, ErrExecutionNotFound, ErrCredentialNotFound,
	} {
		assert.True(t, IsNotFoundError(err), "%v should be a not-found error", err)
		assert.False(t, IsDuplicateError(err))
	}
	assert.True(t, IsDuplicateError(ErrJobExists))

	storeErr := NewStoreError("import_batch", "update", "no rows", ErrBatchNotFound)
	assert.Equal(t, "update operation on import_batch failed: no rows: entity not found: import batch", storeErr.Error())
	assert.ErrorIs(t, storeErr, ErrNotFound)
	assert.Equal(t, "create operation on job failed: boom", NewStoreError("job", "create", "boom", nil).Error())
}
