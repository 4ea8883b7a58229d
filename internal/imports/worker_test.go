package imports

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImport_ScenarioB_SkipDuplicates(t *testing.T) {
	f := newFixture(t, true)
	f.seedTransaction(t, "2024-03-03", "19.99", "Streaming", domain.TransactionTypeExpense)
	before := f.store.Balance(f.account.ID)

	batch := f.upload(t, csvOf(
		"2024-03-01,1000,INCOME,Payroll,Salary",
		"2024-03-02,42.10,EXPENSE,Corner Market,Groceries",
		"2024-03-03,19.99,EXPENSE,Streaming,Groceries",
	))
	require.Equal(t, 2, batch.ValidRows)
	require.Equal(t, 1, batch.DuplicateRows)

	_, err := f.svc.Confirm(context.Background(), f.userID, batch.ID, true)
	require.NoError(t, err)
	assert.Empty(t, f.runner.errs)

	imported := f.importedFrom(batch.ID)
	assert.Len(t, imported, 2)
	assert.True(t, before.Add(dec("957.90")).Equal(f.store.Balance(f.account.ID)),
		"balance moves by the signed sum of the two inserted rows")

	stored := f.batch(t, batch.ID)
	assert.Equal(t, domain.BatchStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.ImportedRows)
	assert.NotNil(t, stored.CompletedAt)
	require.NotNil(t, stored.JobExecutionID)

	exec := f.execution(t, *stored.JobExecutionID)
	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 4, exec.CompletedSteps)
	dupStep, err := exec.Step(StepDuplicateCheck)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dupStep.Context[domain.CtxSkipped])
}

func TestImport_DuplicatesKeptWithoutSkip(t *testing.T) {
	f := newFixture(t, true)
	f.seedTransaction(t, "2024-03-03", "19.99", "Streaming", domain.TransactionTypeExpense)

	batch := f.upload(t, csvOf(
		"2024-03-02,42.10,EXPENSE,Corner Market,Groceries",
		"2024-03-03,19.99,EXPENSE,Streaming,Groceries",
	))
	_, err := f.svc.Confirm(context.Background(), f.userID, batch.ID, false)
	require.NoError(t, err)

	assert.Len(t, f.importedFrom(batch.ID), 2)
	assert.Equal(t, 2, f.batch(t, batch.ID).ImportedRows)
}

func TestImport_ThenReverseRestoresBalances(t *testing.T) {
	f := newFixture(t, true)
	before := f.store.Balance(f.account.ID)

	batch := f.upload(t, csvOf(
		"2024-03-01,1000,INCOME,Payroll,Salary",
		"2024-03-02,42.10,EXPENSE,Corner Market,Groceries",
		"2024-03-04,7.35,EXPENSE,Bakery,Groceries",
	))
	_, err := f.svc.Confirm(context.Background(), f.userID, batch.ID, false)
	require.NoError(t, err)
	require.False(t, before.Equal(f.store.Balance(f.account.ID)))

	for _, txn := range f.importedFrom(batch.ID) {
		require.NoError(t, f.poster.Reverse(context.Background(), f.store.Repos(), txn.ID))
	}
	assert.True(t, before.Equal(f.store.Balance(f.account.ID)))
}

func TestImport_RevalidatesFromRawPayload(t *testing.T) {
	f := newFixture(t, true)
	batch := f.upload(t, csvOf(
		"2024-03-01,42.10,EXPENSE,Corner Market,Groceries",
		"2024-03-02,-5,EXPENSE,Coffee,Groceries",
	))

	// Tamper with the cached verdicts: the invalid row now claims to be valid.
	stale := f.batch(t, batch.ID)
	stale.Verdicts[1].Status = domain.RowStatusValid
	stale.Verdicts[1].Errors = nil
	f.store.PutBatch(*stale)

	_, err := f.svc.Confirm(context.Background(), f.userID, batch.ID, false)
	require.NoError(t, err)

	imported := f.importedFrom(batch.ID)
	require.Len(t, imported, 1)
	assert.Equal(t, "Corner Market", imported[0].Description)
	stored := f.batch(t, batch.ID)
	assert.Equal(t, 1, stored.ErrorRows)
	assert.Equal(t, domain.RowStatusError, stored.Verdicts[1].Status)
}

func TestImport_PartialInsertFailureCompletes(t *testing.T) {
	f := newFixture(t, true)
	f.store.Faults.CreateTransaction = func(txn *domain.Transaction) error {
		if txn.Description == "Bakery" {
			return errors.New("constraint violation")
		}
		return nil
	}
	before := f.store.Balance(f.account.ID)

	batch := f.upload(t, csvOf(
		"2024-03-02,42.10,EXPENSE,Corner Market,Groceries",
		"2024-03-04,7.35,EXPENSE,Bakery,Groceries",
	))
	_, err := f.svc.Confirm(context.Background(), f.userID, batch.ID, false)
	require.NoError(t, err)

	stored := f.batch(t, batch.ID)
	assert.Equal(t, domain.BatchStatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.ImportedRows)
	assert.Equal(t, "1 of 2 rows failed to insert", stored.ErrorMessage)
	assert.True(t, before.Sub(dec("42.10")).Equal(f.store.Balance(f.account.ID)),
		"the failed row leaves no balance change behind")

	exec := f.execution(t, *stored.JobExecutionID)
	insert, err := exec.Step(StepInsert)
	require.NoError(t, err)
	assert.Equal(t, domain.StepStatusCompleted, insert.Status)
	assert.EqualValues(t, 1, insert.Context[domain.CtxFailed])
}

func TestImport_AllRowsFailedFailsInsertStep(t *testing.T) {
	f := newFixture(t, true)
	f.store.Faults.CreateTransaction = func(*domain.Transaction) error { return errors.New("ledger offline") }
	before := f.store.Balance(f.account.ID)

	batch := f.upload(t, csvOf(
		"2024-03-02,42.10,EXPENSE,Corner Market,Groceries",
		"2024-03-04,7.35,EXPENSE,Bakery,Groceries",
	))
	_, err := f.svc.Confirm(context.Background(), f.userID, batch.ID, false)
	require.NoError(t, err, "async failures never reach the confirming caller")
	require.Len(t, f.runner.errs, 1)
	assert.ErrorIs(t, f.runner.errs[0], ErrAllRowsFailed)

	stored := f.batch(t, batch.ID)
	assert.Equal(t, domain.BatchStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "every accepted row failed to insert")
	assert.Zero(t, stored.ImportedRows)
	assert.True(t, before.Equal(f.store.Balance(f.account.ID)))

	exec := f.execution(t, *stored.JobExecutionID)
	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, map[string]domain.StepStatus{
		StepRevalidate:     domain.StepStatusCompleted,
		StepDuplicateCheck: domain.StepStatusCompleted,
		StepInsert:         domain.StepStatusFailed,
		StepSummarize:      domain.StepStatusPending,
	}, stepStatuses(exec))
	assert.Equal(t, 2, exec.CompletedSteps)
}

func TestImport_NoAcceptedRowsCompletes(t *testing.T) {
	f := newFixture(t, true)
	batch := f.upload(t, csvOf("2024-03-02,-1,EXPENSE,Corner Market,Groceries"))

	_, err := f.svc.Confirm(context.Background(), f.userID, batch.ID, true)
	require.NoError(t, err)

	stored := f.batch(t, batch.ID)
	assert.Equal(t, domain.BatchStatusCompleted, stored.Status)
	assert.Zero(t, stored.ImportedRows)
}

func TestProcess_LostClaimFailsExecution(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	batch := f.upload(t, csvOf("2024-03-02,42.10,EXPENSE,Corner Market,Groceries"))
	_, err := f.svc.Confirm(ctx, f.userID, batch.ID, false)
	require.NoError(t, err)
	first := f.recorder.requests(t)[0]

	// A second execution got the batch first.
	other, err := domain.NewJobExecution(JobName, domain.TriggerScheduled, StepNames...)
	require.NoError(t, err)
	f.store.PutExecution(other)
	require.NoError(t, f.svc.Process(ctx, batch.ID, other.ID))

	err = f.svc.Process(ctx, first.BatchID, first.ExecutionID)
	require.Error(t, err)

	lost := f.execution(t, first.ExecutionID)
	assert.Equal(t, domain.ExecutionStatusFailed, lost.Status)
	assert.Len(t, f.importedFrom(batch.ID), 1, "the batch is imported exactly once")
}

func TestProcess_MissingBatch(t *testing.T) {
	f := newFixture(t, false)
	exec, err := domain.NewJobExecution(JobName, domain.TriggerManual, StepNames...)
	require.NoError(t, err)
	f.store.PutExecution(exec)

	err = f.svc.Process(context.Background(), uuid.New(), exec.ID)
	require.Error(t, err)
	assert.Equal(t, domain.ExecutionStatusFailed, f.execution(t, exec.ID).Status)
}

func TestTaskFactory_RejectsBadPayload(t *testing.T) {
	f := newFixture(t, false)
	factory := f.svc.TaskFactory()

	_, err := factory(&events.TaskRequestEvent{Type: events.TypeCSVImport, Payload: []byte("{")})
	assert.Error(t, err)

	ev, err := events.NewTaskRequestEvent(events.TypeCSVImport, events.ImportRequested{BatchID: uuid.New(), ExecutionID: uuid.New()})
	require.NoError(t, err)
	tk, err := factory(ev)
	require.NoError(t, err)
	assert.Equal(t, events.TypeCSVImport, tk.Type())
}
