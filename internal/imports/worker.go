package imports

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/events"
	"github.com/phrazzld/fintrack-api/internal/jobs"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
	"github.com/phrazzld/fintrack-api/internal/redact"
	"github.com/phrazzld/fintrack-api/internal/store"
	"github.com/phrazzld/fintrack-api/internal/task"
)

var (
	// ErrAllRowsFailed fails the insert step when no accepted row could be posted.
	ErrAllRowsFailed = errors.New("every accepted row failed to insert")

	// ErrStaleExecution is returned for a task whose execution finished
	// before the task ran, typically one the sweeper already released.
	ErrStaleExecution = errors.New("import execution already finished")
)

// TaskFactory builds import tasks from TypeCSVImport events.
func (s *Service) TaskFactory() task.Factory {
	return func(event *events.TaskRequestEvent) (task.Task, error) {
		var req events.ImportRequested
		if err := event.UnmarshalPayload(&req); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", event.Type, err)
		}
		return task.NewFuncTask(event.Type, event.Payload, func(ctx context.Context) error {
			return s.Process(ctx, req.BatchID, req.ExecutionID)
		}), nil
	}
}

// Process is the async entry point of an import. It claims the batch for
// execID, then runs the revalidate, duplicate-check, insert and summarize
// steps. Failures are written to the execution and the batch; the returned
// error is only for logging.
//
// The claim only succeeds while execID is RUNNING. A late task for an
// execution the sweeper already failed leaves the batch untouched for the
// execution that replaced it.
func (s *Service) Process(ctx context.Context, batchID, execID uuid.UUID) error {
	log := s.logger.With("batch_id", batchID, "execution_id", execID)
	ctx = logger.WithLogger(ctx, log)

	claimed, err := s.tx.Repos().Batches.LinkExecution(ctx, batchID, execID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return s.abandon(ctx, execID, "import batch no longer exists")
		}
		return fmt.Errorf("failed to claim batch: %w", err)
	}
	if !claimed {
		err := s.abandon(ctx, execID, "import batch is not awaiting this execution")
		if errors.Is(err, ErrStaleExecution) {
			log.Info("skipping task of finished execution")
		} else {
			log.Warn("batch is held by another execution or no longer importing")
		}
		return err
	}

	run := &importRun{svc: s, batchID: batchID}
	exec, err := s.tracker.RunSteps(ctx, execID, run.steps(), run.onFail)
	if err != nil {
		return err
	}
	log.Info("csv import finished",
		"status", exec.Status,
		"inserted", run.inserted,
		"failed", run.failed,
		"skipped", run.skipped)
	return nil
}

// abandon fails an execution that cannot run against its batch. An
// execution that already finished is left as recorded.
func (s *Service) abandon(ctx context.Context, execID uuid.UUID, message string) error {
	stale := false
	err := s.tx.InTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		exec, err := repos.Jobs.GetExecution(ctx, execID)
		if err != nil {
			return err
		}
		if exec.Terminal() {
			stale = true
			return nil
		}
		return s.tracker.FailExecution(ctx, repos, exec, message)
	})
	if err != nil {
		return fmt.Errorf("failed to abandon execution: %w", err)
	}
	if stale {
		return ErrStaleExecution
	}
	return errors.New(message)
}

// importRun carries state between the steps of one execution.
type importRun struct {
	svc     *Service
	batchID uuid.UUID

	batch    *domain.ImportBatch
	verdicts []domain.RowVerdict
	rows     []domain.RowVerdict

	inserted int
	failed   int
	skipped  int
}

func (r *importRun) steps() []jobs.Step {
	return []jobs.Step{
		{Name: StepRevalidate, Run: r.revalidate},
		{Name: StepDuplicateCheck, Run: r.duplicateCheck},
		{Name: StepInsert, Run: r.insert},
		{Name: StepSummarize, RunTx: r.summarize},
	}
}

// revalidate classifies rows again from the persisted raw payload.
func (r *importRun) revalidate(ctx context.Context) (domain.StepContext, error) {
	repos := r.svc.tx.Repos()
	batch, err := repos.Batches.GetByID(ctx, r.batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != domain.BatchStatusImporting {
		return nil, fmt.Errorf("%w: batch is %s", domain.ErrInvalidStatusTransition, batch.Status)
	}
	r.batch = batch

	records, err := readRecords([]byte(batch.RawContent), r.svc.cfg.MaxRows)
	if err != nil {
		return nil, err
	}
	categories, err := repos.Categories.ListByUser(ctx, batch.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	r.verdicts = classify(newRowChecker(r.svc.validate, categories), records)

	valid, errorRows := 0, 0
	for _, v := range r.verdicts {
		if v.Status == domain.RowStatusError {
			errorRows++
		} else {
			valid++
		}
	}
	return domain.StepContext{
		domain.CtxBatchID:   batch.ID.String(),
		domain.CtxTotalRows: len(r.verdicts),
		domain.CtxValidRows: valid,
		domain.CtxErrorRows: errorRows,
	}, nil
}

// duplicateCheck re-applies duplicate detection and the skip policy.
func (r *importRun) duplicateCheck(ctx context.Context) (domain.StepContext, error) {
	err := markDuplicates(ctx, r.svc.tx.Repos().Transactions, r.batch.UserID, r.batch.AccountID, r.verdicts)
	if err != nil {
		return nil, err
	}
	r.rows, r.skipped = accepted(r.verdicts, r.batch.SkipDuplicates)

	duplicates := 0
	for _, v := range r.verdicts {
		if v.Status == domain.RowStatusDuplicate {
			duplicates++
		}
	}
	return domain.StepContext{
		domain.CtxDuplicates: duplicates,
		domain.CtxSkipped:    r.skipped,
	}, nil
}

// insert posts every accepted row in its own transaction. A row failure is
// counted; the step fails only when no row could be posted.
func (r *importRun) insert(ctx context.Context) (domain.StepContext, error) {
	log := logger.FromContext(ctx)
	var firstErr error
	for _, v := range r.rows {
		txn, err := r.transaction(v)
		if err == nil {
			err = r.svc.tx.InTx(ctx, func(ctx context.Context, repos store.Repositories) error {
				return r.svc.poster.Post(ctx, repos, txn)
			})
		}
		if err != nil {
			r.failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("row %d: %w", v.RowNumber, err)
			}
			log.Warn("failed to insert csv row", "row", v.RowNumber, "error", redact.Error(err))
			continue
		}
		r.inserted++
	}

	stepCtx := domain.StepContext{
		domain.CtxInserted: r.inserted,
		domain.CtxFailed:   r.failed,
	}
	if len(r.rows) > 0 && r.inserted == 0 {
		return stepCtx, fmt.Errorf("%w: %d rows, first error: %v", ErrAllRowsFailed, r.failed, firstErr)
	}
	return stepCtx, nil
}

func (r *importRun) transaction(v domain.RowVerdict) (*domain.Transaction, error) {
	date, err := domain.ParseDate(v.Date)
	if err != nil {
		return nil, err
	}
	if v.Amount == nil {
		return nil, domain.ErrInvalidAmount
	}
	source := r.batch.ID
	return &domain.Transaction{
		ID:              uuid.New(),
		UserID:          r.batch.UserID,
		AccountID:       r.batch.AccountID,
		CategoryID:      v.CategoryID,
		Type:            v.Type,
		Amount:          *v.Amount,
		Description:     v.Description,
		Notes:           v.Notes,
		Tags:            v.Tags,
		TransactionDate: date,
		Source:          domain.SourceCSVImport,
		SourceID:        &source,
	}, nil
}

// summarize writes the terminal batch state in the transaction that
// completes the execution.
func (r *importRun) summarize(ctx context.Context, repos store.Repositories) (domain.StepContext, error) {
	batch, err := repos.Batches.GetByID(ctx, r.batchID)
	if err != nil {
		return nil, err
	}
	imported, err := repos.Transactions.CountBySource(ctx, domain.SourceCSVImport, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count imported rows: %w", err)
	}

	now := r.svc.now()
	batch.ApplyVerdicts(r.verdicts)
	batch.ImportedRows = imported
	batch.Status = domain.BatchStatusCompleted
	batch.CompletedAt = &now
	batch.ClaimExpiresAt = nil
	batch.ErrorMessage = ""
	if r.failed > 0 {
		batch.ErrorMessage = fmt.Sprintf("%d of %d rows failed to insert", r.failed, len(r.rows))
	}
	if err := repos.Batches.Update(ctx, batch); err != nil {
		return nil, err
	}
	return domain.StepContext{
		domain.CtxBatchID:  batch.ID.String(),
		domain.CtxInserted: imported,
	}, nil
}

// onFail marks the batch FAILED in the transaction that fails the step.
func (r *importRun) onFail(ctx context.Context, repos store.Repositories, step string, err error) error {
	batch, getErr := repos.Batches.GetByID(ctx, r.batchID)
	if store.IsNotFoundError(getErr) {
		return nil
	}
	if getErr != nil {
		return getErr
	}
	imported, countErr := repos.Transactions.CountBySource(ctx, domain.SourceCSVImport, batch.ID)
	if countErr != nil {
		return countErr
	}
	batch.Status = domain.BatchStatusFailed
	batch.ImportedRows = imported
	batch.ClaimExpiresAt = nil
	batch.ErrorMessage = redact.Secrets(err.Error())
	return repos.Batches.Update(ctx, batch)
}
