package statement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/events"
	"github.com/phrazzld/fintrack-api/internal/generation"
	"github.com/phrazzld/fintrack-api/internal/jobs"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
	"github.com/phrazzld/fintrack-api/internal/redact"
	"github.com/phrazzld/fintrack-api/internal/store"
	"github.com/phrazzld/fintrack-api/internal/task"
)

// ErrAllRowsFailed fails the insert step when no accepted row could be posted.
var ErrAllRowsFailed = errors.New("every accepted row failed to insert")

var errAbandoned = errors.New("request was never picked up, please try again")

// ParseTaskFactory builds parse tasks from TypeStatementParse events.
func (s *Service) ParseTaskFactory() task.Factory {
	return s.factory(s.ProcessParse)
}

// ConfirmTaskFactory builds insert tasks from TypeStatementConfirm events.
func (s *Service) ConfirmTaskFactory() task.Factory {
	return s.factory(s.ProcessConfirm)
}

func (s *Service) factory(process func(ctx context.Context, statementID, execID uuid.UUID) error) task.Factory {
	return func(event *events.TaskRequestEvent) (task.Task, error) {
		var req events.StatementRequested
		if err := event.UnmarshalPayload(&req); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", event.Type, err)
		}
		return task.NewFuncTask(event.Type, event.Payload, func(ctx context.Context) error {
			return process(ctx, req.StatementID, req.ExecutionID)
		}), nil
	}
}

// ProcessParse runs the generate and flag-duplicates steps for a statement
// in SENT_FOR_PARSING. Failures are written to the execution and the
// statement; the returned error is only for logging.
func (s *Service) ProcessParse(ctx context.Context, statementID, execID uuid.UUID) error {
	log := s.logger.With("statement_id", statementID, "execution_id", execID)
	ctx = logger.WithLogger(ctx, log)

	if err := s.claim(ctx, statementID, execID, domain.StatementStatusSentForParsing); err != nil {
		return err
	}

	run := &parseRun{svc: s, statementID: statementID}
	exec, err := s.Tracker.RunSteps(ctx, execID, []jobs.Step{
		{Name: StepGenerate, Run: run.generate},
		{Name: StepFlagDuplicates, RunTx: run.flagDuplicates},
	}, s.failStatement(statementID))
	if err != nil {
		return err
	}
	log.Info("statement parse finished",
		"status", exec.Status,
		"rows", len(run.rows))
	return nil
}

// ProcessConfirm runs the insert and summarize steps for a statement in
// CONFIRMING.
func (s *Service) ProcessConfirm(ctx context.Context, statementID, execID uuid.UUID) error {
	log := s.logger.With("statement_id", statementID, "execution_id", execID)
	ctx = logger.WithLogger(ctx, log)

	if err := s.claim(ctx, statementID, execID, domain.StatementStatusConfirming); err != nil {
		return err
	}

	run := &confirmRun{svc: s, statementID: statementID}
	exec, err := s.Tracker.RunSteps(ctx, execID, []jobs.Step{
		{Name: StepInsert, Run: run.insert},
		{Name: StepSummarize, RunTx: run.summarize},
	}, s.failStatement(statementID))
	if err != nil {
		return err
	}
	log.Info("statement import finished",
		"status", exec.Status,
		"inserted", run.inserted,
		"failed", run.failed,
		"skipped", run.skipped)
	return nil
}

// claim checks that the statement is waiting in want for execID. Otherwise
// the execution is failed without touching the statement.
func (s *Service) claim(ctx context.Context, statementID, execID uuid.UUID, want domain.StatementStatus) error {
	st, err := s.Tx.Repos().Statements.GetByID(ctx, statementID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return s.abandon(ctx, execID, "statement no longer exists")
		}
		return fmt.Errorf("failed to load statement: %w", err)
	}
	if st.Status != want || st.JobExecutionID == nil || *st.JobExecutionID != execID {
		logger.FromContext(ctx).Warn("statement is not awaiting this execution", "status", st.Status)
		return s.abandon(ctx, execID, "statement is not awaiting this execution")
	}
	return nil
}

func (s *Service) abandon(ctx context.Context, execID uuid.UUID, message string) error {
	err := s.Tx.InTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		exec, err := repos.Jobs.GetExecution(ctx, execID)
		if err != nil {
			return err
		}
		if exec.Terminal() {
			return nil
		}
		return s.Tracker.FailExecution(ctx, repos, exec, message)
	})
	if err != nil {
		return fmt.Errorf("failed to abandon execution: %w", err)
	}
	return errors.New(message)
}

// failStatement marks the statement FAILED in the transaction that fails
// the step.
func (s *Service) failStatement(statementID uuid.UUID) jobs.FailureFn {
	return func(ctx context.Context, repos store.Repositories, step string, err error) error {
		st, getErr := repos.Statements.GetByID(ctx, statementID)
		if store.IsNotFoundError(getErr) {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		st.Fail(redact.Secrets(err.Error()))
		if st.CurrentStep >= domain.StatementStatusConfirming.Step() {
			imported, countErr := repos.Transactions.CountBySource(ctx, domain.SourceStatementImport, st.ID)
			if countErr != nil {
				return countErr
			}
			st.ImportedCount = imported
		}
		return repos.Statements.Update(ctx, st)
	}
}

// ReleaseAbandoned fails the statement an abandoned parse or confirm
// execution was staged for. A statement released before parsing may be
// parsed again.
func (s *Service) ReleaseAbandoned(ctx context.Context, repos store.Repositories, exec *domain.JobExecution) (int, error) {
	st, err := repos.Statements.GetByExecution(ctx, exec.ID)
	if store.IsNotFoundError(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if st.Status != domain.StatementStatusSentForParsing && st.Status != domain.StatementStatusConfirming {
		return 0, nil
	}

	var step string
	if len(exec.Steps) > 0 {
		step = exec.Steps[0].Name
	}
	if err := s.failStatement(st.ID)(ctx, repos, step, errAbandoned); err != nil {
		return 0, err
	}
	s.logger.WarnContext(ctx, "released abandoned statement",
		"statement_id", st.ID,
		"execution_id", exec.ID,
		"job_name", exec.JobName)
	return 1, nil
}

// parseRun carries state between the steps of one parse execution.
type parseRun struct {
	svc         *Service
	statementID uuid.UUID

	rows []domain.ParsedRow
}

// generate sends the statement to the language model and categorizes the
// returned rows.
func (r *parseRun) generate(ctx context.Context) (domain.StepContext, error) {
	repos := r.svc.Tx.Repos()
	st, err := repos.Statements.GetByID(ctx, r.statementID)
	if err != nil {
		return nil, err
	}

	key, source, err := resolveKey(ctx, repos.Credentials, st.UserID)
	if err != nil {
		return nil, err
	}
	categories, err := repos.Categories.ListByUser(ctx, st.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	mappings, err := repos.Mappings.ListByUser(ctx, st.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant mappings: %w", err)
	}

	stepCtx := domain.StepContext{
		domain.CtxStatementID: st.ID.String(),
		domain.CtxModel:       r.svc.Parser.Model(),
		domain.CtxCredential:  source,
	}
	rows, err := r.svc.Parser.ParseStatement(ctx, generation.StatementRequest{
		APIKey:        key,
		StatementText: st.ExtractedText,
		Categories:    categories,
		Mappings:      mappings,
	})
	if err != nil {
		return stepCtx, err
	}

	categorize(rows, categories, mappings)
	r.rows = rows
	stepCtx[domain.CtxParsedRows] = len(rows)
	return stepCtx, nil
}

// flagDuplicates marks likely duplicates and stores the rows as PARSED in
// the transaction that completes the execution.
func (r *parseRun) flagDuplicates(ctx context.Context, repos store.Repositories) (domain.StepContext, error) {
	st, err := repos.Statements.GetByID(ctx, r.statementID)
	if err != nil {
		return nil, err
	}
	flagged, err := flagDuplicates(ctx, repos.Transactions, st.UserID, st.AccountID, r.rows)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicates: %w", err)
	}

	st.SetParsedRows(r.rows)
	st.Transition(domain.StatementStatusParsed)
	if err := repos.Statements.Update(ctx, st); err != nil {
		return nil, err
	}
	return domain.StepContext{
		domain.CtxParsedRows: len(r.rows),
		domain.CtxDuplicates: flagged,
	}, nil
}

// confirmRun carries state between the steps of one confirm execution.
type confirmRun struct {
	svc         *Service
	statementID uuid.UUID

	rows     int
	inserted int
	failed   int
	skipped  int
}

// insert posts every accepted row in its own transaction. A row failure is
// counted; the step fails only when no row could be posted.
func (r *confirmRun) insert(ctx context.Context) (domain.StepContext, error) {
	log := logger.FromContext(ctx)
	st, err := r.svc.Tx.Repos().Statements.GetByID(ctx, r.statementID)
	if err != nil {
		return nil, err
	}

	rows, skipped := accepted(st.ParsedRows, st.ExcludeDuplicates)
	r.rows, r.skipped = len(rows), skipped

	var firstErr error
	for i, row := range rows {
		txn, err := toTransaction(st, row)
		if err == nil {
			err = r.svc.Tx.InTx(ctx, func(ctx context.Context, repos store.Repositories) error {
				return r.svc.Poster.Post(ctx, repos, txn)
			})
		}
		if err != nil {
			r.failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("row %d: %w", i+1, err)
			}
			log.Warn("failed to insert statement row", "row", i+1, "error", redact.Error(err))
			continue
		}
		r.inserted++
	}

	stepCtx := domain.StepContext{
		domain.CtxStatementID: st.ID.String(),
		domain.CtxInserted:    r.inserted,
		domain.CtxFailed:      r.failed,
		domain.CtxSkipped:     r.skipped,
	}
	if len(rows) > 0 && r.inserted == 0 {
		return stepCtx, fmt.Errorf("%w: %d rows, first error: %v", ErrAllRowsFailed, r.failed, firstErr)
	}
	return stepCtx, nil
}

// summarize records the imported count and completes the statement.
func (r *confirmRun) summarize(ctx context.Context, repos store.Repositories) (domain.StepContext, error) {
	st, err := repos.Statements.GetByID(ctx, r.statementID)
	if err != nil {
		return nil, err
	}
	imported, err := repos.Transactions.CountBySource(ctx, domain.SourceStatementImport, st.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count imported rows: %w", err)
	}

	st.ImportedCount = imported
	st.Transition(domain.StatementStatusCompleted)
	if r.failed > 0 {
		st.ErrorMessage = fmt.Sprintf("%d of %d rows failed to insert", r.failed, r.rows)
	}
	if err := repos.Statements.Update(ctx, st); err != nil {
		return nil, err
	}
	return domain.StepContext{
		domain.CtxStatementID: st.ID.String(),
		domain.CtxInserted:    imported,
	}, nil
}
