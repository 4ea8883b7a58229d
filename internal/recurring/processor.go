// Package recurring posts the ledger transactions generated by recurring
// definitions that have come due.
package recurring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/jobs"
	"github.com/phrazzld/fintrack-api/internal/ledger"
	"github.com/phrazzld/fintrack-api/internal/redact"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// StepProcessDue is the only step of a recurring run.
const StepProcessDue = "process-due"

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomePosted
	outcomePostedAndPaused
	outcomePaused
)

// Processor posts one occurrence per due definition and advances its
// schedule.
type Processor struct {
	tx      store.Transactor
	tracker *jobs.Tracker
	poster  *ledger.Poster
	now     func() time.Time
	logger  *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(tx store.Transactor, tracker *jobs.Tracker, poster *ledger.Poster, logger *slog.Logger) *Processor {
	return &Processor{
		tx:      tx,
		tracker: tracker,
		poster:  poster,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With("component", "recurring_processor"),
	}
}

// Run is the scheduler entry point.
func (p *Processor) Run(ctx context.Context, trigger domain.TriggerType) error {
	_, err := p.tracker.Run(ctx, jobs.RecurringJobName, trigger, []jobs.Step{
		{Name: StepProcessDue, Run: p.processDue},
	}, nil)
	return err
}

// processDue handles every due definition in its own transaction. A failing
// definition is recorded and skipped; the step fails only when all of them
// failed.
func (p *Processor) processDue(ctx context.Context) (domain.StepContext, error) {
	now := p.now()
	today := domain.DateOf(now)

	due, err := p.tx.Repos().Recurring.ListDue(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("failed to list due definitions: %w", err)
	}

	var processed, paused int
	failedIDs := []string{}
	var firstErr error
	for _, def := range due {
		var result outcome
		err := p.tx.InTx(ctx, func(ctx context.Context, repos store.Repositories) error {
			var err error
			result, err = p.process(ctx, repos, def.ID, today, now)
			return err
		})
		if err != nil {
			failedIDs = append(failedIDs, def.ID.String())
			if firstErr == nil {
				firstErr = err
			}
			p.logger.ErrorContext(ctx, "failed to process recurring definition",
				"definition_id", def.ID,
				"error", redact.Error(err))
			continue
		}
		switch result {
		case outcomePosted:
			processed++
		case outcomePostedAndPaused:
			processed++
			paused++
		case outcomePaused:
			paused++
		}
	}

	stepCtx := domain.StepContext{
		domain.CtxDueCount:  len(due),
		domain.CtxProcessed: processed,
		domain.CtxPaused:    paused,
		domain.CtxFailed:    len(failedIDs),
		domain.CtxFailedIDs: failedIDs,
	}
	if len(due) > 0 {
		p.logger.InfoContext(ctx, "recurring definitions processed",
			"due", len(due),
			"processed", processed,
			"paused", paused,
			"failed", len(failedIDs))
	}
	if len(due) > 0 && len(failedIDs) == len(due) {
		return stepCtx, fmt.Errorf("all %d due definitions failed, first error: %w", len(due), firstErr)
	}
	return stepCtx, nil
}

// process posts the occurrence due on the definition's next execution date
// and moves the schedule forward. A definition whose due date is past its
// end date is paused without posting.
func (p *Processor) process(ctx context.Context, repos store.Repositories, id uuid.UUID, today, now time.Time) (outcome, error) {
	def, err := repos.Recurring.GetByID(ctx, id)
	if err != nil {
		return outcomeSkipped, err
	}
	// Another run may have advanced it since the listing.
	if def.Status != domain.RecurringStatusActive || domain.DateOf(def.NextExecutionDate).After(today) {
		return outcomeSkipped, nil
	}

	dueDate := domain.DateOf(def.NextExecutionDate)
	if def.Expired(dueDate) {
		def.Status = domain.RecurringStatusPaused
		if err := repos.Recurring.Update(ctx, def); err != nil {
			return outcomeSkipped, fmt.Errorf("failed to pause definition: %w", err)
		}
		return outcomePaused, nil
	}

	source := def.ID
	txn := &domain.Transaction{
		ID:              uuid.New(),
		UserID:          def.UserID,
		AccountID:       def.AccountID,
		CategoryID:      def.CategoryID,
		Type:            def.Type,
		Amount:          def.Amount,
		Description:     def.Description,
		TransactionDate: dueDate,
		Source:          domain.SourceRecurring,
		SourceID:        &source,
	}
	if err := p.poster.Post(ctx, repos, txn); err != nil {
		return outcomeSkipped, err
	}

	next := def.NextExecutionAfter(today)
	executed := now
	def.NextExecutionDate = next
	def.LastExecutedAt = &executed
	result := outcomePosted
	if def.Expired(next) {
		def.Status = domain.RecurringStatusPaused
		result = outcomePostedAndPaused
	}
	if err := repos.Recurring.Update(ctx, def); err != nil {
		return outcomeSkipped, fmt.Errorf("failed to advance definition: %w", err)
	}

	p.logger.DebugContext(ctx, "recurring transaction posted",
		"definition_id", def.ID,
		"transaction_id", txn.ID,
		"due_date", dueDate.Format(domain.DateLayout),
		"next_execution_date", next.Format(domain.DateLayout))
	return result, nil
}
