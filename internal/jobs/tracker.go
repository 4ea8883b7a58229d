package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/redact"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// Step is one tracked phase of a job. Exactly one of Run and RunTx is set.
//
// Run executes outside any transaction and may open its own. RunTx executes
// inside a transaction that also records the step as COMPLETED, so its writes
// and the audit trail commit together.
type Step struct {
	Name  string
	Run   func(ctx context.Context) (domain.StepContext, error)
	RunTx func(ctx context.Context, repos store.Repositories) (domain.StepContext, error)
}

// FailureFn records a failed step on the staged record a job works on. It
// runs in the same transaction that marks the step and execution FAILED.
type FailureFn func(ctx context.Context, repos store.Repositories, step string, err error) error

// StepError reports which step of an execution failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

// Unwrap returns the step's own error.
func (e *StepError) Unwrap() error {
	return e.Err
}

var errStepPanicked = errors.New("step panicked")

// Tracker persists the step-by-step audit trail of job executions.
type Tracker struct {
	tx     store.Transactor
	now    func() time.Time
	logger *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(tx store.Transactor, logger *slog.Logger) *Tracker {
	return &Tracker{
		tx:     tx,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "job_tracker"),
	}
}

// Create inserts exec using repositories of the caller's transaction, so an
// execution exists exactly when the work that scheduled it committed.
func (t *Tracker) Create(ctx context.Context, repos store.Repositories, exec *domain.JobExecution) error {
	if err := repos.Jobs.CreateExecution(ctx, exec); err != nil {
		return fmt.Errorf("failed to create job execution: %w", err)
	}
	return nil
}

// Run creates an execution for jobName and runs steps against it.
func (t *Tracker) Run(ctx context.Context, jobName string, trigger domain.TriggerType, steps []Step, onFail FailureFn) (*domain.JobExecution, error) {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	exec, err := domain.NewJobExecution(jobName, trigger, names...)
	if err != nil {
		return nil, err
	}
	if err := t.Create(ctx, t.tx.Repos(), exec); err != nil {
		return nil, err
	}
	return t.RunSteps(ctx, exec.ID, steps, onFail)
}

// RunSteps executes steps strictly in order against an existing RUNNING
// execution. The first failing step marks itself and the execution FAILED,
// invokes onFail, and stops the run; later steps stay PENDING. A panic in a
// step is recorded as that step's failure.
func (t *Tracker) RunSteps(ctx context.Context, execID uuid.UUID, steps []Step, onFail FailureFn) (*domain.JobExecution, error) {
	exec, err := t.tx.Repos().Jobs.GetExecution(ctx, execID)
	if err != nil {
		return nil, err
	}
	if exec.Terminal() {
		return exec, domain.ErrExecutionTerminal
	}
	log := t.logger.With("execution_id", exec.ID, "job_name", exec.JobName)

	for i, step := range steps {
		last := i == len(steps)-1
		if _, err := exec.StartStep(step.Name, t.now()); err != nil {
			return exec, err
		}
		if err := t.tx.Repos().Jobs.SaveExecution(ctx, exec); err != nil {
			return exec, fmt.Errorf("failed to record start of step %s: %w", step.Name, err)
		}
		log.Debug("step started", "step", step.Name)
		started := snapshot(exec)

		var stepCtx domain.StepContext
		var stepErr error
		if step.RunTx != nil {
			stepCtx, stepErr = t.runTx(ctx, exec, step, last)
		} else {
			stepCtx, stepErr = t.runPlain(ctx, exec, step, last)
		}
		if stepErr != nil {
			// Completion may have been applied in memory before the write
			// failed; fall back to the persisted RUNNING state.
			*exec = *started
			return exec, t.recordFailure(ctx, log, exec, step.Name, stepCtx, stepErr, onFail)
		}
		log.Debug("step completed", "step", step.Name)
	}

	log.Info("job execution completed", "steps", exec.TotalSteps)
	return exec, nil
}

func (t *Tracker) runPlain(ctx context.Context, exec *domain.JobExecution, step Step, last bool) (domain.StepContext, error) {
	stepCtx, err := safeCall(func() (domain.StepContext, error) { return step.Run(ctx) })
	if err != nil {
		return stepCtx, err
	}
	if err := t.completeStep(exec, step.Name, stepCtx, last); err != nil {
		return stepCtx, err
	}
	if err := t.tx.Repos().Jobs.SaveExecution(ctx, exec); err != nil {
		return stepCtx, fmt.Errorf("failed to record completion: %w", err)
	}
	return stepCtx, nil
}

func (t *Tracker) runTx(ctx context.Context, exec *domain.JobExecution, step Step, last bool) (domain.StepContext, error) {
	var stepCtx domain.StepContext
	err := t.tx.InTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		var err error
		stepCtx, err = safeCall(func() (domain.StepContext, error) { return step.RunTx(ctx, repos) })
		if err != nil {
			return err
		}
		if err := t.completeStep(exec, step.Name, stepCtx, last); err != nil {
			return err
		}
		return repos.Jobs.SaveExecution(ctx, exec)
	})
	return stepCtx, err
}

func (t *Tracker) completeStep(exec *domain.JobExecution, name string, stepCtx domain.StepContext, last bool) error {
	now := t.now()
	if err := exec.CompleteStep(name, stepCtx, now); err != nil {
		return err
	}
	if last {
		return exec.Complete(now)
	}
	return nil
}

// recordFailure writes the failed step even when ctx was cancelled, so a
// task interrupted by shutdown still ends FAILED instead of RUNNING.
func (t *Tracker) recordFailure(ctx context.Context, log *slog.Logger, exec *domain.JobExecution, step string, stepCtx domain.StepContext, cause error, onFail FailureFn) error {
	ctx = context.WithoutCancel(ctx)
	message := redact.Secrets(cause.Error())
	log.Error("job step failed", "step", step, "error", message)

	stepErr := &StepError{Step: step, Err: cause}
	err := t.tx.InTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		if err := exec.FailStep(step, message, stepCtx, t.now()); err != nil {
			return err
		}
		if err := repos.Jobs.SaveExecution(ctx, exec); err != nil {
			return err
		}
		if onFail != nil {
			return onFail(ctx, repos, step, stepErr)
		}
		return nil
	})
	if err != nil {
		log.Error("failed to record step failure", "step", step, "error", err)
		return errors.Join(stepErr, fmt.Errorf("failed to record failure: %w", err))
	}
	return stepErr
}

// FailExecution fails the execution's current step with message. It is used
// for executions that can no longer make progress, such as ones abandoned
// before their first step started.
func (t *Tracker) FailExecution(ctx context.Context, repos store.Repositories, exec *domain.JobExecution, message string) error {
	step := exec.CurrentStep()
	if step == nil {
		return domain.ErrExecutionTerminal
	}
	if err := exec.FailStep(step.Name, redact.Secrets(message), nil, t.now()); err != nil {
		return err
	}
	return repos.Jobs.SaveExecution(ctx, exec)
}

func safeCall(fn func() (domain.StepContext, error)) (stepCtx domain.StepContext, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errStepPanicked, r)
		}
	}()
	return fn()
}

func snapshot(exec *domain.JobExecution) *domain.JobExecution {
	c := *exec
	c.Steps = make([]*domain.JobStepExecution, len(exec.Steps))
	for i, s := range exec.Steps {
		sc := *s
		c.Steps[i] = &sc
	}
	return &c
}
