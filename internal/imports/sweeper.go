package imports

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/events"
	"github.com/phrazzld/fintrack-api/internal/jobs"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// Sweeper step names.
const (
	StepReleaseAbandoned = "release-abandoned"
	StepResumeStuck      = "resume-stuck"
)

// SweeperConfig holds the sweep thresholds.
type SweeperConfig struct {
	// AbandonedAfter is how long an execution may stay RUNNING
	// without starting its first step.
	AbandonedAfter time.Duration
	// StuckAfter is how long an unlinked IMPORTING batch may sit untouched.
	StuckAfter time.Duration
	// Lease is how long a claim keeps other sweeps away from a batch.
	Lease time.Duration
	// BatchLimit caps the batches resumed per run.
	BatchLimit int
}

// ReleaseFn returns the record an abandoned execution was staged for to a
// state a user or a later sweep can act on. It runs in the transaction that
// fails the execution and reports how many records it released.
type ReleaseFn func(ctx context.Context, repos store.Repositories, exec *domain.JobExecution) (int, error)

type releaser struct {
	jobName string
	release ReleaseFn
}

// Sweeper fails executions that were never picked up and resumes import
// batches whose async work never happened.
type Sweeper struct {
	tx        store.Transactor
	tracker   *jobs.Tracker
	emitter   events.EventEmitter
	cfg       SweeperConfig
	releasers []releaser
	now       func() time.Time
	logger    *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(tx store.Transactor, tracker *jobs.Tracker, emitter events.EventEmitter, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	s := &Sweeper{
		tx:      tx,
		tracker: tracker,
		emitter: emitter,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With("component", "stuck_batch_sweeper"),
	}
	s.Release(JobName, unlinkBatches)
	return s
}

// Release registers fn for abandoned executions of jobName. Registering a
// job name again replaces its function.
func (s *Sweeper) Release(jobName string, fn ReleaseFn) {
	for i := range s.releasers {
		if s.releasers[i].jobName == jobName {
			s.releasers[i].release = fn
			return
		}
	}
	s.releasers = append(s.releasers, releaser{jobName: jobName, release: fn})
}

// unlinkBatches frees the batches of an abandoned import execution so
// resumeStuck can pick them up.
func unlinkBatches(ctx context.Context, repos store.Repositories, exec *domain.JobExecution) (int, error) {
	return repos.Batches.UnlinkExecution(ctx, exec.ID)
}

// Run is the scheduler entry point of the sweep.
func (s *Sweeper) Run(ctx context.Context, trigger domain.TriggerType) error {
	_, err := s.tracker.Run(ctx, jobs.SweeperJobName, trigger, []jobs.Step{
		{Name: StepReleaseAbandoned, Run: s.releaseAbandoned},
		{Name: StepResumeStuck, Run: func(ctx context.Context) (domain.StepContext, error) {
			return s.resumeStuck(ctx, trigger)
		}},
	}, nil)
	return err
}

// releaseAbandoned fails executions of every registered job that never
// started a step, and releases the records they were staged for.
func (s *Sweeper) releaseAbandoned(ctx context.Context) (domain.StepContext, error) {
	cutoff := s.now().Add(-s.cfg.AbandonedAfter)
	released := 0
	for _, r := range s.releasers {
		n, err := s.releaseJob(ctx, r, cutoff)
		released += n
		if err != nil {
			return domain.StepContext{domain.CtxReleased: released}, err
		}
	}
	return domain.StepContext{domain.CtxReleased: released}, nil
}

func (s *Sweeper) releaseJob(ctx context.Context, r releaser, cutoff time.Time) (int, error) {
	abandoned, err := s.tx.Repos().Jobs.ListAbandoned(ctx, r.jobName, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list abandoned %s executions: %w", r.jobName, err)
	}

	released := 0
	for _, candidate := range abandoned {
		err := s.tx.InTx(ctx, func(ctx context.Context, repos store.Repositories) error {
			exec, err := repos.Jobs.GetExecution(ctx, candidate.ID)
			if err != nil {
				return err
			}
			// The worker may have started since the listing.
			if exec.Terminal() || !exec.NeverStarted() {
				return nil
			}
			if err := s.tracker.FailExecution(ctx, repos, exec, "abandoned before start"); err != nil {
				return err
			}
			n, err := r.release(ctx, repos, exec)
			if err != nil {
				return err
			}
			released += n
			return nil
		})
		if err != nil {
			return released, fmt.Errorf("failed to release execution %s: %w", candidate.ID, err)
		}
	}

	if len(abandoned) > 0 {
		s.logger.InfoContext(ctx, "released abandoned executions",
			"job_name", r.jobName,
			"executions", len(abandoned),
			"released", released)
	}
	return released, nil
}

// resumeStuck leases stuck batches and hands each a fresh execution through
// the same after-commit path confirmation uses.
func (s *Sweeper) resumeStuck(ctx context.Context, trigger domain.TriggerType) (domain.StepContext, error) {
	now := s.now()
	claimed, err := s.tx.Repos().Batches.ClaimStuck(ctx, now.Add(-s.cfg.StuckAfter), now.Add(s.cfg.Lease), s.cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim stuck batches: %w", err)
	}

	resumed := 0
	for _, batch := range claimed {
		err := s.tx.InTx(ctx, func(ctx context.Context, repos store.Repositories) error {
			exec, err := domain.NewJobExecution(JobName, trigger, StepNames...)
			if err != nil {
				return err
			}
			if err := s.tracker.Create(ctx, repos, exec); err != nil {
				return err
			}
			s.logger.InfoContext(ctx, "resuming stuck import batch",
				"batch_id", batch.ID,
				"execution_id", exec.ID)
			return events.EmitAfterCommit(ctx, s.emitter, events.TypeCSVImport, events.ImportRequested{
				BatchID:     batch.ID,
				ExecutionID: exec.ID,
			})
		})
		if err != nil {
			// The lease expires on its own; a later sweep retries.
			s.logger.ErrorContext(ctx, "failed to resume stuck batch", "batch_id", batch.ID, "error", err)
			continue
		}
		resumed++
	}

	stepCtx := domain.StepContext{domain.CtxResumed: resumed}
	if len(claimed) > 0 && resumed == 0 {
		return stepCtx, fmt.Errorf("failed to resume any of %d stuck batches", len(claimed))
	}
	return stepCtx, nil
}
