package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// JobStatus is a job definition together with its live scheduling state.
type JobStatus struct {
	domain.JobDefinition
	Scheduled bool       `json:"scheduled"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// Admin is the job administration surface: schedules and execution history.
type Admin struct {
	tx        store.Transactor
	scheduler *Scheduler
}

// NewAdmin creates an Admin.
func NewAdmin(tx store.Transactor, scheduler *Scheduler) *Admin {
	return &Admin{tx: tx, scheduler: scheduler}
}

// ListJobs returns every persisted job definition with its next run.
func (a *Admin) ListJobs(ctx context.Context) ([]JobStatus, error) {
	defs, err := a.tx.Repos().Jobs.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]JobStatus, 0, len(defs))
	for _, def := range defs {
		status := JobStatus{JobDefinition: def}
		if next, ok := a.scheduler.NextRun(def.Name); ok {
			status.Scheduled = true
			status.NextRunAt = &next
		}
		out = append(out, status)
	}
	return out, nil
}

// UpdateJob changes a job's schedule and enabled flag.
func (a *Admin) UpdateJob(ctx context.Context, name, spec string, enabled bool) (*domain.JobDefinition, error) {
	return a.scheduler.Reschedule(ctx, name, spec, enabled)
}

// TriggerJob starts a manual run of the named job.
func (a *Admin) TriggerJob(ctx context.Context, name string) error {
	return a.scheduler.Trigger(ctx, name)
}

// ListExecutions returns executions newest first.
func (a *Admin) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]domain.JobExecution, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return a.tx.Repos().Jobs.ListExecutions(ctx, filter)
}

// GetExecution returns one execution with its steps.
func (a *Admin) GetExecution(ctx context.Context, id uuid.UUID) (*domain.JobExecution, error) {
	return a.tx.Repos().Jobs.GetExecution(ctx, id)
}
