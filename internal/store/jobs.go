package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
)

// ExecutionFilter narrows ListExecutions. Zero values are ignored.
type ExecutionFilter struct {
	JobName string
	Status  domain.ExecutionStatus
	Limit   int
	Offset  int
}

// JobStore persists job definitions and the execution audit trail.
type JobStore interface {
	// CreateDefinition stores a new job definition.
	// Returns ErrJobExists if the name is taken.
	CreateDefinition(ctx context.Context, def *domain.JobDefinition) error

	// GetDefinition retrieves a job definition by name.
	// Returns ErrJobNotFound if it does not exist.
	GetDefinition(ctx context.Context, name string) (*domain.JobDefinition, error)

	// ListDefinitions returns all job definitions ordered by name.
	ListDefinitions(ctx context.Context) ([]domain.JobDefinition, error)

	// UpdateSchedule replaces the cron expression and enabled flag.
	// Returns ErrJobNotFound if it does not exist.
	UpdateSchedule(ctx context.Context, name, cron string, enabled bool) error

	// UpdateLastRun records when the job last started.
	UpdateLastRun(ctx context.Context, name string, at time.Time) error

	// CreateExecution inserts an execution together with its steps.
	CreateExecution(ctx context.Context, exec *domain.JobExecution) error

	// GetExecution retrieves an execution and its ordered steps.
	// Returns ErrExecutionNotFound if it does not exist.
	GetExecution(ctx context.Context, id uuid.UUID) (*domain.JobExecution, error)

	// ListExecutions returns executions newest first, steps included.
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]domain.JobExecution, error)

	// SaveExecution writes the mutable state of an execution and every step.
	// Returns ErrExecutionNotFound if it does not exist.
	SaveExecution(ctx context.Context, exec *domain.JobExecution) error

	// ListAbandoned returns RUNNING executions of jobName started before
	// cutoff whose steps are all still PENDING.
	ListAbandoned(ctx context.Context, jobName string, cutoff time.Time) ([]domain.JobExecution, error)
}
