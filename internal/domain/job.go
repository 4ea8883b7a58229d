package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of a job execution.
type ExecutionStatus string

// Execution status values
const (
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
)

// TriggerType records what started a job execution.
type TriggerType string

// Trigger values
const (
	TriggerScheduled TriggerType = "SCHEDULED"
	TriggerManual    TriggerType = "MANUAL"
)

// StepStatus is the lifecycle state of one step of an execution.
type StepStatus string

// Step status values
const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
)

// StepContext is the diagnostic payload attached to a step. It is never
// read back as business state. Values must be JSON-encodable; the keys
// below are the ones the pipelines write.
type StepContext map[string]any

// Well-known StepContext keys.
const (
	CtxBatchID      = "batch_id"
	CtxStatementID  = "statement_id"
	CtxTotalRows    = "total_rows"
	CtxValidRows    = "valid_rows"
	CtxErrorRows    = "error_rows"
	CtxDuplicates   = "duplicate_rows"
	CtxSkipped      = "skipped_rows"
	CtxInserted     = "inserted"
	CtxFailed       = "failed"
	CtxFailedIDs    = "failed_ids"
	CtxDueCount     = "due_count"
	CtxProcessed    = "processed"
	CtxPaused       = "paused"
	CtxResumed      = "resumed"
	CtxReleased     = "released"
	CtxParsedRows   = "parsed_rows"
	CtxModel        = "model"
	CtxCredential   = "credential_source"
)

// Job execution validation errors
var (
	ErrEmptyJobName    = errors.New("job name cannot be empty")
	ErrNoSteps         = errors.New("job execution requires at least one step")
	ErrStepNotFound    = errors.New("step not found")
	ErrStepOutOfOrder  = errors.New("step cannot start before preceding steps complete")
	ErrStepNotRunning  = errors.New("step is not running")
	ErrStepsIncomplete = errors.New("not all steps have completed")
)

// JobDefinition is the persisted schedule configuration of a named job.
type JobDefinition struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Cron        string     `json:"cron"`
	Enabled     bool       `json:"enabled"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobStepExecution is one tracked phase of a job execution.
type JobStepExecution struct {
	ID           uuid.UUID   `json:"id"`
	ExecutionID  uuid.UUID   `json:"execution_id"`
	Name         string      `json:"name"`
	Order        int         `json:"order"`
	Status       StepStatus  `json:"status"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
	Context      StepContext `json:"context,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// JobExecution is the audit record of one run of a job.
type JobExecution struct {
	ID             uuid.UUID           `json:"id"`
	JobName        string              `json:"job_name"`
	Status         ExecutionStatus     `json:"status"`
	Trigger        TriggerType         `json:"trigger"`
	StartedAt      time.Time           `json:"started_at"`
	EndedAt        *time.Time          `json:"ended_at,omitempty"`
	TotalSteps     int                 `json:"total_steps"`
	CompletedSteps int                 `json:"completed_steps"`
	Steps          []*JobStepExecution `json:"steps"`
	ErrorMessage   string              `json:"error_message,omitempty"`
}

// NewJobExecution creates a RUNNING execution with one PENDING step per name,
// ordered as given.
func NewJobExecution(jobName string, trigger TriggerType, stepNames ...string) (*JobExecution, error) {
	if jobName == "" {
		return nil, ErrEmptyJobName
	}
	if len(stepNames) == 0 {
		return nil, ErrNoSteps
	}
	if trigger != TriggerScheduled && trigger != TriggerManual {
		return nil, NewValidationError("trigger", "must be SCHEDULED or MANUAL", nil)
	}

	exec := &JobExecution{
		ID:         uuid.New(),
		JobName:    jobName,
		Status:     ExecutionStatusRunning,
		Trigger:    trigger,
		StartedAt:  time.Now().UTC(),
		TotalSteps: len(stepNames),
		Steps:      make([]*JobStepExecution, 0, len(stepNames)),
	}
	for i, name := range stepNames {
		exec.Steps = append(exec.Steps, &JobStepExecution{
			ID:          uuid.New(),
			ExecutionID: exec.ID,
			Name:        name,
			Order:       i + 1,
			Status:      StepStatusPending,
		})
	}
	return exec, nil
}

// Terminal reports whether the execution has finished.
func (e *JobExecution) Terminal() bool {
	return e.Status == ExecutionStatusCompleted || e.Status == ExecutionStatusFailed
}

// Step returns the step with the given name.
func (e *JobExecution) Step(name string) (*JobStepExecution, error) {
	for _, s := range e.Steps {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrStepNotFound, name)
}

// NeverStarted reports whether no step has left PENDING.
func (e *JobExecution) NeverStarted() bool {
	for _, s := range e.Steps {
		if s.Status != StepStatusPending {
			return false
		}
	}
	return true
}

// StartStep moves the named step to RUNNING. Every earlier step must be
// COMPLETED so steps run strictly in order.
func (e *JobExecution) StartStep(name string, now time.Time) (*JobStepExecution, error) {
	if e.Terminal() {
		return nil, ErrExecutionTerminal
	}
	step, err := e.Step(name)
	if err != nil {
		return nil, err
	}
	if step.Status != StepStatusPending {
		return nil, fmt.Errorf("%w: step %s is %s", ErrInvalidStatusTransition, name, step.Status)
	}
	for _, s := range e.Steps {
		if s.Order < step.Order && s.Status != StepStatusCompleted {
			return nil, ErrStepOutOfOrder
		}
	}
	step.Status = StepStatusRunning
	step.StartedAt = &now
	return step, nil
}

// CompleteStep marks a RUNNING step COMPLETED and counts it.
func (e *JobExecution) CompleteStep(name string, ctx StepContext, now time.Time) error {
	if e.Terminal() {
		return ErrExecutionTerminal
	}
	step, err := e.Step(name)
	if err != nil {
		return err
	}
	if step.Status != StepStatusRunning {
		return ErrStepNotRunning
	}
	step.Status = StepStatusCompleted
	step.EndedAt = &now
	step.Context = ctx
	if e.CompletedSteps < e.TotalSteps {
		e.CompletedSteps++
	}
	return nil
}

// FailStep marks the named step FAILED and fails the whole execution.
// A PENDING step may be failed directly (e.g. an abandoned run); remaining
// steps stay PENDING.
func (e *JobExecution) FailStep(name string, message string, ctx StepContext, now time.Time) error {
	if e.Terminal() {
		return ErrExecutionTerminal
	}
	step, err := e.Step(name)
	if err != nil {
		return err
	}
	if step.Status != StepStatusRunning && step.Status != StepStatusPending {
		return fmt.Errorf("%w: step %s is %s", ErrInvalidStatusTransition, name, step.Status)
	}
	if step.StartedAt == nil {
		step.StartedAt = &now
	}
	step.Status = StepStatusFailed
	step.EndedAt = &now
	step.ErrorMessage = message
	if ctx != nil {
		step.Context = ctx
	}

	e.Status = ExecutionStatusFailed
	e.EndedAt = &now
	e.ErrorMessage = fmt.Sprintf("step %s failed: %s", name, message)
	return nil
}

// CurrentStep returns the RUNNING step, else the first PENDING one.
func (e *JobExecution) CurrentStep() *JobStepExecution {
	for _, s := range e.Steps {
		if s.Status == StepStatusRunning {
			return s
		}
	}
	for _, s := range e.Steps {
		if s.Status == StepStatusPending {
			return s
		}
	}
	return nil
}

// Complete finishes the execution once every step has completed.
func (e *JobExecution) Complete(now time.Time) error {
	if e.Terminal() {
		return ErrExecutionTerminal
	}
	if e.CompletedSteps != e.TotalSteps {
		return ErrStepsIncomplete
	}
	e.Status = ExecutionStatusCompleted
	e.EndedAt = &now
	return nil
}
