package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// PostgresJobStore implements store.JobStore.
//
// An execution and its steps are always written by one statement, so a
// reader never sees an execution whose step rows disagree with it, even
// when the store runs outside a transaction.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.JobStore = (*PostgresJobStore)(nil)

// NewPostgresJobStore creates a PostgresJobStore.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{db: db, logger: logger.With(slog.String("component", "job_store"))}
}

// CreateDefinition implements store.JobStore.CreateDefinition.
func (s *PostgresJobStore) CreateDefinition(ctx context.Context, def *domain.JobDefinition) error {
	now := time.Now().UTC()
	def.CreatedAt, def.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_definitions (name, description, cron, enabled, last_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, def.Name, def.Description, def.Cron, def.Enabled, nullTime(def.LastRunAt), def.CreatedAt, def.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return store.ErrJobExists
		}
		return MapError(err)
	}
	return nil
}

const definitionColumns = `name, description, cron, enabled, last_run_at, created_at, updated_at`

// GetDefinition implements store.JobStore.GetDefinition.
func (s *PostgresJobStore) GetDefinition(ctx context.Context, name string) (*domain.JobDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+definitionColumns+` FROM job_definitions WHERE name = $1`, name)
	def, err := scanDefinition(row)
	if err != nil {
		return nil, mapNotFound(err, store.ErrJobNotFound)
	}
	return def, nil
}

// ListDefinitions implements store.JobStore.ListDefinitions.
func (s *PostgresJobStore) ListDefinitions(ctx context.Context) ([]domain.JobDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+definitionColumns+` FROM job_definitions ORDER BY name`)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.JobDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job definition: %w", err)
		}
		out = append(out, *def)
	}
	return out, rows.Err()
}

// UpdateSchedule implements store.JobStore.UpdateSchedule.
func (s *PostgresJobStore) UpdateSchedule(ctx context.Context, name, cron string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE job_definitions SET cron = $2, enabled = $3, updated_at = NOW() WHERE name = $1
	`, name, cron, enabled)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrJobNotFound)
}

// UpdateLastRun implements store.JobStore.UpdateLastRun.
func (s *PostgresJobStore) UpdateLastRun(ctx context.Context, name string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE job_definitions SET last_run_at = $2 WHERE name = $1`, name, at)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrJobNotFound)
}

// CreateExecution implements store.JobStore.CreateExecution.
func (s *PostgresJobStore) CreateExecution(ctx context.Context, exec *domain.JobExecution) error {
	if len(exec.Steps) == 0 {
		return domain.ErrNoSteps
	}
	args := []any{
		exec.ID, exec.JobName, exec.Status, exec.Trigger, exec.StartedAt,
		nullTime(exec.EndedAt), exec.TotalSteps, exec.CompletedSteps, exec.ErrorMessage,
	}
	values := make([]string, 0, len(exec.Steps))
	for _, step := range exec.Steps {
		stepCtx, err := contextArg(step.Context)
		if err != nil {
			return err
		}
		values = append(values, placeholders(len(args)+1, 9))
		args = append(args,
			step.ID, exec.ID, step.Name, step.Order, step.Status,
			nullTime(step.StartedAt), nullTime(step.EndedAt), stepCtx, step.ErrorMessage)
	}

	query := `
		WITH execution AS (
			INSERT INTO job_executions (id, job_name, status, trigger, started_at, ended_at,
				total_steps, completed_steps, error_message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		)
		INSERT INTO job_step_executions (id, execution_id, name, step_order, status,
			started_at, ended_at, context, error_message)
		VALUES ` + strings.Join(values, ", ")

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create job execution",
			slog.String("execution_id", exec.ID.String()),
			slog.String("job_name", exec.JobName),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

const executionColumns = `id, job_name, status, trigger, started_at, ended_at,
	total_steps, completed_steps, error_message`

// GetExecution implements store.JobStore.GetExecution.
func (s *PostgresJobStore) GetExecution(ctx context.Context, id uuid.UUID) (*domain.JobExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM job_executions WHERE id = $1`, id)
	exec, err := scanExecution(row)
	if err != nil {
		return nil, mapNotFound(err, store.ErrExecutionNotFound)
	}
	if err := s.loadSteps(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// ListExecutions implements store.JobStore.ListExecutions.
func (s *PostgresJobStore) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]domain.JobExecution, error) {
	var (
		where []string
		args  []any
	)
	if filter.JobName != "" {
		args = append(args, filter.JobName)
		where = append(where, fmt.Sprintf("job_name = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + executionColumns + ` FROM job_executions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.listExecutions(ctx, query, args...)
}

// SaveExecution implements store.JobStore.SaveExecution.
func (s *PostgresJobStore) SaveExecution(ctx context.Context, exec *domain.JobExecution) error {
	if len(exec.Steps) == 0 {
		return domain.ErrNoSteps
	}
	args := []any{
		exec.ID, exec.Status, nullTime(exec.EndedAt), exec.CompletedSteps, exec.ErrorMessage,
	}
	values := make([]string, 0, len(exec.Steps))
	for _, step := range exec.Steps {
		stepCtx, err := contextArg(step.Context)
		if err != nil {
			return err
		}
		n := len(args)
		values = append(values, fmt.Sprintf("($%d::uuid, $%d::text, $%d::timestamptz, $%d::timestamptz, $%d::jsonb, $%d::text)",
			n+1, n+2, n+3, n+4, n+5, n+6))
		args = append(args, step.ID, step.Status, nullTime(step.StartedAt), nullTime(step.EndedAt), stepCtx, step.ErrorMessage)
	}

	query := `
		WITH execution AS (
			UPDATE job_executions
			SET status = $2, ended_at = $3, completed_steps = $4, error_message = $5
			WHERE id = $1
		)
		UPDATE job_step_executions AS s
		SET status = v.status, started_at = v.started_at, ended_at = v.ended_at,
		    context = v.context, error_message = v.error_message
		FROM (VALUES ` + strings.Join(values, ", ") + `) AS v (id, status, started_at, ended_at, context, error_message)
		WHERE s.id = v.id AND s.execution_id = $1`

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrExecutionNotFound)
}

// ListAbandoned implements store.JobStore.ListAbandoned.
func (s *PostgresJobStore) ListAbandoned(ctx context.Context, jobName string, cutoff time.Time) ([]domain.JobExecution, error) {
	return s.listExecutions(ctx, `
		SELECT `+executionColumns+`
		FROM job_executions e
		WHERE e.job_name = $1
		  AND e.status = 'RUNNING'
		  AND e.started_at < $2
		  AND NOT EXISTS (
			SELECT 1 FROM job_step_executions s
			WHERE s.execution_id = e.id AND s.status <> 'PENDING'
		  )
		ORDER BY e.started_at`, jobName, cutoff)
}

func (s *PostgresJobStore) listExecutions(ctx context.Context, query string, args ...any) ([]domain.JobExecution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	var execs []*domain.JobExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan job execution: %w", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// Close before loading steps so a single-connection transaction is free.
	_ = rows.Close()

	out := make([]domain.JobExecution, 0, len(execs))
	for _, exec := range execs {
		if err := s.loadSteps(ctx, exec); err != nil {
			return nil, err
		}
		out = append(out, *exec)
	}
	return out, nil
}

func (s *PostgresJobStore) loadSteps(ctx context.Context, exec *domain.JobExecution) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, name, step_order, status, started_at, ended_at, context, error_message
		FROM job_step_executions
		WHERE execution_id = $1
		ORDER BY step_order
	`, exec.ID)
	if err != nil {
		return MapError(err)
	}
	defer func() { _ = rows.Close() }()

	exec.Steps = make([]*domain.JobStepExecution, 0, exec.TotalSteps)
	for rows.Next() {
		var (
			step          domain.JobStepExecution
			started, done sql.NullTime
			stepCtx       []byte
		)
		if err := rows.Scan(&step.ID, &step.ExecutionID, &step.Name, &step.Order, &step.Status,
			&started, &done, &stepCtx, &step.ErrorMessage); err != nil {
			return fmt.Errorf("failed to scan job step: %w", err)
		}
		step.StartedAt = timePtr(started)
		step.EndedAt = timePtr(done)
		if len(stepCtx) > 0 {
			if err := json.Unmarshal(stepCtx, &step.Context); err != nil {
				return fmt.Errorf("failed to decode step context: %w", err)
			}
		}
		exec.Steps = append(exec.Steps, &step)
	}
	return rows.Err()
}

func scanDefinition(row rowScanner) (*domain.JobDefinition, error) {
	var (
		def     domain.JobDefinition
		lastRun sql.NullTime
	)
	if err := row.Scan(&def.Name, &def.Description, &def.Cron, &def.Enabled, &lastRun, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return nil, err
	}
	def.LastRunAt = timePtr(lastRun)
	return &def, nil
}

func scanExecution(row rowScanner) (*domain.JobExecution, error) {
	var (
		exec  domain.JobExecution
		ended sql.NullTime
	)
	err := row.Scan(&exec.ID, &exec.JobName, &exec.Status, &exec.Trigger, &exec.StartedAt, &ended,
		&exec.TotalSteps, &exec.CompletedSteps, &exec.ErrorMessage)
	if err != nil {
		return nil, err
	}
	exec.StartedAt = exec.StartedAt.UTC()
	exec.EndedAt = timePtr(ended)
	return &exec, nil
}

// contextArg encodes a step context; an empty one is stored as NULL.
func contextArg(ctx domain.StepContext) (any, error) {
	if len(ctx) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to encode step context: %w", err)
	}
	return b, nil
}

// placeholders renders "($start, ..., $start+n-1)".
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
