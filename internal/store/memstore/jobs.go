package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/store"
)

type jobView struct{ *view }

func (v jobView) CreateDefinition(_ context.Context, def *domain.JobDefinition) error {
	defer v.lock()()
	if _, exists := v.s.d.jobs[def.Name]; exists {
		return store.ErrJobExists
	}
	now := v.now()
	def.CreatedAt, def.UpdatedAt = now, now
	v.s.d.jobs[def.Name] = *def
	return nil
}

func (v jobView) GetDefinition(_ context.Context, name string) (*domain.JobDefinition, error) {
	defer v.lock()()
	def, ok := v.s.d.jobs[name]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return &def, nil
}

func (v jobView) ListDefinitions(_ context.Context) ([]domain.JobDefinition, error) {
	defer v.lock()()
	out := make([]domain.JobDefinition, 0, len(v.s.d.jobs))
	for _, def := range v.s.d.jobs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v jobView) UpdateSchedule(_ context.Context, name, cron string, enabled bool) error {
	defer v.lock()()
	def, ok := v.s.d.jobs[name]
	if !ok {
		return store.ErrJobNotFound
	}
	def.Cron = cron
	def.Enabled = enabled
	def.UpdatedAt = v.now()
	v.s.d.jobs[name] = def
	return nil
}

func (v jobView) UpdateLastRun(_ context.Context, name string, at time.Time) error {
	defer v.lock()()
	def, ok := v.s.d.jobs[name]
	if !ok {
		return store.ErrJobNotFound
	}
	def.LastRunAt = &at
	v.s.d.jobs[name] = def
	return nil
}

func (v jobView) CreateExecution(_ context.Context, exec *domain.JobExecution) error {
	defer v.lock()()
	if _, exists := v.s.d.executions[exec.ID]; exists {
		return store.ErrDuplicate
	}
	v.s.d.executions[exec.ID] = cloneExecution(exec)
	return nil
}

func (v jobView) GetExecution(_ context.Context, id uuid.UUID) (*domain.JobExecution, error) {
	defer v.lock()()
	exec, ok := v.s.d.executions[id]
	if !ok {
		return nil, store.ErrExecutionNotFound
	}
	return cloneExecution(exec), nil
}

func (v jobView) ListExecutions(_ context.Context, filter store.ExecutionFilter) ([]domain.JobExecution, error) {
	defer v.lock()()
	var matched []*domain.JobExecution
	for _, exec := range v.s.d.executions {
		if filter.JobName != "" && exec.JobName != filter.JobName {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		matched = append(matched, exec)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartedAt.After(matched[j].StartedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]domain.JobExecution, 0, len(matched))
	for _, exec := range matched {
		out = append(out, *cloneExecution(exec))
	}
	return out, nil
}

func (v jobView) SaveExecution(_ context.Context, exec *domain.JobExecution) error {
	defer v.lock()()
	if f := v.s.Faults.SaveExecution; f != nil {
		if err := f(exec); err != nil {
			return err
		}
	}
	if _, ok := v.s.d.executions[exec.ID]; !ok {
		return store.ErrExecutionNotFound
	}
	v.s.d.executions[exec.ID] = cloneExecution(exec)
	return nil
}

func (v jobView) ListAbandoned(_ context.Context, jobName string, cutoff time.Time) ([]domain.JobExecution, error) {
	defer v.lock()()
	var out []domain.JobExecution
	for _, exec := range v.s.d.executions {
		if exec.JobName != jobName || exec.Status != domain.ExecutionStatusRunning {
			continue
		}
		if !exec.StartedAt.Before(cutoff) || !exec.NeverStarted() {
			continue
		}
		out = append(out, *cloneExecution(exec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
