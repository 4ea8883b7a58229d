package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/store"
)

type batchView struct{ *view }

func (v batchView) Create(_ context.Context, b *domain.ImportBatch) error {
	defer v.lock()()
	if _, exists := v.s.d.batches[b.ID]; exists {
		return store.ErrDuplicate
	}
	now := v.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	v.s.d.batches[b.ID] = cloneBatch(*b)
	return nil
}

func (v batchView) GetByID(_ context.Context, id uuid.UUID) (*domain.ImportBatch, error) {
	defer v.lock()()
	b, ok := v.s.d.batches[id]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	b = cloneBatch(b)
	return &b, nil
}

func (v batchView) Update(_ context.Context, b *domain.ImportBatch) error {
	defer v.lock()()
	if f := v.s.Faults.UpdateBatch; f != nil {
		if err := f(b); err != nil {
			return err
		}
	}
	if _, ok := v.s.d.batches[b.ID]; !ok {
		return store.ErrBatchNotFound
	}
	b.UpdatedAt = v.now()
	v.s.d.batches[b.ID] = cloneBatch(*b)
	return nil
}

func (v batchView) LinkExecution(_ context.Context, batchID, execID uuid.UUID) (bool, error) {
	defer v.lock()()
	b, ok := v.s.d.batches[batchID]
	if !ok {
		return false, store.ErrBatchNotFound
	}
	if b.Status != domain.BatchStatusImporting {
		return false, nil
	}
	if b.JobExecutionID != nil && *b.JobExecutionID != execID {
		return false, nil
	}
	if exec, ok := v.s.d.executions[execID]; !ok || exec.Status != domain.ExecutionStatusRunning {
		return false, nil
	}
	id := execID
	b.JobExecutionID = &id
	b.UpdatedAt = v.now()
	v.s.d.batches[batchID] = b
	return true, nil
}

func (v batchView) UnlinkExecution(_ context.Context, execID uuid.UUID) (int, error) {
	defer v.lock()()
	n := 0
	for id, b := range v.s.d.batches {
		if b.Status == domain.BatchStatusImporting && b.JobExecutionID != nil && *b.JobExecutionID == execID {
			b.JobExecutionID = nil
			v.s.d.batches[id] = b
			n++
		}
	}
	return n, nil
}

func (v batchView) ClaimStuck(_ context.Context, cutoff, leaseUntil time.Time, limit int) ([]domain.ImportBatch, error) {
	defer v.lock()()
	now := v.now()
	var candidates []domain.ImportBatch
	for _, b := range v.s.d.batches {
		if b.Status != domain.BatchStatusImporting || b.JobExecutionID != nil {
			continue
		}
		if !b.UpdatedAt.Before(cutoff) {
			continue
		}
		if b.ClaimExpiresAt != nil && b.ClaimExpiresAt.After(now) {
			continue
		}
		candidates = append(candidates, b)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].UpdatedAt.Before(candidates[j].UpdatedAt) })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]domain.ImportBatch, 0, len(candidates))
	for _, b := range candidates {
		lease := leaseUntil
		b.ClaimExpiresAt = &lease
		v.s.d.batches[b.ID] = b
		out = append(out, cloneBatch(b))
	}
	return out, nil
}

type statementView struct{ *view }

func (v statementView) Create(_ context.Context, st *domain.StatementImport) error {
	defer v.lock()()
	if _, exists := v.s.d.statements[st.ID]; exists {
		return store.ErrDuplicate
	}
	now := v.now()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	v.s.d.statements[st.ID] = cloneStatement(*st)
	return nil
}

func (v statementView) GetByID(_ context.Context, id uuid.UUID) (*domain.StatementImport, error) {
	defer v.lock()()
	st, ok := v.s.d.statements[id]
	if !ok {
		return nil, store.ErrStatementNotFound
	}
	st = cloneStatement(st)
	return &st, nil
}

func (v statementView) GetByExecution(_ context.Context, execID uuid.UUID) (*domain.StatementImport, error) {
	defer v.lock()()
	for _, st := range v.s.d.statements {
		if st.JobExecutionID != nil && *st.JobExecutionID == execID {
			st = cloneStatement(st)
			return &st, nil
		}
	}
	return nil, store.ErrStatementNotFound
}

func (v statementView) Update(_ context.Context, st *domain.StatementImport) error {
	defer v.lock()()
	if _, ok := v.s.d.statements[st.ID]; !ok {
		return store.ErrStatementNotFound
	}
	st.UpdatedAt = v.now()
	v.s.d.statements[st.ID] = cloneStatement(*st)
	return nil
}

type credentialView struct{ *view }

func (v credentialView) GetUserKey(_ context.Context, userID uuid.UUID) (string, error) {
	defer v.lock()()
	key, ok := v.s.d.userKeys[userID]
	if !ok || key == "" {
		return "", store.ErrCredentialNotFound
	}
	return key, nil
}

func (v credentialView) GetSharedKey(_ context.Context) (string, bool, error) {
	defer v.lock()()
	return v.s.d.sharedKey, v.s.d.sharedOn, nil
}

type recurringView struct{ *view }

func (v recurringView) Create(_ context.Context, def *domain.RecurringDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	defer v.lock()()
	if _, exists := v.s.d.recurring[def.ID]; exists {
		return store.ErrDuplicate
	}
	now := v.now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	v.s.d.recurring[def.ID] = *def
	return nil
}

func (v recurringView) GetByID(_ context.Context, id uuid.UUID) (*domain.RecurringDefinition, error) {
	defer v.lock()()
	def, ok := v.s.d.recurring[id]
	if !ok {
		return nil, store.ErrRecurringNotFound
	}
	return &def, nil
}

func (v recurringView) ListDue(_ context.Context, today time.Time) ([]domain.RecurringDefinition, error) {
	defer v.lock()()
	today = domain.DateOf(today)
	var out []domain.RecurringDefinition
	for _, def := range v.s.d.recurring {
		if def.Status == domain.RecurringStatusActive && !domain.DateOf(def.NextExecutionDate).After(today) {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextExecutionDate.Before(out[j].NextExecutionDate)
	})
	return out, nil
}

func (v recurringView) Update(_ context.Context, def *domain.RecurringDefinition) error {
	defer v.lock()()
	if f := v.s.Faults.UpdateRecurring; f != nil {
		if err := f(def); err != nil {
			return err
		}
	}
	if _, ok := v.s.d.recurring[def.ID]; !ok {
		return store.ErrRecurringNotFound
	}
	def.UpdatedAt = v.now()
	v.s.d.recurring[def.ID] = *def
	return nil
}
