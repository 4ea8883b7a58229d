// Package memstore is an in-memory implementation of the store interfaces.
// It backs service tests and local runs without PostgreSQL, and honours the
// same transaction contract: writes made inside InTx are discarded when the
// function fails, and AfterCommit hooks run only after success.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// Faults lets tests inject failures into individual operations.
// A nil function means no fault.
type Faults struct {
	CreateTransaction func(txn *domain.Transaction) error
	UpdateBatch       func(batch *domain.ImportBatch) error
	UpdateRecurring   func(def *domain.RecurringDefinition) error
	SaveExecution     func(exec *domain.JobExecution) error
}

type data struct {
	accounts     map[uuid.UUID]domain.Account
	categories   map[uuid.UUID]domain.Category
	mappings     []domain.MerchantMapping
	transactions map[uuid.UUID]domain.Transaction
	batches      map[uuid.UUID]domain.ImportBatch
	statements   map[uuid.UUID]domain.StatementImport
	recurring    map[uuid.UUID]domain.RecurringDefinition
	jobs         map[string]domain.JobDefinition
	executions   map[uuid.UUID]*domain.JobExecution
	userKeys     map[uuid.UUID]string
	sharedKey    string
	sharedOn     bool
}

// Store holds all entities in maps guarded by a mutex.
type Store struct {
	// txMu serializes transactions against each other and against
	// auto-commit calls; mu guards the maps themselves.
	txMu sync.Mutex
	mu   sync.Mutex
	d    data

	// Now is the clock used for timestamps and lease checks.
	Now func() time.Time

	Faults Faults
}

var _ store.Transactor = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		d: data{
			accounts:     map[uuid.UUID]domain.Account{},
			categories:   map[uuid.UUID]domain.Category{},
			transactions: map[uuid.UUID]domain.Transaction{},
			batches:      map[uuid.UUID]domain.ImportBatch{},
			statements:   map[uuid.UUID]domain.StatementImport{},
			recurring:    map[uuid.UUID]domain.RecurringDefinition{},
			jobs:         map[string]domain.JobDefinition{},
			executions:   map[uuid.UUID]*domain.JobExecution{},
			userKeys:     map[uuid.UUID]string{},
		},
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// Repos returns auto-committing repositories.
func (s *Store) Repos() store.Repositories {
	return s.repos(true)
}

// InTx runs fn against a snapshot-protected view. If fn returns an error
// (or panics) every write it made is rolled back.
func (s *Store) InTx(ctx context.Context, fn store.RepoFn) (err error) {
	s.txMu.Lock()
	s.mu.Lock()
	snapshot := s.d.clone()
	s.mu.Unlock()

	txCtx, hooks := store.WithCommitHooks(ctx)
	committed := false
	defer func() {
		if !committed {
			s.mu.Lock()
			s.d = snapshot
			s.mu.Unlock()
		}
		s.txMu.Unlock()
		if committed {
			hooks.Run(ctx)
		}
	}()

	if err = fn(txCtx, s.repos(false)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) repos(auto bool) store.Repositories {
	v := &view{s: s, auto: auto}
	return store.Repositories{
		Accounts:     accountView{v},
		Categories:   categoryView{v},
		Mappings:     mappingView{v},
		Transactions: transactionView{v},
		Batches:      batchView{v},
		Statements:   statementView{v},
		Credentials:  credentialView{v},
		Recurring:    recurringView{v},
		Jobs:         jobView{v},
	}
}

// view is the shared lock discipline of every repository.
type view struct {
	s    *Store
	auto bool
}

func (v *view) lock() func() {
	if v.auto {
		v.s.txMu.Lock()
	}
	v.s.mu.Lock()
	return func() {
		v.s.mu.Unlock()
		if v.auto {
			v.s.txMu.Unlock()
		}
	}
}

func (v *view) now() time.Time {
	return v.s.Now()
}

func (d data) clone() data {
	c := data{
		accounts:     make(map[uuid.UUID]domain.Account, len(d.accounts)),
		categories:   make(map[uuid.UUID]domain.Category, len(d.categories)),
		mappings:     slices.Clone(d.mappings),
		transactions: make(map[uuid.UUID]domain.Transaction, len(d.transactions)),
		batches:      make(map[uuid.UUID]domain.ImportBatch, len(d.batches)),
		statements:   make(map[uuid.UUID]domain.StatementImport, len(d.statements)),
		recurring:    make(map[uuid.UUID]domain.RecurringDefinition, len(d.recurring)),
		jobs:         make(map[string]domain.JobDefinition, len(d.jobs)),
		executions:   make(map[uuid.UUID]*domain.JobExecution, len(d.executions)),
		userKeys:     make(map[uuid.UUID]string, len(d.userKeys)),
		sharedKey:    d.sharedKey,
		sharedOn:     d.sharedOn,
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.categories {
		c.categories[k] = v
	}
	for k, v := range d.transactions {
		c.transactions[k] = cloneTransaction(v)
	}
	for k, v := range d.batches {
		c.batches[k] = cloneBatch(v)
	}
	for k, v := range d.statements {
		c.statements[k] = cloneStatement(v)
	}
	for k, v := range d.recurring {
		c.recurring[k] = v
	}
	for k, v := range d.jobs {
		c.jobs[k] = v
	}
	for k, v := range d.executions {
		c.executions[k] = cloneExecution(v)
	}
	for k, v := range d.userKeys {
		c.userKeys[k] = v
	}
	return c
}

func cloneTransaction(t domain.Transaction) domain.Transaction {
	t.Tags = slices.Clone(t.Tags)
	return t
}

func cloneBatch(b domain.ImportBatch) domain.ImportBatch {
	if b.Verdicts != nil {
		verdicts := make([]domain.RowVerdict, len(b.Verdicts))
		for i, v := range b.Verdicts {
			v.Errors = slices.Clone(v.Errors)
			v.Tags = slices.Clone(v.Tags)
			verdicts[i] = v
		}
		b.Verdicts = verdicts
	}
	return b
}

func cloneStatement(s domain.StatementImport) domain.StatementImport {
	s.ParsedRows = slices.Clone(s.ParsedRows)
	return s
}

func cloneExecution(e *domain.JobExecution) *domain.JobExecution {
	c := *e
	c.Steps = make([]*domain.JobStepExecution, len(e.Steps))
	for i, st := range e.Steps {
		sc := *st
		if st.Context != nil {
			sc.Context = make(domain.StepContext, len(st.Context))
			for k, v := range st.Context {
				sc.Context[k] = v
			}
		}
		c.Steps[i] = &sc
	}
	return &c
}
