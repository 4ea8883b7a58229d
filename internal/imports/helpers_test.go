package imports

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/events"
	"github.com/phrazzld/fintrack-api/internal/jobs"
	"github.com/phrazzld/fintrack-api/internal/ledger"
	"github.com/phrazzld/fintrack-api/internal/store/memstore"
	"github.com/phrazzld/fintrack-api/internal/task"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const csvHeader = "date,amount,type,description,categoryName,notes,tags\n"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func csvOf(rows ...string) []byte {
	return []byte(csvHeader + strings.Join(rows, "\n") + "\n")
}

// inlineRunner executes submitted tasks on the caller's goroutine.
type inlineRunner struct {
	mu   sync.Mutex
	errs []error
}

func (r *inlineRunner) Submit(ctx context.Context, t task.Task) error {
	if err := t.Execute(ctx); err != nil {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	}
	return nil
}

// recordingEmitter keeps events without dispatching them.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.TaskRequestEvent
}

func (e *recordingEmitter) EmitEvent(_ context.Context, event *events.TaskRequestEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) requests(t *testing.T) []events.ImportRequested {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.ImportRequested, 0, len(e.events))
	for _, ev := range e.events {
		require.Equal(t, events.TypeCSVImport, ev.Type)
		var req events.ImportRequested
		require.NoError(t, ev.UnmarshalPayload(&req))
		out = append(out, req)
	}
	return out
}

type fixture struct {
	store     *memstore.Store
	tracker   *jobs.Tracker
	poster    *ledger.Poster
	svc       *Service
	runner    *inlineRunner
	recorder  *recordingEmitter
	emitter   events.EventEmitter
	userID    uuid.UUID
	account   domain.Account
	groceries domain.Category
	salary    domain.Category
}

// newFixture wires the service against an in-memory store. With inline set,
// confirmed imports run synchronously through the event and task layers;
// otherwise requested imports are only recorded.
func newFixture(t *testing.T, inline bool) *fixture {
	t.Helper()
	f := &fixture{
		store:  memstore.New(),
		userID: uuid.New(),
		runner: &inlineRunner{},
	}
	f.account = domain.Account{ID: uuid.New(), UserID: f.userID, Name: "checking", Balance: dec("500.00")}
	f.store.AddAccount(f.account)
	f.groceries = domain.Category{ID: uuid.New(), UserID: f.userID, Name: "Groceries", Type: domain.TransactionTypeExpense}
	f.salary = domain.Category{ID: uuid.New(), UserID: f.userID, Name: "Salary", Type: domain.TransactionTypeIncome}
	f.store.AddCategory(f.groceries)
	f.store.AddCategory(f.salary)

	f.tracker = jobs.NewTracker(f.store, discard())
	f.poster = ledger.NewPoster(discard())

	var emitter events.EventEmitter
	var inMemory *events.InMemoryEventEmitter
	if inline {
		inMemory = events.NewInMemoryEventEmitter(discard())
		emitter = inMemory
	} else {
		f.recorder = &recordingEmitter{}
		emitter = f.recorder
	}
	f.emitter = emitter

	svc, err := NewService(f.store, f.tracker, f.poster, emitter, Config{}, discard())
	require.NoError(t, err)
	f.svc = svc

	if inline {
		handler := task.NewTaskFactoryEventHandler(f.runner, discard())
		handler.Register(events.TypeCSVImport, svc.TaskFactory())
		inMemory.RegisterHandler(handler)
	}
	return f
}

// seedTransaction posts an existing ledger entry on the fixture account.
func (f *fixture) seedTransaction(t *testing.T, date, amount, description string, typ domain.TransactionType) {
	t.Helper()
	d, err := time.Parse(domain.DateLayout, date)
	require.NoError(t, err)
	require.NoError(t, f.poster.Post(context.Background(), f.store.Repos(), &domain.Transaction{
		UserID:          f.userID,
		AccountID:       f.account.ID,
		Type:            typ,
		Amount:          dec(amount),
		Description:     description,
		TransactionDate: d,
		Source:          domain.SourceManual,
	}))
}

func (f *fixture) upload(t *testing.T, content []byte) *domain.ImportBatch {
	t.Helper()
	batch, err := f.svc.ValidateUpload(context.Background(), Upload{
		UserID:    f.userID,
		AccountID: f.account.ID,
		FileName:  "upload.csv",
		Content:   content,
	})
	require.NoError(t, err)
	return batch
}

func (f *fixture) importedFrom(batchID uuid.UUID) []domain.Transaction {
	var out []domain.Transaction
	for _, txn := range f.store.Transactions() {
		if txn.Source == domain.SourceCSVImport && txn.SourceID != nil && *txn.SourceID == batchID {
			out = append(out, txn)
		}
	}
	return out
}

func (f *fixture) execution(t *testing.T, id uuid.UUID) *domain.JobExecution {
	t.Helper()
	exec, err := f.store.Repos().Jobs.GetExecution(context.Background(), id)
	require.NoError(t, err)
	return exec
}

func (f *fixture) batch(t *testing.T, id uuid.UUID) *domain.ImportBatch {
	t.Helper()
	b, err := f.store.Repos().Batches.GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func stepStatuses(exec *domain.JobExecution) map[string]domain.StepStatus {
	out := make(map[string]domain.StepStatus, len(exec.Steps))
	for _, s := range exec.Steps {
		out[s.Name] = s.Status
	}
	return out
}
