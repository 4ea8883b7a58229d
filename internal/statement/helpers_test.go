package statement

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/events"
	"github.com/phrazzld/fintrack-api/internal/generation"
	"github.com/phrazzld/fintrack-api/internal/jobs"
	"github.com/phrazzld/fintrack-api/internal/ledger"
	"github.com/phrazzld/fintrack-api/internal/store/memstore"
	"github.com/phrazzld/fintrack-api/internal/task"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const statementText = "03/02 CORNER MARKET #123 42.10\n03/05 PAYROLL 1000.00\n03/06 CITY PARKING 6.00"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// stubExtractor returns fixed text, or err when set.
type stubExtractor struct {
	text      string
	err       error
	passwords []string
}

func (e *stubExtractor) Extract(_ context.Context, _ []byte, password string) (string, error) {
	e.passwords = append(e.passwords, password)
	if e.err != nil {
		return "", e.err
	}
	return e.text, nil
}

// stubParser returns fixed rows, or err when set, and records requests.
type stubParser struct {
	mu       sync.Mutex
	rows     []domain.ParsedRow
	err      error
	requests []generation.StatementRequest
}

func (p *stubParser) ParseStatement(_ context.Context, req generation.StatementRequest) ([]domain.ParsedRow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return append([]domain.ParsedRow(nil), p.rows...), nil
}

func (p *stubParser) Model() string { return "stub-model" }

type memArchive struct {
	objects map[uuid.UUID][]byte
}

func (a *memArchive) Archive(_ context.Context, _ uuid.UUID, statementID uuid.UUID, content []byte) (string, error) {
	a.objects[statementID] = content
	return "mem://" + statementID.String(), nil
}

// inlineRunner executes submitted tasks on the caller's goroutine. With
// reject set, submissions are refused with it instead.
type inlineRunner struct {
	mu     sync.Mutex
	errs   []error
	reject error
}

func (r *inlineRunner) Submit(ctx context.Context, t task.Task) error {
	if r.reject != nil {
		return r.reject
	}
	if err := t.Execute(ctx); err != nil {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	}
	return nil
}

type fixture struct {
	store     *memstore.Store
	tracker   *jobs.Tracker
	poster    *ledger.Poster
	extractor *stubExtractor
	parser    *stubParser
	archive   *memArchive
	runner    *inlineRunner
	emitter   *events.InMemoryEventEmitter
	svc       *Service
	userID    uuid.UUID
	account   domain.Account
	groceries domain.Category
	salary    domain.Category
	transport domain.Category
}

// newFixture wires the service against an in-memory store with requested
// parses and confirmations running synchronously after commit.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memstore.New(),
		extractor: &stubExtractor{text: statementText},
		parser:    &stubParser{},
		archive:   &memArchive{objects: map[uuid.UUID][]byte{}},
		runner:    &inlineRunner{},
		userID:    uuid.New(),
	}
	f.account = domain.Account{ID: uuid.New(), UserID: f.userID, Name: "card", Balance: dec("500.00")}
	f.store.AddAccount(f.account)
	f.groceries = domain.Category{ID: uuid.New(), UserID: f.userID, Name: "Groceries", Type: domain.TransactionTypeExpense}
	f.salary = domain.Category{ID: uuid.New(), UserID: f.userID, Name: "Salary", Type: domain.TransactionTypeIncome}
	f.transport = domain.Category{ID: uuid.New(), UserID: f.userID, Name: "Transport", Type: domain.TransactionTypeExpense}
	f.store.AddCategory(f.groceries)
	f.store.AddCategory(f.salary)
	f.store.AddCategory(f.transport)
	f.store.SetUserKey(f.userID, "user-key")

	f.tracker = jobs.NewTracker(f.store, discard())
	f.poster = ledger.NewPoster(discard())
	emitter := events.NewInMemoryEventEmitter(discard())
	f.emitter = emitter

	svc, err := NewService(Deps{
		Tx:        f.store,
		Tracker:   f.tracker,
		Poster:    f.poster,
		Emitter:   emitter,
		Extractor: f.extractor,
		Archive:   f.archive,
		Parser:    f.parser,
	}, Config{}, discard())
	require.NoError(t, err)
	f.svc = svc

	handler := task.NewTaskFactoryEventHandler(f.runner, discard())
	handler.Register(events.TypeStatementParse, svc.ParseTaskFactory())
	handler.Register(events.TypeStatementConfirm, svc.ConfirmTaskFactory())
	emitter.RegisterHandler(handler)
	return f
}

func (f *fixture) upload(t *testing.T) *domain.StatementImport {
	t.Helper()
	st, err := f.svc.Upload(context.Background(), Upload{
		UserID:      f.userID,
		AccountID:   f.account.ID,
		FileName:    "march.pdf",
		ContentType: ContentTypePDF,
		Content:     []byte("%PDF-1.4 statement"),
	})
	require.NoError(t, err)
	return st
}

func (f *fixture) statement(t *testing.T, id uuid.UUID) *domain.StatementImport {
	t.Helper()
	st, err := f.store.Repos().Statements.GetByID(context.Background(), id)
	require.NoError(t, err)
	return st
}

func (f *fixture) execution(t *testing.T, id uuid.UUID) *domain.JobExecution {
	t.Helper()
	exec, err := f.store.Repos().Jobs.GetExecution(context.Background(), id)
	require.NoError(t, err)
	return exec
}

func (f *fixture) seedTransaction(t *testing.T, date, amount, description string) {
	t.Helper()
	d, err := time.Parse(domain.DateLayout, date)
	require.NoError(t, err)
	require.NoError(t, f.poster.Post(context.Background(), f.store.Repos(), &domain.Transaction{
		ID:              uuid.New(),
		UserID:          f.userID,
		AccountID:       f.account.ID,
		Type:            domain.TransactionTypeExpense,
		Amount:          dec(amount),
		Description:     description,
		TransactionDate: d,
		Source:          domain.SourceManual,
	}))
}

func (f *fixture) importedFrom(statementID uuid.UUID) []domain.Transaction {
	var out []domain.Transaction
	for _, txn := range f.store.Transactions() {
		if txn.Source == domain.SourceStatementImport && txn.SourceID != nil && *txn.SourceID == statementID {
			out = append(out, txn)
		}
	}
	return out
}

// modelRows is what the stub model returns for statementText.
func modelRows() []domain.ParsedRow {
	return []domain.ParsedRow{
		{Amount: dec("42.10"), Type: domain.TransactionTypeExpense, Description: "CORNER MARKET #123", TransactionDate: "2024-03-02", CategoryName: "Groceries"},
		{Amount: dec("1000.00"), Type: domain.TransactionTypeIncome, Description: "PAYROLL", TransactionDate: "2024-03-05", CategoryName: "salary"},
		{Amount: dec("6.00"), Type: domain.TransactionTypeExpense, Description: "CITY PARKING", TransactionDate: "2024-03-06", CategoryName: "Groceries"},
	}
}
