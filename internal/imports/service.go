package imports

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/events"
	"github.com/phrazzld/fintrack-api/internal/jobs"
	"github.com/phrazzld/fintrack-api/internal/ledger"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// JobName is the job every CSV import execution is recorded under.
const JobName = "csv-import"

// Step names of an import execution, in order.
const (
	StepRevalidate     = "revalidate"
	StepDuplicateCheck = "duplicate-check"
	StepInsert         = "insert"
	StepSummarize      = "summarize"
)

// StepNames lists the steps of an import execution in order.
var StepNames = []string{StepRevalidate, StepDuplicateCheck, StepInsert, StepSummarize}

// DefaultMaxRows is the data row ceiling of one upload.
const DefaultMaxRows = 5000

// Config holds the import service limits.
type Config struct {
	MaxRows int
}

// Upload is a CSV file submitted for validation.
type Upload struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
	FileName  string
	Content   []byte
}

// Service validates, stages and imports CSV batches.
type Service struct {
	tx       store.Transactor
	tracker  *jobs.Tracker
	poster   *ledger.Poster
	emitter  events.EventEmitter
	validate *validator.Validate
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a Service.
// It returns an error if any of the required dependencies are nil.
func NewService(
	tx store.Transactor,
	tracker *jobs.Tracker,
	poster *ledger.Poster,
	emitter events.EventEmitter,
	cfg Config,
	logger *slog.Logger,
) (*Service, error) {
	if tx == nil || tracker == nil || poster == nil || emitter == nil {
		return nil, &ServiceError{
			Operation: "create_service",
			Message:   "transactor, tracker, poster and emitter are required",
		}
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	return &Service{
		tx:       tx,
		tracker:  tracker,
		poster:   poster,
		emitter:  emitter,
		validate: newRowValidator(),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With("component", "csv_import_service"),
	}, nil
}

// ValidateUpload parses and classifies every row of an upload and stages
// the batch as VALIDATED together with its raw payload and verdicts. No
// ledger entry is written.
func (s *Service) ValidateUpload(ctx context.Context, in Upload) (*domain.ImportBatch, error) {
	repos := s.tx.Repos()
	if _, err := ownedAccount(ctx, repos, in.UserID, in.AccountID); err != nil {
		return nil, NewServiceError("validate_upload", "failed to load account", err)
	}

	records, err := readRecords(in.Content, s.cfg.MaxRows)
	if err != nil {
		return nil, NewServiceError("validate_upload", "failed to read csv", err)
	}

	verdicts, err := s.classifyRows(ctx, repos, in.UserID, in.AccountID, records)
	if err != nil {
		return nil, NewServiceError("validate_upload", "failed to classify rows", err)
	}

	now := s.now()
	batch := &domain.ImportBatch{
		ID:         uuid.New(),
		UserID:     in.UserID,
		AccountID:  in.AccountID,
		FileName:   in.FileName,
		FileSize:   int64(len(in.Content)),
		Status:     domain.BatchStatusValidated,
		RawContent: string(in.Content),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	batch.ApplyVerdicts(verdicts)

	if err := repos.Batches.Create(ctx, batch); err != nil {
		return nil, NewServiceError("validate_upload", "failed to store batch", err)
	}

	s.logger.InfoContext(ctx, "csv batch validated",
		"batch_id", batch.ID,
		"user_id", in.UserID,
		"total_rows", batch.TotalRows,
		"valid_rows", batch.ValidRows,
		"duplicate_rows", batch.DuplicateRows,
		"error_rows", batch.ErrorRows)
	return batch, nil
}

// Confirm moves a VALIDATED batch to IMPORTING and creates its execution.
// The import task is requested only after that transaction commits, so the
// worker always sees the batch and execution it is handed.
func (s *Service) Confirm(ctx context.Context, userID, batchID uuid.UUID, skipDuplicates bool) (*domain.ImportBatch, error) {
	var batch *domain.ImportBatch
	err := s.tx.InTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		b, err := ownedBatch(ctx, repos, userID, batchID)
		if err != nil {
			return err
		}
		if err := b.MarkImporting(skipDuplicates); err != nil {
			return fmt.Errorf("%w: batch is %s", ErrBatchNotValidated, b.Status)
		}

		exec, err := domain.NewJobExecution(JobName, domain.TriggerManual, StepNames...)
		if err != nil {
			return err
		}
		if err := s.tracker.Create(ctx, repos, exec); err != nil {
			return err
		}
		if err := repos.Batches.Update(ctx, b); err != nil {
			return err
		}
		batch = b

		s.logger.InfoContext(ctx, "csv batch confirmed",
			"batch_id", b.ID,
			"execution_id", exec.ID,
			"skip_duplicates", skipDuplicates)
		return events.EmitAfterCommit(ctx, s.emitter, events.TypeCSVImport, events.ImportRequested{
			BatchID:     b.ID,
			ExecutionID: exec.ID,
		})
	})
	if err != nil {
		return nil, NewServiceError("confirm", "failed to confirm batch", err)
	}
	return batch, nil
}

// Get returns a batch owned by userID.
func (s *Service) Get(ctx context.Context, userID, batchID uuid.UUID) (*domain.ImportBatch, error) {
	batch, err := ownedBatch(ctx, s.tx.Repos(), userID, batchID)
	if err != nil {
		return nil, NewServiceError("get", "failed to load batch", err)
	}
	return batch, nil
}

// classifyRows runs the field checks then the duplicate lookup.
func (s *Service) classifyRows(ctx context.Context, repos store.Repositories, userID, accountID uuid.UUID, records [][]string) ([]domain.RowVerdict, error) {
	categories, err := repos.Categories.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	verdicts := classify(newRowChecker(s.validate, categories), records)
	if err := markDuplicates(ctx, repos.Transactions, userID, accountID, verdicts); err != nil {
		return nil, err
	}
	return verdicts, nil
}

// Accounts and batches owned by someone else are reported as missing.
func ownedAccount(ctx context.Context, repos store.Repositories, userID, accountID uuid.UUID) (*domain.Account, error) {
	account, err := repos.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, store.ErrAccountNotFound
	}
	return account, nil
}

func ownedBatch(ctx context.Context, repos store.Repositories, userID, batchID uuid.UUID) (*domain.ImportBatch, error) {
	batch, err := repos.Batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.UserID != userID {
		return nil, store.ErrBatchNotFound
	}
	return batch, nil
}
