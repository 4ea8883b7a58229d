package statement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/events"
	"github.com/phrazzld/fintrack-api/internal/generation"
	"github.com/phrazzld/fintrack-api/internal/jobs"
	"github.com/phrazzld/fintrack-api/internal/ledger"
	"github.com/phrazzld/fintrack-api/internal/platform/gcs"
	"github.com/phrazzld/fintrack-api/internal/platform/pdftext"
	"github.com/phrazzld/fintrack-api/internal/redact"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// Job names statement executions are recorded under.
const (
	ParseJobName   = "statement-parse"
	ConfirmJobName = "statement-confirm"
)

// Step names of statement executions.
const (
	StepGenerate       = "generate"
	StepFlagDuplicates = "flag-duplicates"
	StepInsert         = "insert"
	StepSummarize      = "summarize"
)

var (
	// ParseSteps lists the steps of a parse execution in order.
	ParseSteps = []string{StepGenerate, StepFlagDuplicates}
	// ConfirmSteps lists the steps of a confirm execution in order.
	ConfirmSteps = []string{StepInsert, StepSummarize}
)

// ContentTypePDF is the only accepted upload media type.
const ContentTypePDF = "application/pdf"

// DefaultMaxBytes is the upload size limit when none is configured.
const DefaultMaxBytes int64 = 10 << 20

// Credential sources recorded on the generate step.
const (
	credentialUser   = "user"
	credentialShared = "shared"
)

// Config holds the statement service limits.
type Config struct {
	MaxBytes int64
}

// Upload is a statement file submitted by a user.
type Upload struct {
	UserID      uuid.UUID
	AccountID   uuid.UUID
	FileName    string
	ContentType string
	Password    string
	Content     []byte
}

// Deps are the collaborators of a Service.
type Deps struct {
	Tx        store.Transactor
	Tracker   *jobs.Tracker
	Poster    *ledger.Poster
	Emitter   events.EventEmitter
	Extractor pdftext.TextExtractor
	Archive   gcs.StatementArchive
	Parser    generation.StatementParser
}

// Service stages, parses and imports PDF statements.
type Service struct {
	Deps
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a Service. A nil Archive disables archiving.
func NewService(deps Deps, cfg Config, logger *slog.Logger) (*Service, error) {
	if deps.Tx == nil || deps.Tracker == nil || deps.Poster == nil || deps.Emitter == nil ||
		deps.Extractor == nil || deps.Parser == nil {
		return nil, &ServiceError{
			Operation: "create_service",
			Message:   "transactor, tracker, poster, emitter, extractor and parser are required",
		}
	}
	if deps.Archive == nil {
		deps.Archive = gcs.NoopArchive{}
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Service{
		Deps:   deps,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "statement_service"),
	}, nil
}

// Upload checks and extracts a statement and stores it as TEXT_EXTRACTED.
// A document that cannot be read is stored as FAILED and the extraction
// error is returned.
func (s *Service) Upload(ctx context.Context, in Upload) (*domain.StatementImport, error) {
	if err := s.checkUpload(in); err != nil {
		return nil, NewServiceError("upload", "rejected upload", err)
	}
	repos := s.Tx.Repos()
	if _, err := ownedAccount(ctx, repos, in.UserID, in.AccountID); err != nil {
		return nil, NewServiceError("upload", "failed to load account", err)
	}

	stmt := &domain.StatementImport{
		ID:        uuid.New(),
		UserID:    in.UserID,
		AccountID: in.AccountID,
		FileName:  in.FileName,
		CreatedAt: s.now(),
	}
	stmt.Transition(domain.StatementStatusUploaded)

	text, extractErr := s.Extractor.Extract(ctx, in.Content, in.Password)
	if extractErr != nil {
		stmt.Fail(redact.Secrets(extractErr.Error()))
		if err := repos.Statements.Create(ctx, stmt); err != nil {
			return nil, NewServiceError("upload", "failed to store statement", err)
		}
		s.logger.WarnContext(ctx, "statement text extraction failed",
			"statement_id", stmt.ID,
			"error", extractErr)
		return nil, NewServiceError("upload", "failed to extract text", extractErr)
	}

	uri, err := s.Archive.Archive(ctx, in.UserID, stmt.ID, in.Content)
	if err != nil {
		// Archiving is best effort.
		s.logger.WarnContext(ctx, "failed to archive statement",
			"statement_id", stmt.ID,
			"error", err)
	}
	stmt.ArchiveURI = uri
	stmt.ExtractedText = text
	stmt.Transition(domain.StatementStatusTextExtracted)

	if err := repos.Statements.Create(ctx, stmt); err != nil {
		return nil, NewServiceError("upload", "failed to store statement", err)
	}

	s.logger.InfoContext(ctx, "statement uploaded",
		"statement_id", stmt.ID,
		"user_id", in.UserID,
		"bytes", len(in.Content),
		"text_length", len(text),
		"archived", uri != "")
	return stmt, nil
}

func (s *Service) checkUpload(in Upload) error {
	mediaType, _, err := mime.ParseMediaType(in.ContentType)
	if err != nil || !strings.EqualFold(mediaType, ContentTypePDF) {
		return ErrUnsupportedContentType
	}
	if len(in.Content) == 0 {
		return ErrEmptyFile
	}
	if int64(len(in.Content)) > s.cfg.MaxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(in.Content), s.cfg.MaxBytes)
	}
	return nil
}

// TriggerParse requests an async parse of a TEXT_EXTRACTED statement. A
// statement that failed before confirmation may be parsed again.
func (s *Service) TriggerParse(ctx context.Context, userID, statementID uuid.UUID) (*domain.StatementImport, error) {
	var stmt *domain.StatementImport
	err := s.Tx.InTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		st, err := ownedStatement(ctx, repos, userID, statementID)
		if err != nil {
			return err
		}
		if !parseable(st) {
			return fmt.Errorf("%w: statement is %s", ErrNotParseable, st.Status)
		}
		if _, _, err := resolveKey(ctx, repos.Credentials, userID); err != nil {
			return err
		}

		exec, err := domain.NewJobExecution(ParseJobName, domain.TriggerManual, ParseSteps...)
		if err != nil {
			return err
		}
		if err := s.Tracker.Create(ctx, repos, exec); err != nil {
			return err
		}
		st.Transition(domain.StatementStatusSentForParsing)
		st.JobExecutionID = &exec.ID
		if err := repos.Statements.Update(ctx, st); err != nil {
			return err
		}
		stmt = st

		s.logger.InfoContext(ctx, "statement parse requested",
			"statement_id", st.ID,
			"execution_id", exec.ID)
		return events.EmitAfterCommit(ctx, s.Emitter, events.TypeStatementParse, events.StatementRequested{
			StatementID: st.ID,
			ExecutionID: exec.ID,
			UserID:      userID,
		})
	})
	if err != nil {
		return nil, NewServiceError("trigger_parse", "failed to request parse", err)
	}
	return stmt, nil
}

// Confirm moves a PARSED statement to CONFIRMING and requests the async
// insert of its rows after commit.
func (s *Service) Confirm(ctx context.Context, userID, statementID uuid.UUID, excludeDuplicates bool) (*domain.StatementImport, error) {
	var stmt *domain.StatementImport
	err := s.Tx.InTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		st, err := ownedStatement(ctx, repos, userID, statementID)
		if err != nil {
			return err
		}
		if st.Status != domain.StatementStatusParsed {
			return fmt.Errorf("%w: statement is %s", ErrNotParsed, st.Status)
		}

		exec, err := domain.NewJobExecution(ConfirmJobName, domain.TriggerManual, ConfirmSteps...)
		if err != nil {
			return err
		}
		if err := s.Tracker.Create(ctx, repos, exec); err != nil {
			return err
		}
		st.Transition(domain.StatementStatusConfirming)
		st.ExcludeDuplicates = excludeDuplicates
		st.JobExecutionID = &exec.ID
		if err := repos.Statements.Update(ctx, st); err != nil {
			return err
		}
		stmt = st

		s.logger.InfoContext(ctx, "statement confirmed",
			"statement_id", st.ID,
			"execution_id", exec.ID,
			"exclude_duplicates", excludeDuplicates)
		return events.EmitAfterCommit(ctx, s.Emitter, events.TypeStatementConfirm, events.StatementRequested{
			StatementID: st.ID,
			ExecutionID: exec.ID,
			UserID:      userID,
		})
	})
	if err != nil {
		return nil, NewServiceError("confirm", "failed to confirm statement", err)
	}
	return stmt, nil
}

// Get returns a statement owned by userID.
func (s *Service) Get(ctx context.Context, userID, statementID uuid.UUID) (*domain.StatementImport, error) {
	st, err := ownedStatement(ctx, s.Tx.Repos(), userID, statementID)
	if err != nil {
		return nil, NewServiceError("get", "failed to load statement", err)
	}
	return st, nil
}

// parseable reports whether a parse may be requested. Statements that failed
// while confirming keep their rows and are not parsed again.
func parseable(st *domain.StatementImport) bool {
	switch st.Status {
	case domain.StatementStatusTextExtracted:
		return true
	case domain.StatementStatusFailed:
		return st.ExtractedText != "" && st.CurrentStep < domain.StatementStatusConfirming.Step()
	default:
		return false
	}
}

// resolveKey returns the user's own key, else the shared administrator key
// when sharing is enabled.
func resolveKey(ctx context.Context, creds store.CredentialStore, userID uuid.UUID) (key, source string, err error) {
	key, err = creds.GetUserKey(ctx, userID)
	switch {
	case err == nil && key != "":
		return key, credentialUser, nil
	case err != nil && !errors.Is(err, store.ErrCredentialNotFound):
		return "", "", fmt.Errorf("failed to load user credential: %w", err)
	}

	shared, enabled, err := creds.GetSharedKey(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to load shared credential: %w", err)
	}
	if enabled && shared != "" {
		return shared, credentialShared, nil
	}
	return "", "", ErrLLMNotConfigured
}

// Accounts and statements owned by someone else are reported as missing.
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

func ownedStatement(ctx context.Context, repos store.Repositories, userID, statementID uuid.UUID) (*domain.StatementImport, error) {
	st, err := repos.Statements.GetByID(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, store.ErrStatementNotFound
	}
	return st, nil
}
