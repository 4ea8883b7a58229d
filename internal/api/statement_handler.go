package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/api/shared"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
	"github.com/phrazzld/fintrack-api/internal/statement"
)

// StatementImporter is the statement service surface the handler needs.
type StatementImporter interface {
	Upload(ctx context.Context, in statement.Upload) (*domain.StatementImport, error)
	TriggerParse(ctx context.Context, userID, statementID uuid.UUID) (*domain.StatementImport, error)
	Confirm(ctx context.Context, userID, statementID uuid.UUID, excludeDuplicates bool) (*domain.StatementImport, error)
	Get(ctx context.Context, userID, statementID uuid.UUID) (*domain.StatementImport, error)
}

// StatementHandler serves the PDF statement endpoints.
type StatementHandler struct {
	statements StatementImporter
	maxBytes   int64
	logger     *slog.Logger
}

// NewStatementHandler creates a StatementHandler. maxBytes should match
// the service limit so oversized bodies are cut off while streaming.
func NewStatementHandler(statements StatementImporter, maxBytes int64, logger *slog.Logger) *StatementHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for StatementHandler")
	}
	if maxBytes <= 0 {
		maxBytes = statement.DefaultMaxBytes
	}
	return &StatementHandler{
		statements: statements,
		maxBytes:   maxBytes,
		logger:     logger.With(slog.String("component", "statement_handler")),
	}
}

// Upload handles POST /api/statements. The form carries "file",
// "account_id" and an optional "password".
func (h *StatementHandler) Upload(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := shared.UserID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "User identity required")
		return
	}

	up, err := readFileUpload(w, r, h.maxBytes, "password")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	st, err := h.statements.Upload(r.Context(), statement.Upload{
		UserID:      userID,
		AccountID:   up.AccountID,
		FileName:    up.FileName,
		ContentType: up.ContentType,
		Password:    up.Fields["password"],
		Content:     up.Content,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	log.Debug("statement uploaded", slog.String("statement_id", st.ID.String()))
	shared.RespondWithJSON(w, r, http.StatusCreated, st)
}

// Get handles GET /api/statements/{id}.
func (h *StatementHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, statementID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	st, err := h.statements.Get(r.Context(), userID, statementID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, st)
}

// Parse handles POST /api/statements/{id}/parse.
func (h *StatementHandler) Parse(w http.ResponseWriter, r *http.Request) {
	userID, statementID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	st, err := h.statements.TriggerParse(r.Context(), userID, statementID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, st)
}

// Confirm handles POST /api/statements/{id}/confirm.
func (h *StatementHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, statementID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	var req ConfirmStatementRequest
	if r.ContentLength != 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return
		}
	}

	st, err := h.statements.Confirm(r.Context(), userID, statementID, boolOr(req.ExcludeDuplicates, true))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, st)
}
