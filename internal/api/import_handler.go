package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/api/shared"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/imports"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
)

// DefaultMaxCSVBytes bounds a CSV upload body.
const DefaultMaxCSVBytes int64 = 5 << 20

// CSVImporter is the import service surface the handler needs.
type CSVImporter interface {
	ValidateUpload(ctx context.Context, in imports.Upload) (*domain.ImportBatch, error)
	Confirm(ctx context.Context, userID, batchID uuid.UUID, skipDuplicates bool) (*domain.ImportBatch, error)
	Get(ctx context.Context, userID, batchID uuid.UUID) (*domain.ImportBatch, error)
}

// ImportHandler serves the CSV import endpoints.
type ImportHandler struct {
	importer CSVImporter
	maxBytes int64
	logger   *slog.Logger
}

// NewImportHandler creates an ImportHandler. A non-positive maxBytes uses
// DefaultMaxCSVBytes.
func NewImportHandler(importer CSVImporter, maxBytes int64, logger *slog.Logger) *ImportHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ImportHandler")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxCSVBytes
	}
	return &ImportHandler{
		importer: importer,
		maxBytes: maxBytes,
		logger:   logger.With(slog.String("component", "import_handler")),
	}
}

// Upload handles POST /api/imports/csv. The batch is returned with a
// verdict for every row; nothing is posted until it is confirmed.
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := shared.UserID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "User identity required")
		return
	}

	up, err := readFileUpload(w, r, h.maxBytes)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	batch, err := h.importer.ValidateUpload(r.Context(), imports.Upload{
		UserID:    userID,
		AccountID: up.AccountID,
		FileName:  up.FileName,
		Content:   up.Content,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	log.Debug("csv upload validated",
		slog.String("batch_id", batch.ID.String()),
		slog.Int("total_rows", batch.TotalRows))
	shared.RespondWithJSON(w, r, http.StatusCreated, batch)
}

// Get handles GET /api/imports/csv/{id}.
func (h *ImportHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, batchID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	batch, err := h.importer.Get(r.Context(), userID, batchID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, batch)
}

// Confirm handles POST /api/imports/csv/{id}/confirm. The import itself
// runs asynchronously; the response carries the IMPORTING batch.
func (h *ImportHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, batchID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	var req ConfirmImportRequest
	if r.ContentLength != 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return
		}
	}

	batch, err := h.importer.Confirm(r.Context(), userID, batchID, boolOr(req.SkipDuplicates, true))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, batch)
}
