package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/api/shared"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/jobs"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
	"github.com/phrazzld/fintrack-api/internal/store"
)

// Execution history page sizes.
const (
	defaultExecutionPage = 50
	maxExecutionPage     = 200
)

// JobAdmin is the job administration surface the handler needs.
type JobAdmin interface {
	ListJobs(ctx context.Context) ([]jobs.JobStatus, error)
	UpdateJob(ctx context.Context, name, spec string, enabled bool) (*domain.JobDefinition, error)
	TriggerJob(ctx context.Context, name string) error
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]domain.JobExecution, error)
	GetExecution(ctx context.Context, id uuid.UUID) (*domain.JobExecution, error)
}

// JobHandler serves the job administration endpoints.
type JobHandler struct {
	admin  JobAdmin
	logger *slog.Logger
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(admin JobAdmin, logger *slog.Logger) *JobHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for JobHandler")
	}
	return &JobHandler{admin: admin, logger: logger.With(slog.String("component", "job_handler"))}
}

// ListJobs handles GET /api/admin/jobs.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.admin.ListJobs(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if list == nil {
		list = []jobs.JobStatus{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, JobListResponse{Jobs: list})
}

// UpdateJob handles PUT /api/admin/jobs/{name}.
func (h *JobHandler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	name := chi.URLParam(r, "name")

	var req UpdateJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	req.Cron = strings.TrimSpace(req.Cron)
	if err := shared.ValidateRequest(req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	def, err := h.admin.UpdateJob(r.Context(), name, req.Cron, *req.Enabled)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	log.Info("job schedule updated",
		slog.String("job_name", name),
		slog.String("cron", def.Cron),
		slog.Bool("enabled", def.Enabled))
	shared.RespondWithJSON(w, r, http.StatusOK, def)
}

// TriggerJob handles POST /api/admin/jobs/{name}/trigger.
func (h *JobHandler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.admin.TriggerJob(r.Context(), name); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, TriggerResponse{JobName: name, Status: "triggered"})
}

// ListExecutions handles GET /api/admin/executions. Supported query
// parameters are job_name, status, limit and offset.
func (h *JobHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := store.ExecutionFilter{
		JobName: r.URL.Query().Get("job_name"),
		Status:  domain.ExecutionStatus(strings.ToUpper(r.URL.Query().Get("status"))),
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if filter.Limit == 0 || filter.Limit > maxExecutionPage {
		filter.Limit = defaultExecutionPage
	}

	execs, err := h.admin.ListExecutions(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if execs == nil {
		execs = []domain.JobExecution{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ExecutionListResponse{
		Executions: execs,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// GetExecution handles GET /api/admin/executions/{id}.
func (h *JobHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	exec, err := h.admin.GetExecution(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, exec)
}
