package api

import (
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/jobs"
)

// UpdateJobRequest is the body of PUT /api/admin/jobs/{name}.
type UpdateJobRequest struct {
	Cron    string `json:"cron"    validate:"required"`
	Enabled *bool  `json:"enabled" validate:"required"`
}

// ConfirmImportRequest is the optional body of POST /api/imports/csv/{id}/confirm.
// Duplicates are skipped unless SkipDuplicates is explicitly false.
type ConfirmImportRequest struct {
	SkipDuplicates *bool `json:"skip_duplicates"`
}

// ConfirmStatementRequest is the optional body of
// POST /api/statements/{id}/confirm. Duplicates are excluded unless
// ExcludeDuplicates is explicitly false.
type ConfirmStatementRequest struct {
	ExcludeDuplicates *bool `json:"exclude_duplicates"`
}

// JobListResponse lists job definitions with their scheduling state.
type JobListResponse struct {
	Jobs []jobs.JobStatus `json:"jobs"`
}

// ExecutionListResponse is one page of execution history.
type ExecutionListResponse struct {
	Executions []domain.JobExecution `json:"executions"`
	Limit      int                   `json:"limit"`
	Offset     int                   `json:"offset"`
}

// TriggerResponse acknowledges a manual job run.
type TriggerResponse struct {
	JobName string `json:"job_name"`
	Status  string `json:"status"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
