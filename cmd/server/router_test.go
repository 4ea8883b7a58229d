package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/api/middleware"
	"github.com/phrazzld/fintrack-api/internal/config"
	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/imports"
	"github.com/phrazzld/fintrack-api/internal/jobs"
	"github.com/phrazzld/fintrack-api/internal/statement"
	"github.com/phrazzld/fintrack-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubImporter struct {
	owner uuid.UUID
}

func (s stubImporter) ValidateUpload(context.Context, imports.Upload) (*domain.ImportBatch, error) {
	return nil, imports.ErrEmptyFile
}

func (s stubImporter) Confirm(context.Context, uuid.UUID, uuid.UUID, bool) (*domain.ImportBatch, error) {
	return nil, imports.ErrBatchNotValidated
}

func (s stubImporter) Get(_ context.Context, userID, batchID uuid.UUID) (*domain.ImportBatch, error) {
	if userID != s.owner {
		return nil, store.ErrBatchNotFound
	}
	return &domain.ImportBatch{ID: batchID, UserID: userID, Status: domain.BatchStatusValidated}, nil
}

type stubStatements struct{}

func (stubStatements) Upload(context.Context, statement.Upload) (*domain.StatementImport, error) {
	return nil, statement.ErrUnsupportedContentType
}

func (stubStatements) TriggerParse(context.Context, uuid.UUID, uuid.UUID) (*domain.StatementImport, error) {
	return nil, statement.ErrLLMNotConfigured
}

func (stubStatements) Confirm(context.Context, uuid.UUID, uuid.UUID, bool) (*domain.StatementImport, error) {
	return nil, statement.ErrNotParsed
}

func (stubStatements) Get(context.Context, uuid.UUID, uuid.UUID) (*domain.StatementImport, error) {
	return nil, store.ErrStatementNotFound
}

type stubAdmin struct{}

func (stubAdmin) ListJobs(context.Context) ([]jobs.JobStatus, error) {
	return []jobs.JobStatus{{JobDefinition: domain.JobDefinition{Name: jobs.RecurringJobName, Cron: "0 6 * * *", Enabled: true}, Scheduled: true}}, nil
}

func (stubAdmin) UpdateJob(context.Context, string, string, bool) (*domain.JobDefinition, error) {
	return nil, jobs.ErrInvalidCron
}

func (stubAdmin) TriggerJob(context.Context, string) error { return jobs.ErrJobRunning }

func (stubAdmin) ListExecutions(context.Context, store.ExecutionFilter) ([]domain.JobExecution, error) {
	return nil, nil
}

func (stubAdmin) GetExecution(context.Context, uuid.UUID) (*domain.JobExecution, error) {
	return nil, store.ErrExecutionNotFound
}

func testApp(owner uuid.UUID) *application {
	cfg := &config.Config{
		Server:  config.ServerConfig{Port: 0, LogLevel: "debug", ShutdownTimeout: time.Second},
		Imports: config.ImportsConfig{MaxCSVRows: 100, MaxStatementBytes: 1 << 20},
	}
	return &application{
		config:     cfg,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		importer:   stubImporter{owner: owner},
		statements: stubStatements{},
		admin:      stubAdmin{},
	}
}

func TestRouter(t *testing.T) {
	owner := uuid.New()
	srv := httptest.NewServer(testApp(owner).setupRouter())
	defer srv.Close()

	do := func(method, path, user string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, nil)
		require.NoError(t, err)
		if user != "" {
			req.Header.Set(middleware.UserIDHeader, user)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp
	}

	batchPath := "/api/imports/csv/" + uuid.NewString()

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"import requires identity", http.MethodGet, batchPath, "", http.StatusUnauthorized},
		{"import owned", http.MethodGet, batchPath, owner.String(), http.StatusOK},
		{"import foreign", http.MethodGet, batchPath, uuid.NewString(), http.StatusNotFound},
		{"import confirm conflict", http.MethodPost, batchPath + "/confirm", owner.String(), http.StatusConflict},
		{"statement parse without key", http.MethodPost, "/api/statements/" + uuid.NewString() + "/parse", owner.String(), http.StatusPreconditionFailed},
		{"statement missing", http.MethodGet, "/api/statements/" + uuid.NewString(), owner.String(), http.StatusNotFound},
		{"list jobs", http.MethodGet, "/api/admin/jobs", "", http.StatusOK},
		{"trigger running job", http.MethodPost, "/api/admin/jobs/recurring-transactions/trigger", "", http.StatusConflict},
		{"execution missing", http.MethodGet, "/api/admin/executions/" + uuid.NewString(), "", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/nope", owner.String(), http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(tc.method, tc.path, tc.user)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestStartHTTPServer_StopsOnContextCancel(t *testing.T) {
	app := testApp(uuid.New())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- app.startHTTPServer(ctx, app.setupRouter()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestShutdownTimeout(t *testing.T) {
	app := testApp(uuid.New())
	assert.Equal(t, time.Second, app.shutdownTimeout())

	app.config.Server.ShutdownTimeout = 0
	assert.Equal(t, 10*time.Second, app.shutdownTimeout())
}
