package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/fintrack-api/internal/api"
	apiMiddleware "github.com/phrazzld/fintrack-api/internal/api/middleware"
)

// setupRouter creates the router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	importHandler := api.NewImportHandler(app.importer, api.DefaultMaxCSVBytes, app.logger)
	statementHandler := api.NewStatementHandler(app.statements, app.config.Imports.MaxStatementBytes, app.logger)
	jobHandler := api.NewJobHandler(app.admin, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.RequireUser)

			r.Post("/imports/csv", importHandler.Upload)
			r.Get("/imports/csv/{id}", importHandler.Get)
			r.Post("/imports/csv/{id}/confirm", importHandler.Confirm)

			r.Post("/statements", statementHandler.Upload)
			r.Get("/statements/{id}", statementHandler.Get)
			r.Post("/statements/{id}/parse", statementHandler.Parse)
			r.Post("/statements/{id}/confirm", statementHandler.Confirm)
		})

		// Admin endpoints are expected behind an authenticating proxy.
		r.Route("/admin", func(r chi.Router) {
			r.Get("/jobs", jobHandler.ListJobs)
			r.Put("/jobs/{name}", jobHandler.UpdateJob)
			r.Post("/jobs/{name}/trigger", jobHandler.TriggerJob)
			r.Get("/executions", jobHandler.ListExecutions)
			r.Get("/executions/{id}", jobHandler.GetExecution)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
