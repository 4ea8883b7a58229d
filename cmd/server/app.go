package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/fintrack-api/internal/api"
	"github.com/phrazzld/fintrack-api/internal/config"
	"github.com/phrazzld/fintrack-api/internal/events"
	"github.com/phrazzld/fintrack-api/internal/imports"
	"github.com/phrazzld/fintrack-api/internal/jobs"
	"github.com/phrazzld/fintrack-api/internal/ledger"
	"github.com/phrazzld/fintrack-api/internal/platform/gcs"
	"github.com/phrazzld/fintrack-api/internal/platform/gemini"
	"github.com/phrazzld/fintrack-api/internal/platform/pdftext"
	"github.com/phrazzld/fintrack-api/internal/platform/postgres"
	"github.com/phrazzld/fintrack-api/internal/recurring"
	"github.com/phrazzld/fintrack-api/internal/statement"
	"github.com/phrazzld/fintrack-api/internal/task"
)

// application holds the shared dependencies of the server and releases
// them on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	importer   api.CSVImporter
	statements api.StatementImporter
	admin      api.JobAdmin

	taskRunner *task.TaskRunner
	scheduler  *jobs.Scheduler
	archive    *gcs.Archive
}

// newApplication wires stores, services, background workers and the job
// scheduler on top of an open database.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{config: cfg, logger: logger, db: db}

	tx := postgres.NewTransactor(db, logger)
	tracker := jobs.NewTracker(tx, logger)
	poster := ledger.NewPoster(logger)

	app.taskRunner = task.NewTaskRunner(task.TaskRunnerConfig{
		WorkerCount: cfg.Task.WorkerCount,
		QueueSize:   cfg.Task.QueueSize,
	}, logger)
	app.taskRunner.Start()

	emitter := events.NewInMemoryEventEmitter(logger)
	taskHandler := task.NewTaskFactoryEventHandler(app.taskRunner, logger)
	emitter.RegisterHandler(taskHandler, events.TypeCSVImport, events.TypeStatementParse, events.TypeStatementConfirm)

	importService, err := imports.NewService(tx, tracker, poster, emitter,
		imports.Config{MaxRows: cfg.Imports.MaxCSVRows}, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create import service: %w", err)
	}
	taskHandler.Register(events.TypeCSVImport, importService.TaskFactory())
	app.importer = importService

	parser, err := gemini.NewGeminiParser(logger.With("component", "statement_parser"), cfg.LLM, gemini.NewGenAIClientFactory())
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to initialize statement parser: %w", err)
	}

	var archive gcs.StatementArchive = gcs.NoopArchive{}
	if cfg.Storage.Bucket != "" {
		app.archive, err = gcs.NewArchive(ctx, cfg.Storage, logger)
		if err != nil {
			app.cleanup()
			return nil, fmt.Errorf("failed to open statement archive: %w", err)
		}
		archive = app.archive
	} else {
		logger.Info("statement archiving disabled, no bucket configured")
	}

	statementService, err := statement.NewService(statement.Deps{
		Tx:        tx,
		Tracker:   tracker,
		Poster:    poster,
		Emitter:   emitter,
		Extractor: pdftext.NewExtractor(logger),
		Archive:   archive,
		Parser:    parser,
	}, statement.Config{MaxBytes: cfg.Imports.MaxStatementBytes}, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create statement service: %w", err)
	}
	taskHandler.Register(events.TypeStatementParse, statementService.ParseTaskFactory())
	taskHandler.Register(events.TypeStatementConfirm, statementService.ConfirmTaskFactory())
	app.statements = statementService

	processor := recurring.NewProcessor(tx, tracker, poster, logger)
	sweeper := imports.NewSweeper(tx, tracker, emitter, imports.SweeperConfig{
		AbandonedAfter: time.Duration(cfg.Jobs.AbandonedExecutionMinutes) * time.Minute,
		StuckAfter:     time.Duration(cfg.Jobs.StuckBatchMinutes) * time.Minute,
		Lease:          time.Duration(cfg.Jobs.ClaimLeaseMinutes) * time.Minute,
		BatchLimit:     cfg.Jobs.SweepBatchLimit,
	}, logger)
	sweeper.Release(statement.ParseJobName, statementService.ReleaseAbandoned)
	sweeper.Release(statement.ConfirmJobName, statementService.ReleaseAbandoned)

	app.scheduler = jobs.NewScheduler(tx, app.taskRunner, logger)
	err = app.scheduler.Bootstrap(ctx, []jobs.Definition{
		{
			Name:        jobs.RecurringJobName,
			Description: "Posts due recurring transactions",
			Cron:        cfg.Jobs.RecurringCron,
			Enabled:     true,
			Job:         processor.Run,
		},
		{
			Name:        jobs.SweeperJobName,
			Description: "Fails abandoned import executions and resumes stuck CSV imports",
			Cron:        cfg.Jobs.SweeperCron,
			Enabled:     true,
			Job:         sweeper.Run,
		},
	})
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to bootstrap job scheduler: %w", err)
	}
	app.scheduler.Start()
	app.admin = jobs.NewAdmin(tx, app.scheduler)

	logger.Info("application initialized",
		slog.Int("task_workers", cfg.Task.WorkerCount),
		slog.Any("scheduled_jobs", app.scheduler.Scheduled()))
	return app, nil
}

// Run serves HTTP until ctx is cancelled or a shutdown signal arrives.
func (app *application) Run(ctx context.Context) error {
	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops the scheduler before the workers so no trigger lands on a
// closed queue, then releases external clients.
func (app *application) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout())
	defer cancel()

	if app.scheduler != nil {
		if err := app.scheduler.Stop(ctx); err != nil {
			app.logger.Warn("scheduler did not stop cleanly", "error", err)
		}
	}
	if app.taskRunner != nil {
		if err := app.taskRunner.Stop(ctx); err != nil {
			app.logger.Warn("task runner did not drain before timeout", "error", err)
		}
	}
	if app.archive != nil {
		if err := app.archive.Close(); err != nil {
			app.logger.Error("error closing statement archive", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
}

func (app *application) shutdownTimeout() time.Duration {
	if app.config != nil && app.config.Server.ShutdownTimeout > 0 {
		return app.config.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
