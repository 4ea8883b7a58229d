// Package main implements the entry point for the FinTrack API server,
// which ingests CSV and PDF statements into user ledgers and runs the
// scheduled ledger jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"github.com/phrazzld/fintrack-api/internal/config"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
	"github.com/phrazzld/fintrack-api/internal/platform/postgres"
	"github.com/phrazzld/fintrack-api/internal/redact"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply database migrations before starting")
	migrateOnly := flag.Bool("migrate-only", false, "apply database migrations and exit")
	flag.Parse()

	if err := run(context.Background(), *migrate || *migrateOnly, *migrateOnly); err != nil {
		log.Fatalf("fintrack-api: %v", err)
	}
}

// run loads configuration, opens the database and serves until a shutdown
// signal arrives.
func run(ctx context.Context, migrate, migrateOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	l.Info("server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.Bool("archive_enabled", cfg.Storage.Bucket != ""))

	db, err := postgres.Open(ctx, cfg.Database, l)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %s", redact.Error(err))
	}

	if migrate {
		if err := postgres.Migrate(ctx, db, l); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		if migrateOnly {
			l.Info("migrations applied, exiting")
			return db.Close()
		}
	}

	app, err := newApplication(ctx, cfg, l, db)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("server stopped: %s", redact.Error(err))
	}
	return nil
}
