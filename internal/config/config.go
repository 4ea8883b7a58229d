package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Jobs     JobsConfig     `mapstructure:"jobs" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
	Imports  ImportsConfig  `mapstructure:"imports" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// LLMConfig configures the statement parsing model. API keys are not
// configured here; they are resolved per user from stored credentials.
type LLMConfig struct {
	Model      string        `mapstructure:"model" validate:"required"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay  time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay   time.Duration `mapstructure:"max_delay" validate:"gte=0"`

	// PromptTemplatePath overrides the built-in statement prompt when set.
	PromptTemplatePath string `mapstructure:"prompt_template_path"`
}

// JobsConfig holds schedules and thresholds for the background jobs.
type JobsConfig struct {
	RecurringCron             string `mapstructure:"recurring_cron" validate:"required"`
	SweeperCron               string `mapstructure:"sweeper_cron" validate:"required"`
	AbandonedExecutionMinutes int    `mapstructure:"abandoned_execution_minutes" validate:"gt=0"`
	StuckBatchMinutes         int    `mapstructure:"stuck_batch_minutes" validate:"gt=0"`
	ClaimLeaseMinutes         int    `mapstructure:"claim_lease_minutes" validate:"gt=0"`
	SweepBatchLimit           int    `mapstructure:"sweep_batch_limit" validate:"gt=0"`
}

// TaskConfig sizes the background worker pool.
type TaskConfig struct {
	WorkerCount int `mapstructure:"worker_count" validate:"gt=0"`
	QueueSize   int `mapstructure:"queue_size" validate:"gt=0"`
}

// ImportsConfig bounds uploads.
type ImportsConfig struct {
	MaxCSVRows        int   `mapstructure:"max_csv_rows" validate:"gt=0"`
	MaxStatementBytes int64 `mapstructure:"max_statement_bytes" validate:"gt=0"`
}

// StorageConfig selects where uploaded statements are archived.
// An empty bucket disables archiving.
type StorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}
