package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. FINTRACK_DATABASE_URL for database.url.
const EnvPrefix = "FINTRACK"

var defaults = map[string]any{
	"server.port":                      8080,
	"server.log_level":                 "info",
	"server.shutdown_timeout":          15 * time.Second,
	"database.url":                     "",
	"database.max_open_conns":          10,
	"database.max_idle_conns":          5,
	"llm.model":                        "gemini-2.0-flash",
	"llm.max_retries":                  3,
	"llm.base_delay":                   time.Second,
	"llm.max_delay":                    20 * time.Second,
	"llm.prompt_template_path":         "",
	"jobs.recurring_cron":              "0 5 0 * * *",
	"jobs.sweeper_cron":                "0 */5 * * * *",
	"jobs.abandoned_execution_minutes": 30,
	"jobs.stuck_batch_minutes":         10,
	"jobs.claim_lease_minutes":         15,
	"jobs.sweep_batch_limit":           50,
	"task.worker_count":                2,
	"task.queue_size":                  100,
	"imports.max_csv_rows":             5000,
	"imports.max_statement_bytes":      10 << 20,
	"storage.bucket":                   "",
	"storage.prefix":                   "statements",
}

// Load configuration from environment variables and optionally config files.
// A .env file in the working directory is loaded first if present.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}
