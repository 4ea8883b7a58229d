// Package logger configures the process-wide log/slog JSON logger from
// config.ServerConfig and carries request- and job-scoped loggers through
// context.Context.
//
// HTTP middleware stores a logger tagged with trace_id (and user_id once
// known) via WithLogger; handlers, services and background tasks read it
// back with FromContext, which falls back to slog.Default.
package logger
