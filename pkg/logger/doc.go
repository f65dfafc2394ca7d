// Package logger builds configured slog loggers with environment-aware
// defaults and small attribute helpers shared across the service.
package logger
