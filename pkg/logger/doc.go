// Package logger builds the structured slog logger shared by the gateway:
// JSON output in production, text output everywhere else.
package logger
