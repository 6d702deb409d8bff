package observability

import "log/slog"

// Config holds the logging configuration shared by every cmd entrypoint.
type Config struct {
	LogFormat    string
	LogLevel     slog.Level
	LogAddSource bool
}
