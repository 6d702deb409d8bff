// Package observability configures the one structured logger every cmd
// entrypoint hands down to its operators, grounded on the teacher's
// pkg/observability/logger.go. The teacher's OpenTelemetry log/metric/trace
// bridge is dropped here: this module's status/counters operation (spec §7)
// is a pull-based snapshot with no OTel collector in the spec to push to
// (see DESIGN.md).
package observability

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

// ConfigureLogger builds the process-wide slog.Logger: tint's colored
// handler for local/dev runs, plain JSON when LogFormat is "json".
func ConfigureLogger(cfg *Config, logOut io.Writer) *slog.Logger {
	//nolint:exhaustruct // optional config
	logOpts := &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: cfg.LogAddSource,
	}

	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(logOut, logOpts))
	}

	//nolint:exhaustruct // optional config
	return slog.New(tint.NewHandler(logOut, &tint.Options{
		AddSource:  cfg.LogAddSource,
		Level:      cfg.LogLevel,
		TimeFormat: "15:04:05",
	}))
}
