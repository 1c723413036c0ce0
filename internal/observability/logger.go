// Package observability provides logging, metrics, and tracing for both
// the dispatcher and worker processes.
package observability

import (
	"log/slog"
	"os"

	"github.com/jobagent/orchestrator/internal/config"
)

// SetupLogger configures a JSON slog logger with environment and component fields.
func SetupLogger(cfg config.Config, component string) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
		slog.String("component", component),
	)
	return logger
}
