package bootstrap

import (
	"log/slog"

	"yoyaku-core/internal/handler/middleware"
	"yoyaku-core/internal/pkg/config"

	"go.uber.org/fx"
)

var LoggerModule = fx.Module("logger",
	fx.Provide(
		NewLogger,
	),
)

// NewLogger builds the process-wide logger from the log config; the
// middleware logger installs it as the slog default as a side effect, so
// package-level slog calls honor the configured level too.
func NewLogger(cfg config.Config) *slog.Logger {
	return middleware.NewLogger(cfg.Log).GetSlogLogger()
}
