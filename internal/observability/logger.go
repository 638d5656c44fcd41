package observability

import (
	"io"
	"log/slog"

	"github.com/quackql/quackql/internal/config"
)

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	level, err := config.ParseLogLevel(cfg.Observability.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
	)
}
