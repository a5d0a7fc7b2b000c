package logger

import (
	"os"

	"clinisync/internal/app/server/config"

	"golang.org/x/exp/slog"
)

// New возвращает логгер, настроенный под окружение:
// local — человекочитаемый текст с debug-уровнем,
// dev — JSON с debug-уровнем, prod — JSON с info-уровнем.
func New(env string) *slog.Logger {
	switch env {
	case config.EnvLocal:
		return setupPrettySlog()
	case config.EnvDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	default:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
}

func setupPrettySlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}
