package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs a JSON handler on stderr as the default logger. LOG_LEVEL=debug
// in the environment overrides level.
func Init(level string) {
	lvl := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		lvl = slog.LevelDebug
	} else if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	})))
}
