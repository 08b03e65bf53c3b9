// Package logging sets up the process-wide slog handler. Ported from the
// teacher's pkg/utils.SetupLogger: no package-level logger, callers get a
// *slog.Logger back and thread it through their constructors explicitly.
package logging

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-cz/devslog"
)

// Setup builds a *slog.Logger for the given level ("debug", "info", "warn",
// "error"), format ("text", "json", "dev") and optional file path. An empty
// filePath logs to stdout.
func Setup(level, format, filePath string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	writer := os.Stdout
	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			panic(fmt.Sprintf("logging: failed to open log file: %v", err))
		}
		writer = file
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	case "dev":
		handler = devslog.NewHandler(writer, &devslog.Options{HandlerOptions: opts})
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
