// Package telemetry provides logging setup and Prometheus run metrics for the
// report generator. The logger is installed as the slog default so every
// component logs through the same handler without carrying a *slog.Logger.
package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SetupLogger configures the global slog default logger from the logging
// section of the application configuration.
//
// format: "json" → JSONHandler, anything else → TextHandler.
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to "info".
// logFile: when non-empty, output is written to both stdout and the file
// (the file is appended to; its parent directory is created if missing).
//
// The returned closer closes the log file, if one was opened; it is nil otherwise.
func SetupLogger(format, level, logFile string) (io.Closer, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	var closer io.Closer
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640) // #nosec G304 -- path comes from operator configuration
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug, // include file:line only when debugging
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String(), "file", logFile)
	return closer, nil
}
