// Package logging builds the daemon's structured JSON logger and provides
// a size-rotating file writer for log output.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/dskow/resilience-core/internal/config"
)

// nopCloser wraps stdout/stderr so callers can Close unconditionally.
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// NewLogger builds a JSON slog logger per the logging config. The returned
// closer releases the log file when output is a path; it is a no-op for
// stdout/stderr.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var out io.WriteCloser
	switch cfg.Output {
	case "stdout":
		out = nopCloser{os.Stdout}
	case "stderr":
		out = nopCloser{os.Stderr}
	default:
		rw, err := NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, nil, err
		}
		out = rw
	}

	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	return logger, out, nil
}
