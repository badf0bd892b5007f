// Package logging builds the process logger. Output goes to stdout, stderr
// or a size-rotated file, always as slog JSON.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dskow/cgi-probe/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a JSON logger for cfg and a closer for its output. The closer
// is a no-op for the standard streams.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		rw, err := NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log output %s: %w", cfg.Output, err)
		}
		out, closer = rw, rw
	}
	return NewWithWriter(out, cfg.Level), closer, nil
}

// NewWithWriter returns a JSON logger writing to w at the named level.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a config level name to a slog level. Unknown names map
// to info.
func ParseLevel(name string) slog.Level {
	switch name {
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
