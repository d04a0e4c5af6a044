// Package logging builds the slog loggers used across rbscope.
//
// Tree walks log at debug level only, so the default info level keeps dumps
// quiet. Output goes to stderr and never mixes with dump lines on stdout.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `koanf:"level"`
	// Format is text, json or auto. Auto picks text on a terminal.
	Format string `koanf:"format"`
	// Output defaults to os.Stderr.
	Output io.Writer `koanf:"-"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "auto"}
}

// New creates a logger for cfg.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	switch resolveFormat(cfg.Format, out) {
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts))
	default:
		return slog.New(slog.NewTextHandler(out, opts))
	}
}

// Discard returns a logger that drops everything
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func resolveFormat(format string, out io.Writer) string {
	switch f := strings.ToLower(format); f {
	case "text", "console":
		return "text"
	case "json":
		return "json"
	default:
		if IsTerminal(out) {
			return "text"
		}
		return "json"
	}
}

// IsTerminal reports whether w is a terminal (or a Cygwin pty).
func IsTerminal(w any) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// parseLevel converts a level name to slog.Level, info when unknown.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
