package cli

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sentinel-pii/sentinel/internal/config"
	"golang.org/x/term"
)

// newLogger builds the process logger. Format "auto" picks text for a
// terminal and JSON otherwise.
func newLogger(w io.Writer, cfg config.LoggingConfig, isTTY bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	format := cfg.Format
	if format == "auto" || format == "" {
		format = "json"
		if isTTY {
			format = "text"
		}
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogging installs the configured logger as the slog default.
func setupLogging(cfg *config.Config) *slog.Logger {
	l := newLogger(os.Stderr, cfg.Logging, term.IsTerminal(int(os.Stderr.Fd())))
	slog.SetDefault(l)
	return l
}
