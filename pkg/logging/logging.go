package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the process-wide logger.
type Options struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	File   string // rotate into this file when set, stderr otherwise

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup installs the default slog logger and bridges the std log package to
// the same writer. It returns the logger tagged with the service name.
func Setup(service string, opts Options) *slog.Logger {
	var w io.Writer = os.Stderr
	if strings.TrimSpace(opts.File) != "" {
		w = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 14),
			Compress:   true,
		}
	}

	logger := New(w, opts.Level, opts.Format).With("service", service)
	slog.SetDefault(logger)

	if strings.EqualFold(opts.Format, "json") {
		log.SetFlags(0)
	} else {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	log.SetOutput(w)

	return logger
}

// New builds a logger writing to w without touching global state.
func New(w io.Writer, level, format string) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(h)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
