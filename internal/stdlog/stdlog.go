// Package stdlog builds the slog logger used across lakemon and adapts it
// to printf style logging interfaces.
package stdlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config describes where and how to log.
type Config struct {
	Output string `env:"LOG_OUTPUT" env-default:"stderr"`
	Level  string `env:"LOG_LEVEL"  env-default:"info"`
	Text   bool   `env:"LOG_TEXT"   env-default:"false"`
}

// SlogLogger adapts slog to printf style loggers.
type SlogLogger struct {
	logger *slog.Logger
}

// NewLogger creates a new SlogLogger instance.
func NewLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// NewSlogLogger creates a new slog.Logger writing JSON, or logfmt when isText is set.
func NewSlogLogger(w io.Writer, isText bool, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isText {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Open resolves cfg into a logger. A file output is also mirrored to
// stderr. The returned close function releases the file, if any.
func Open(cfg Config) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	noop := func() error { return nil }
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		return NewSlogLogger(os.Stderr, cfg.Text, level), noop, nil
	case "stdout":
		return NewSlogLogger(os.Stdout, cfg.Text, level), noop, nil
	}

	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("stdlog: open log file: %w", err)
	}
	return NewSlogLogger(io.MultiWriter(f, os.Stderr), cfg.Text, level), f.Close, nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("stdlog: unknown log level %q", s)
	}
	return level, nil
}

// Logf logs informational messages using slog's Info level.
func (l *SlogLogger) Logf(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}
