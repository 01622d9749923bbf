// Package logging configures the process-wide slog logger: text or JSON output
// to stdout and a rotating file, secret masking, and Sentry forwarding of
// error records.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	slogsentry "github.com/samber/slog-sentry/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zeli-parts/partsbot/internal/config"
)

// Setup builds the logger described by cfg, installs it as the slog default
// and returns it together with a function that flushes and closes outputs.
func Setup(cfg config.LogConfig, sentryEnabled bool) (*slog.Logger, func()) {
	var out io.Writer = os.Stdout
	var rotator *lumberjack.Logger
	if cfg.File != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
	}

	handler := newBaseHandler(out, cfg.Format, ParseLevel(cfg.Level))
	if sentryEnabled {
		sentryHandler := slogsentry.Option{Level: slog.LevelError}.NewSentryHandler()
		handler = newTeeHandler(handler, sentryHandler)
	}

	logger := slog.New(NewMaskingHandler(handler))
	slog.SetDefault(logger)

	return logger, func() {
		if sentryEnabled {
			sentry.Flush(2 * time.Second)
		}
		if rotator != nil {
			_ = rotator.Close()
		}
	}
}

// InitSentry initialises the Sentry SDK. An empty DSN disables reporting.
func InitSentry(dsn, environment string) (bool, error) {
	if dsn == "" {
		return false, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return false, fmt.Errorf("sentry init: %w", err)
	}
	return true, nil
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func newBaseHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
