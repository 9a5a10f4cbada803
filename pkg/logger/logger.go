package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig enables a rotating JSON log file next to the console output.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type Config struct {
	Level       string
	AddSource   bool
	Environment string
	File        FileConfig
}

// New builds the application logger. The returned func closes the log file,
// if one was opened, and is always safe to call.
func New(cfg Config) (*slog.Logger, func()) {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Environment) == "prod" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	cleanup := func() {}

	if cfg.File.Path != "" {
		rotator, err := newRotator(cfg.File)
		if err != nil {
			slog.New(handler).Error("failed to open log file, logging to stdout only",
				slog.String("path", cfg.File.Path),
				slog.String("error", err.Error()))
		} else {
			handler = &fanoutHandler{handlers: []slog.Handler{
				handler,
				slog.NewJSONHandler(rotator, opts),
			}}
			cleanup = func() { _ = rotator.Close() }
		}
	}

	return slog.New(handler).With(
		slog.String("environment", cfg.Environment),
	), cleanup
}

// Discard returns a logger that drops every record. Handy for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRotator(cfg FileConfig) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, err
	}

	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
