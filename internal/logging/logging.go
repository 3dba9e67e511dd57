// Package logging builds the process-wide slog logger from the logging configuration.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Drakrig/whisper-vad/internal/config"
)

// ParseLevel maps a configuration level name to a slog level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// New creates a logger whose level follows levelVar. When cfg.File names a
// path, records also go to a size-rotated file with source locations. The
// returned closer releases every file the logger writes to.
func New(cfg config.LoggingConfig, levelVar *slog.LevelVar) (*slog.Logger, io.Closer, error) {
	levelVar.Set(ParseLevel(cfg.Level))

	output, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, err
	}

	handler := NewHandler(cfg.Format, output, levelVar)
	if cfg.File.Path == "" {
		return slog.New(handler), closer, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File.Path,
		MaxSize:    cfg.File.MaxSizeMB,
		MaxBackups: cfg.File.MaxBackups,
		MaxAge:     cfg.File.MaxAgeDays,
		Compress:   cfg.File.Compress,
	}
	fileOpts := &slog.HandlerOptions{Level: levelVar, AddSource: true}
	var fileHandler slog.Handler
	if cfg.File.Format == "json" {
		fileHandler = slog.NewJSONHandler(rotator, fileOpts)
	} else {
		fileHandler = slog.NewTextHandler(rotator, fileOpts)
	}

	return slog.New(fanoutHandler{handler, fileHandler}), multiCloser{closer, rotator}, nil
}

// NewHandler creates the slog handler for format writing to w
func NewHandler(format string, w io.Writer, levelVar *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: levelVar.Level() == slog.LevelDebug,
	}

	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "console":
		console := charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			ReportCaller:    opts.AddSource,
			Level:           charmlog.DebugLevel,
		})
		return &levelHandler{Handler: console, level: levelVar}
	default:
		return slog.NewTextHandler(w, opts)
	}
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr", "":
		return os.Stderr, nopCloser{}, nil
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", output, err)
		}
		return file, file, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// fanoutHandler sends each record to every handler that accepts its level.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// levelHandler gates a handler on a LevelVar so runtime level changes
// reach handlers that keep their own level.
type levelHandler struct {
	slog.Handler
	level *slog.LevelVar
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() && h.Handler.Enabled(ctx, level)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}
