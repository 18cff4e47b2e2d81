// Package rtilog provides a common interface and setup for runtime-wide logging.
package rtilog

import (
	"context"
	"io"
	"log/slog"
)

// Logger defines the interface for logging within the runtime. This
// abstraction allows for different logger implementations while
// maintaining consistent logging conventions throughout the codebase.
type Logger interface {
	// Debug logs a debug-level message.
	Debug(msg string, args ...any)

	// Info logs an info-level message.
	Info(msg string, args ...any)

	// Warn logs a warning-level message.
	Warn(msg string, args ...any)

	// Error logs an error-level message.
	Error(msg string, args ...any)

	// WithContext returns a logger with context values attached.
	WithContext(ctx context.Context) Logger

	// WithField returns a logger with an additional field.
	WithField(key string, value any) Logger
}

// Level selects the minimum severity InitLogging emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// slogLogger implements Logger on top of log/slog's JSON handler.
type slogLogger struct {
	h *slog.Logger
}

// InitLogging builds the package default logger on top of a JSON slog
// handler writing to w, and installs it via SetDefaultLogger. Every line
// carries "msg", "level", "time" and, once WithField("component", ...) is
// applied by GetLogger, a "component" field.
func InitLogging(level Level, w io.Writer) Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	logger := &slogLogger{h: slog.New(handler)}
	SetDefaultLogger(logger)
	return logger
}

func (l *slogLogger) Debug(msg string, args ...any) { l.h.Debug(msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.h.Info(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.h.Warn(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.h.Error(msg, args...) }

func (l *slogLogger) WithContext(ctx context.Context) Logger {
	return l
}

func (l *slogLogger) WithField(key string, value any) Logger {
	return &slogLogger{h: l.h.With(key, value)}
}

// NoopLogger implements Logger but does nothing. Used as a fallback when
// no logger is configured.
type NoopLogger struct{}

func (l *NoopLogger) Debug(_ string, _ ...any)             {}
func (l *NoopLogger) Info(_ string, _ ...any)              {}
func (l *NoopLogger) Warn(_ string, _ ...any)              {}
func (l *NoopLogger) Error(_ string, _ ...any)             {}
func (l *NoopLogger) WithContext(_ context.Context) Logger { return l }
func (l *NoopLogger) WithField(_ string, _ any) Logger     { return l }

var noop = &NoopLogger{}

// GetNoopLogger returns the no-op logger instance.
func GetNoopLogger() Logger {
	return noop
}

var defaultLogger = GetNoopLogger()

// SetDefaultLogger sets the runtime-wide default logger.
func SetDefaultLogger(logger Logger) {
	if logger != nil {
		defaultLogger = logger
	}
}

// GetLogger returns a logger tagged with the given component name, used
// by each package to get its own logger.
func GetLogger(name string) Logger {
	return defaultLogger.WithField("component", name)
}
