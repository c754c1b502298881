package kcache

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with kernel-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithPID adds a process id field to the logger.
func (l *Logger) WithPID(pid int) *Logger {
	return &Logger{
		Logger: l.Logger.With("pid", pid),
	}
}

// WithDevice adds a device number field to the logger.
func (l *Logger) WithDevice(dev uint32) *Logger {
	return &Logger{
		Logger: l.Logger.With("dev", dev),
	}
}

// LogMap logs a map operation.
func (l *Logger) LogMap(ctx context.Context, pid int, addr Addr, length uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "map failed",
			"pid", pid,
			"length", length,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "map completed",
			"pid", pid,
			"addr", addr,
			"length", length,
		)
	}
}

// LogUnmap logs an unmap operation.
func (l *Logger) LogUnmap(ctx context.Context, pid int, addr Addr, length uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "unmap failed",
			"pid", pid,
			"addr", addr,
			"length", length,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "unmap completed",
			"pid", pid,
			"addr", addr,
			"length", length,
		)
	}
}

// LogFault logs a page fault.
func (l *Logger) LogFault(ctx context.Context, pid int, addr Addr, err error) {
	if err != nil {
		l.WarnContext(ctx, "page fault failed",
			"pid", pid,
			"addr", addr,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "page fault handled",
			"pid", pid,
			"addr", addr,
		)
	}
}

// LogExit logs process teardown.
func (l *Logger) LogExit(ctx context.Context, pid, regions int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "process exit failed",
			"pid", pid,
			"regions", regions,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "process exited",
			"pid", pid,
			"regions", regions,
		)
	}
}
