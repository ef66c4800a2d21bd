// Package logging provides structured logging for phonefleet.
// It wraps Go's log/slog package to provide JSON-formatted logs carrying the
// run, device and component that produced each line, so a multi-device run
// can be untangled afterwards with `phonefleet logs`.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// FileName is the name of the active log file inside the log directory.
const FileName = "phonefleet.log"

// Attribute keys shared by the logger and the aggregation helpers.
const (
	KeyRunID     = "run_id"
	KeyDeviceID  = "device_id"
	KeyComponent = "component"
)

// Logger provides structured logging with context propagation.
// It is safe for concurrent use. Child loggers share the parent's output.
type Logger struct {
	logger *slog.Logger
	out    *output
}

// output is the shared sink behind a Logger and all of its children.
type output struct {
	mu     sync.Mutex
	closer io.Closer
}

// NewLogger creates a Logger that writes JSON lines to {dir}/phonefleet.log
// through a RotatingWriter configured by rotation.
//
// The level parameter controls which messages are logged:
//   - DEBUG: All messages
//   - INFO: Info, Warn, and Error messages
//   - WARN: Warn and Error messages
//   - ERROR: Only Error messages
//
// If dir is empty, logs are written to stderr.
func NewLogger(dir string, level string, rotation RotationConfig) (*Logger, error) {
	if dir == "" {
		return NewWriterLogger(os.Stderr, level), nil
	}

	rw, err := NewRotatingWriter(filepath.Join(dir, FileName), rotation)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWriterLogger(rw, level)
	l.out.closer = rw
	return l, nil
}

// NewWriterLogger creates a Logger writing JSON lines to w. The caller keeps
// ownership of w; Close does not close it.
func NewWriterLogger(w io.Writer, level string) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{
		logger: slog.New(handler),
		out:    &output{},
	}
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
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

// WithRun returns a child Logger that tags every entry with the run ID.
func (l *Logger) WithRun(runID string) *Logger {
	return l.With(KeyRunID, runID)
}

// WithDevice returns a child Logger that tags every entry with the device ID.
func (l *Logger) WithDevice(deviceID string) *Logger {
	return l.With(KeyDeviceID, deviceID)
}

// WithComponent returns a child Logger naming the subsystem that logs
// (e.g. "orchestrator", "worker", "bridge", "server").
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(KeyComponent, name)
}

// With returns a new Logger with arbitrary key-value attributes.
// Keys and values are provided as alternating arguments.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{
		logger: l.logger.With(args...),
		out:    l.out,
	}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelError, msg, args...)
}

// Slog exposes the underlying slog.Logger for libraries that accept one.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// Close flushes and closes the log file. Loggers writing to stderr or to a
// caller-supplied writer are unaffected. Closing a child closes the shared
// file for the whole family.
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.closer == nil {
		return nil
	}
	err := l.out.closer.Close()
	l.out.closer = nil
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// NopLogger returns a Logger that discards all log output.
// Useful for testing or when logging is disabled.
func NopLogger() *Logger {
	return NewWriterLogger(io.Discard, LevelError)
}

// ParseLevel normalizes a level string to one of the level constants.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch upper := strings.ToUpper(level); upper {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return upper
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
