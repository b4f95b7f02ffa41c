// Package logging provides structured logging functionality for zoom-recording-downloader
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/curtbushko/zoom-recording-downloader/internal/config"
)

// LogLevel represents the severity level of a log entry
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

type contextKey string

const (
	// RunIDKey is the context key for the id of the current run
	RunIDKey contextKey = "run_id"
)

// Logger defines the interface for logging operations
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})

	DebugWithContext(ctx context.Context, format string, args ...interface{})
	InfoWithContext(ctx context.Context, format string, args ...interface{})
	WarnWithContext(ctx context.Context, format string, args ...interface{})
	ErrorWithContext(ctx context.Context, format string, args ...interface{})

	LogUserAction(action string, user string, metadata map[string]interface{})
	LogPerformance(metrics PerformanceMetrics)

	GetLevel() LogLevel
	SetLevel(level LogLevel)
	SetOutput(w io.Writer)
	Close() error
}

// PerformanceMetrics represents performance data for logging
type PerformanceMetrics struct {
	Operation      string
	Duration       time.Duration
	BytesProcessed int64
	Success        bool
	Error          string
	Metadata       map[string]interface{}
}

// loggerImpl implements the Logger interface on top of logrus
type loggerImpl struct {
	mu         sync.Mutex
	level      LogLevel
	entry      *logrus.Logger
	fileHandle *os.File
}

// NewLogger creates a new Logger instance with the given configuration
func NewLogger(cfg config.LoggingConfig) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	base := logrus.New()
	base.SetLevel(level.logrus())
	if cfg.JSONFormat {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	logger := &loggerImpl{level: level, entry: base}

	var writers []io.Writer
	if cfg.ConsoleEnabled() {
		writers = append(writers, os.Stdout)
	}
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		logger.fileHandle = file
		writers = append(writers, file)
	}

	switch len(writers) {
	case 0:
		base.SetOutput(io.Discard)
	case 1:
		base.SetOutput(writers[0])
	default:
		base.SetOutput(io.MultiWriter(writers...))
	}

	return logger, nil
}

// ParseLevel converts a string to LogLevel
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

func fieldsFrom(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	if ctx == nil {
		return fields
	}
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		fields["run_id"] = id
	}
	return fields
}

func (l *loggerImpl) log(level LogLevel, ctx context.Context, format string, args ...interface{}) {
	l.entry.WithFields(fieldsFrom(ctx)).Logf(level.logrus(), format, args...)
}

func (l *loggerImpl) Debug(format string, args ...interface{}) {
	l.log(DebugLevel, nil, format, args...)
}

func (l *loggerImpl) Info(format string, args ...interface{}) {
	l.log(InfoLevel, nil, format, args...)
}

func (l *loggerImpl) Warn(format string, args ...interface{}) {
	l.log(WarnLevel, nil, format, args...)
}

func (l *loggerImpl) Error(format string, args ...interface{}) {
	l.log(ErrorLevel, nil, format, args...)
}

func (l *loggerImpl) DebugWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(DebugLevel, ctx, format, args...)
}

func (l *loggerImpl) InfoWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(InfoLevel, ctx, format, args...)
}

func (l *loggerImpl) WarnWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(WarnLevel, ctx, format, args...)
}

func (l *loggerImpl) ErrorWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(ErrorLevel, ctx, format, args...)
}

// LogUserAction logs a per-user event such as a skipped or enumerated user
func (l *loggerImpl) LogUserAction(action string, user string, metadata map[string]interface{}) {
	fields := logrus.Fields{
		"action": action,
		"user":   user,
	}
	for key, value := range metadata {
		fields[key] = value
	}
	l.entry.WithFields(fields).Infof("User action: %s", action)
}

// LogPerformance logs timing and volume for a finished operation
func (l *loggerImpl) LogPerformance(metrics PerformanceMetrics) {
	fields := logrus.Fields{
		"operation":       metrics.Operation,
		"duration_ms":     metrics.Duration.Milliseconds(),
		"bytes_processed": metrics.BytesProcessed,
		"success":         metrics.Success,
	}
	if metrics.Error != "" {
		fields["error"] = metrics.Error
	}
	for key, value := range metrics.Metadata {
		fields[key] = value
	}
	l.entry.WithFields(fields).Infof("Performance: %s completed in %v", metrics.Operation, metrics.Duration)
}

func (l *loggerImpl) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *loggerImpl) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
	l.entry.SetLevel(level.logrus())
}

// SetOutput sets the output writer (mainly for testing)
func (l *loggerImpl) SetOutput(w io.Writer) {
	l.entry.SetOutput(w)
}

// Close closes the logger and any open file handles
func (l *loggerImpl) Close() error {
	if l.fileHandle != nil {
		return l.fileHandle.Close()
	}
	return nil
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = discardLogger()
)

func discardLogger() Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &loggerImpl{level: InfoLevel, entry: base}
}

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// GetDefaultLogger returns the global default logger. It never returns nil;
// before InitializeLogging it discards everything.
func GetDefaultLogger() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// InitializeLogging initializes the global logger with the provided configuration
func InitializeLogging(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	SetDefaultLogger(logger)
	return nil
}

func Debug(format string, args ...interface{}) { GetDefaultLogger().Debug(format, args...) }
func Info(format string, args ...interface{})  { GetDefaultLogger().Info(format, args...) }
func Warn(format string, args ...interface{})  { GetDefaultLogger().Warn(format, args...) }
func Error(format string, args ...interface{}) { GetDefaultLogger().Error(format, args...) }

func DebugWithContext(ctx context.Context, format string, args ...interface{}) {
	GetDefaultLogger().DebugWithContext(ctx, format, args...)
}

func InfoWithContext(ctx context.Context, format string, args ...interface{}) {
	GetDefaultLogger().InfoWithContext(ctx, format, args...)
}

func WarnWithContext(ctx context.Context, format string, args ...interface{}) {
	GetDefaultLogger().WarnWithContext(ctx, format, args...)
}

func ErrorWithContext(ctx context.Context, format string, args ...interface{}) {
	GetDefaultLogger().ErrorWithContext(ctx, format, args...)
}

func LogUserAction(action string, user string, metadata map[string]interface{}) {
	GetDefaultLogger().LogUserAction(action, user, metadata)
}

func LogPerformance(metrics PerformanceMetrics) {
	GetDefaultLogger().LogPerformance(metrics)
}

// WithRunID tags ctx with the id of the current run
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID extracts the run ID from a context
func GetRunID(ctx context.Context) (string, bool) {
	runID, ok := ctx.Value(RunIDKey).(string)
	return runID, ok
}

// NewID returns a random identifier for runs and requests
func NewID() string {
	return uuid.NewString()
}
