// Package logger provides structured logging for pcon. It wraps log/slog
// and carries pipeline, action and correlation fields through contexts.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

type contextKey int

const (
	correlationIDKey contextKey = iota
	pipelineKey
	actionKey
)

var (
	defaultLogger *slog.Logger
	logFile       *os.File
	once          sync.Once
	mu            sync.RWMutex
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output is the writer to log to. Defaults to os.Stderr.
	Output io.Writer
	// File, when set and Output is nil, appends logs to this path.
	File string
	// AddSource adds source file:line to log entries.
	AddSource bool
}

// Init initializes the default logger. Only the first call takes effect;
// use Reset followed by Init to reconfigure.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	var err error
	once.Do(func() {
		err = initLogger(cfg)
	})
	return err
}

// Reset drops the default logger so Init can be called again.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	once = sync.Once{}
	defaultLogger = nil
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func initLogger(cfg Config) error {
	output := cfg.Output
	if output == nil && cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logFile = f
		output = f
	}
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	return nil
}

func ParseLevel(s string) slog.Level {
	switch s {
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

// Default returns the default logger instance.
// If Init() has not been called, returns slog.Default().
func Default() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		return slog.Default()
	}
	return l
}

// WithContext returns a logger enriched with the correlation id, pipeline
// id and action stored in ctx.
func WithContext(ctx context.Context) *slog.Logger {
	l := Default()

	if cid, ok := ctx.Value(correlationIDKey).(string); ok && cid != "" {
		l = l.With("correlation_id", cid)
	}
	if p, ok := ctx.Value(pipelineKey).(string); ok && p != "" {
		l = l.With("pipeline_id", p)
	}
	if a, ok := ctx.Value(actionKey).(string); ok && a != "" {
		l = l.With("action", a)
	}

	return l
}

func SetCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func SetPipeline(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, pipelineKey, id)
}

func SetAction(ctx context.Context, action string) context.Context {
	return context.WithValue(ctx, actionKey, action)
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

func GetPipeline(ctx context.Context) string {
	if id, ok := ctx.Value(pipelineKey).(string); ok {
		return id
	}
	return ""
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
