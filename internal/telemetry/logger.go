// Package telemetry provides structured logging, metrics, and tracing for
// every subsystem. Logger wraps log/slog with persistent component context,
// the same shape as the teacher's observability.Logger. Metrics wraps a
// Prometheus registry; Tracer wraps an OpenTelemetry tracer provider.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger wraps slog with a persistent component name.
type Logger struct {
	mu        sync.RWMutex
	inner     *slog.Logger
	component string
}

// NewLogger creates a structured logger for a given component.
// Output defaults to os.Stderr if w is nil.
func NewLogger(component string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &Logger{inner: slog.New(handler), component: component}
}

// NewLoggerWithHandler creates a logger with a custom slog handler.
func NewLoggerWithHandler(component string, h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h), component: component}
}

// With returns a new Logger with an additional persistent field.
func (l *Logger) With(key string, value any) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{inner: l.inner.With(slog.Any(key, value)), component: l.component}
}

func (l *Logger) attrs(msg string, args []any) (string, []any) {
	return msg, append([]any{slog.String("component", l.component)}, args...)
}

func (l *Logger) Debug(msg string, args ...any) { msg, args = l.attrs(msg, args); l.inner.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { msg, args = l.attrs(msg, args); l.inner.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { msg, args = l.attrs(msg, args); l.inner.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { msg, args = l.attrs(msg, args); l.inner.Error(msg, args...) }

// StepEvent logs a workflow step lifecycle transition.
func (l *Logger) StepEvent(runID, stepID, status string, args ...any) {
	all := append([]any{
		slog.String("component", l.component),
		slog.String("run_id", runID),
		slog.String("step_id", stepID),
		slog.String("status", status),
	}, args...)
	l.inner.Info("step", all...)
}

// RouteEvent logs a model-selection decision.
func (l *Logger) RouteEvent(session, model string, fallback bool, args ...any) {
	all := append([]any{
		slog.String("component", l.component),
		slog.String("session", session),
		slog.String("model", model),
		slog.Bool("fallback_applied", fallback),
	}, args...)
	l.inner.Info("route", all...)
}

// QuotaEvent logs a quota/budget status transition.
func (l *Logger) QuotaEvent(provider, status string, percent float64, args ...any) {
	all := append([]any{
		slog.String("component", l.component),
		slog.String("provider", provider),
		slog.String("status", status),
		slog.Float64("percent", percent),
	}, args...)
	l.inner.Info("quota", all...)
}

// ComponentName returns the component name associated with this logger.
func (l *Logger) ComponentName() string { return l.component }
