package workflow

import (
	"github.com/loomwork/loomwork/internal/store"
	"github.com/loomwork/loomwork/internal/telemetry"
)

// Executor drives workflow runs against a durable Store, dispatching
// atomic steps to registered handlers. Nil-safe for Logger/Metrics the
// same way the teacher's pipeline.Dependencies is nil-safe for its
// optional Phase 2/3/4 collaborators.
type Executor struct {
	store    *store.Store
	handlers map[string]HandlerFunc
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithLogger attaches a structured logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics attaches a Prometheus metrics set.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New creates an Executor backed by st, with handlers registered by name.
func New(st *store.Store, handlers map[string]HandlerFunc, opts ...Option) *Executor {
	e := &Executor{store: st, handlers: handlers}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) logInfo(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Info(msg, args...)
	}
}

func (e *Executor) logWarn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}

func (e *Executor) stepEvent(runID, stepID, status string, args ...any) {
	if e.logger != nil {
		e.logger.StepEvent(runID, stepID, status, args...)
	}
}

func (e *Executor) recordStep(stepType, outcome string) {
	if e.metrics != nil {
		e.metrics.StepsTotal.WithLabelValues(stepType, outcome).Inc()
	}
}

func (e *Executor) recordRun(status string) {
	if e.metrics != nil {
		e.metrics.RunsTotal.WithLabelValues(status).Inc()
	}
}

func (e *Executor) observeStepDuration(stepType string, seconds float64) {
	if e.metrics != nil {
		e.metrics.StepDuration.WithLabelValues(stepType).Observe(seconds)
	}
}
