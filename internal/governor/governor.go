// Package governor implements the Quota & Budget Governor: per-session
// token budget tracking and per-provider API quota tracking, with
// threshold classification and quota-aware fallback suggestion.
// Grounded on the teacher's internal/budget.Tracker (daily/monthly limits,
// running totals, ShouldDowngrade threshold, EffectiveBudget), generalized
// from a single in-process tracker with fixed $-denominated daily/monthly
// limits to the spec's per-(session,model) token ledger plus a separate
// per-provider request/token quota with day/month/all-time windows,
// backed by internal/store instead of in-memory maps, and fronted by a
// sony/gobreaker circuit breaker per provider for call-level failures.
package governor

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/loomwork/loomwork/internal/atomicio"
	"github.com/loomwork/loomwork/internal/errs"
	"github.com/loomwork/loomwork/internal/store"
	"github.com/loomwork/loomwork/internal/telemetry"
)

// Classification is the threshold-derived state of a session budget.
type Classification string

const (
	ClassOK       Classification = "ok"
	ClassWarn     Classification = "warn"
	ClassError    Classification = "error"
	ClassExceeded Classification = "exceeded"
)

// Health is the threshold-derived state of a provider quota.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthWarning   Health = "warning"
	HealthCritical  Health = "critical"
	HealthExhausted Health = "exhausted"
)

// BudgetStatus is the result of a budget check or consumption.
type BudgetStatus struct {
	SessionID       string
	Model           string
	MaxTokens       int64
	SpentTokens     int64
	RemainingTokens int64
	PercentUsed     float64
	Classification  Classification
	// Allowed is false only when the usage this status describes
	// reaches or exceeds MaxTokens (Classification == ClassExceeded).
	Allowed bool
	// Message is a short human-readable explanation of Classification,
	// e.g. "62% of budget used" or "budget exceeded by 150 tokens".
	Message string
}

// QuotaStatus is the result of a provider quota check.
type QuotaStatus struct {
	Provider    string
	Period      store.QuotaPeriod
	UsedTokens  int64
	UsedRequests int64
	MaxTokens   *int64
	MaxRequests *int64
	PercentUsed float64
	Health      Health
}

// Thresholds configures classification/health boundaries.
type Thresholds struct {
	WarnPercent     float64 // session budget: ok -> warn
	ErrorPercent    float64 // session budget: warn -> error (>=1.0 is exceeded)
	WarningQuota    float64 // provider quota: healthy -> warning
	CriticalQuota   float64 // provider quota: warning -> critical
	DefaultMaxTokens int64  // ceiling applied to models never explicitly budgeted
}

// Governor is the single entry point for budget and quota decisions.
type Governor struct {
	store      *store.Store
	thresholds Thresholds
	sidecarDir string
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New constructs a Governor over an open store.
func New(st *store.Store, thresholds Thresholds, sidecarDir string, logger *telemetry.Logger, metrics *telemetry.Metrics) *Governor {
	return &Governor{
		store:      st,
		thresholds: thresholds,
		sidecarDir: sidecarDir,
		logger:     logger,
		metrics:    metrics,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (g *Governor) breaker(provider string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[provider]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider:" + provider,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	g.breakers[provider] = b
	return b
}

// RecordProviderOutcome feeds a provider call's success/failure into its
// circuit breaker, so a string of upstream failures (not merely quota
// exhaustion) also drives fallback suggestions.
func (g *Governor) RecordProviderOutcome(provider string, err error) {
	b := g.breaker(provider)
	if err == nil {
		b.Execute(func() (any, error) { return nil, nil })
		return
	}
	b.Execute(func() (any, error) { return nil, err })
}

func (g *Governor) providerAvailable(provider string) bool {
	return g.breaker(provider).State() != gobreaker.StateOpen
}

func classify(percent float64, warn, errorT float64) Classification {
	switch {
	case percent >= 1.0:
		return ClassExceeded
	case percent > errorT:
		return ClassError
	case percent >= warn:
		return ClassWarn
	default:
		return ClassOK
	}
}

func health(percent float64, warning, critical float64) Health {
	switch {
	case percent >= 1.0:
		return HealthExhausted
	case percent >= critical:
		return HealthCritical
	case percent >= warning:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

func periodStart(period store.QuotaPeriod, now time.Time) time.Time {
	switch period {
	case store.PeriodDay:
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case store.PeriodMonth:
		y, m, _ := now.UTC().Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}

func wrapState(op string, err error) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(errs.KindState, op, err)
}

func nowOrZero() time.Time { return time.Now().UTC() }

// atomicWrite and atomicRead route sidecar file I/O through the atomicio
// write-to-temp-and-rename protocol.
func atomicWrite(path string, v any) error { return atomicio.WriteJSON(path, v) }
func atomicRead(path string, v any) error  { return atomicio.ReadJSON(path, v) }
