package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps a Prometheus registry with the gauges/counters/histograms
// shared across the store, governor, router, tier resolver, and executor.
// Grounded on the teacher's observability.MetricsCollector, reimplemented
// against a real exporter instead of an in-process ring buffer.
type Metrics struct {
	Registry *prometheus.Registry

	StepsTotal      *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	RunsTotal       *prometheus.CounterVec
	RouterScore     *prometheus.HistogramVec
	RouterLatency   *prometheus.HistogramVec
	QuotaPercent    *prometheus.GaugeVec
	BudgetPercent   *prometheus.GaugeVec
	TierToolsLoaded *prometheus.CounterVec
	FallbacksTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loomwork_steps_total",
			Help: "Workflow step attempts by type and outcome.",
		}, []string{"type", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "loomwork_step_duration_seconds",
			Help: "Step handler execution time.",
		}, []string{"type"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loomwork_runs_total",
			Help: "Workflow runs by terminal status.",
		}, []string{"status"}),
		RouterScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "loomwork_router_score",
			Help: "Composite score of the selected model.",
		}, []string{"model"}),
		RouterLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "loomwork_router_latency_ms",
			Help: "Observed model call latency in milliseconds.",
		}, []string{"model"}),
		QuotaPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loomwork_provider_quota_percent",
			Help: "Current-period provider quota usage percentage.",
		}, []string{"provider"}),
		BudgetPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loomwork_session_budget_percent",
			Help: "Session token budget usage percentage.",
		}, []string{"session", "model"}),
		TierToolsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loomwork_tier_ondemand_loads_total",
			Help: "Tier 2 on-demand skill loads.",
		}, []string{"skill", "task_type"}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loomwork_router_fallbacks_total",
			Help: "Router fallback applications by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.StepsTotal, m.StepDuration, m.RunsTotal,
		m.RouterScore, m.RouterLatency,
		m.QuotaPercent, m.BudgetPercent,
		m.TierToolsLoaded, m.FallbacksTotal,
	)
	return m
}
