package router

import (
	"context"

	"github.com/loomwork/loomwork/internal/store"
)

// RecordOutcome updates a model's live stats with exponential decay:
// rate ← α·outcome + (1−α)·rate for success, and a symmetric EWMA for
// latency, then persists the full profile. Mirrors spec.md §4.3's
// recordOutcome contract.
func (r *Router) RecordOutcome(ctx context.Context, model string, success bool, latencyMs *float64) error {
	profile, err := r.profile(ctx, model)
	if err != nil {
		return err
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	alpha := r.cfg.Alpha
	profile.SuccessRate = alpha*outcome + (1-alpha)*profile.SuccessRate
	profile.ObservedCalls++

	if latencyMs != nil {
		if profile.ObservedCalls <= 1 {
			profile.AvgLatencyMs = *latencyMs
		} else {
			profile.AvgLatencyMs = alpha*(*latencyMs) + (1-alpha)*profile.AvgLatencyMs
		}
		r.latency.record(model, *latencyMs)
	}

	if r.metrics != nil && latencyMs != nil {
		r.metrics.RouterLatency.WithLabelValues(model).Observe(*latencyMs)
	}

	return r.store.UpsertModelProfile(ctx, *profile)
}

// exportProfile is the serializable shape of one model's live stats,
// used by ExportState/ImportState.
type exportProfile struct {
	Model           string  `json:"model"`
	Provider        string  `json:"provider"`
	Tier            string  `json:"tier"`
	SuccessRate     float64 `json:"success_rate"`
	ObservedCalls   int64   `json:"observed_calls"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	CostPer1KTokens float64 `json:"cost_per_1k_tokens"`
}

// State is the router's full exportable live-stats snapshot.
type State struct {
	Profiles []exportProfile `json:"profiles"`
}

// ExportState returns every observed model's live stats, satisfying the
// importState(exportState(X)) = X round-trip law.
func (r *Router) ExportState(ctx context.Context) (State, error) {
	profiles, err := r.store.ListModelProfiles(ctx)
	if err != nil {
		return State{}, err
	}
	out := State{Profiles: make([]exportProfile, 0, len(profiles))}
	for _, p := range profiles {
		out.Profiles = append(out.Profiles, exportProfile{
			Model: p.Model, Provider: p.Provider, Tier: p.Tier,
			SuccessRate: p.SuccessRate, ObservedCalls: p.ObservedCalls,
			AvgLatencyMs: p.AvgLatencyMs, CostPer1KTokens: p.CostPer1KTokens,
		})
	}
	return out, nil
}

// ImportState overwrites the store's model profiles with a previously
// exported snapshot.
func (r *Router) ImportState(ctx context.Context, state State) error {
	for _, p := range state.Profiles {
		err := r.store.UpsertModelProfile(ctx, store.RouterModelProfile{
			Model: p.Model, Provider: p.Provider, Tier: p.Tier,
			SuccessRate: p.SuccessRate, ObservedCalls: p.ObservedCalls,
			AvgLatencyMs: p.AvgLatencyMs, CostPer1KTokens: p.CostPer1KTokens,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
