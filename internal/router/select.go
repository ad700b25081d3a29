package router

import (
	"context"
	"fmt"

	"github.com/loomwork/loomwork/internal/governor"
	"github.com/loomwork/loomwork/internal/store"
	"github.com/loomwork/loomwork/internal/telemetry"
)

// SelectModel scores every candidate in the task's preference list
// (falling back to the full catalog if the list is empty), applies the
// quota-aware fallback walk, persists the decision, and returns the
// winning selection. Pure with respect to the catalog; it does mutate
// the store by seeding new profiles and recording the decision row, but
// never changes an existing profile's live stats (that's recordOutcome).
func (r *Router) SelectModel(ctx context.Context, task TaskContext) (Selection, error) {
	ctx, span := telemetry.Tracer("loomwork/router").Start(ctx, "router.selectModel")
	defer span.End()

	candidates := task.PreferenceList
	if len(candidates) == 0 {
		r.mu.RLock()
		for id := range r.catalog {
			candidates = append(candidates, id)
		}
		r.mu.RUnlock()
	}
	if len(candidates) == 0 {
		return Selection{}, fmt.Errorf("router has no candidate models to select from")
	}

	ranked, err := r.rank(ctx, task, candidates)
	if err != nil {
		return Selection{}, err
	}

	fallbacks := make([]string, 0, len(ranked)-1)
	for _, s := range ranked[1:] {
		fallbacks = append(fallbacks, s.candidate.Model)
	}

	chosen := ranked[0]
	selection := Selection{
		Model:     chosen.candidate.Model,
		Score:     chosen.score,
		Reason:    chosen.reason,
		CostTier:  chosen.candidate.Tier,
		Fallbacks: fallbacks,
	}

	if r.governor != nil {
		selection, err = r.applyQuotaAwareFallback(ctx, task, ranked, selection)
		if err != nil {
			return Selection{}, err
		}
	}

	if r.metrics != nil {
		r.metrics.RouterScore.WithLabelValues(selection.Model).Observe(selection.Score)
	}
	if r.logger != nil {
		r.logger.RouteEvent(task.SessionID, selection.Model, selection.FallbackApplied, "reason", selection.Reason)
	}

	var requestedModel *string
	if len(candidates) > 0 {
		requestedModel = &ranked[0].candidate.Model
	}
	if err := r.store.RecordRoutingDecision(ctx, store.RoutingDecision{
		SessionID:       task.SessionID,
		RequestedModel:  requestedModel,
		SelectedModel:   selection.Model,
		FallbackApplied: selection.FallbackApplied,
		Score:           selection.Score,
		Reason:          selection.Reason,
	}); err != nil {
		return Selection{}, err
	}

	return selection, nil
}

// rank scores and sorts candidates, descending.
func (r *Router) rank(ctx context.Context, task TaskContext, candidateIDs []string) ([]scored, error) {
	w := r.cfg.Weights
	items := make([]scored, 0, len(candidateIDs))

	for _, id := range candidateIDs {
		r.mu.RLock()
		cand, ok := r.catalog[id]
		r.mu.RUnlock()
		if !ok {
			continue
		}

		profile, err := r.profile(ctx, id)
		if err != nil {
			return nil, err
		}

		pScore := providerScore(cand.Provider, r.cfg.PrimaryProvider, r.cfg.PrimaryWeight, r.cfg.OtherWeight)
		tScore := tierMatchScore(task.RequestedTier, cand.Tier)
		prefScore := preferenceScore(id, task.PreferenceList)
		successRate := blendedSuccessRate(r.cfg.DefaultSuccessRate, profile.SuccessRate, profile.ObservedCalls, r.cfg.ObservationThreshold)
		bonus := strengthBonus(task.RequestedStrengths, cand.Strengths, w.StrengthCap)

		score := w.Provider*pScore + w.TierMatch*tScore + w.Preference*prefScore + w.Success*successRate + bonus
		score -= costPenalty(cand.CostPer1K, task.BudgetUSD)
		p95 := r.latency.p95(id)
		score -= latencyPenalty(p95, task.MaxLatencyMs)

		items = append(items, scored{
			candidate:   cand,
			score:       score,
			successRate: successRate,
			meanLatency: profile.AvgLatencyMs,
			reason: fmt.Sprintf(
				"provider=%.2f tier=%.2f preference=%.2f success=%.2f bonus=%.2f",
				pScore, tScore, prefScore, successRate, bonus,
			),
		})
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("no candidate in the router catalog matched the requested models")
	}
	sortScored(items)
	return items, nil
}

// applyQuotaAwareFallback consults the Governor for the top candidate's
// provider health and, if exhausted, walks the ranked list for the first
// candidate whose provider still has capacity.
func (r *Router) applyQuotaAwareFallback(ctx context.Context, task TaskContext, ranked []scored, selection Selection) (Selection, error) {
	status, err := r.governor.GetQuotaStatus(ctx, ranked[0].candidate.Provider)
	if err != nil {
		return Selection{}, err
	}

	switch status.Health {
	case governor.HealthExhausted:
		for _, s := range ranked[1:] {
			ok, err := r.governor.HasCapacity(ctx, s.candidate.Provider, task.EstTokens)
			if err != nil {
				return Selection{}, err
			}
			if ok {
				selection.Model = s.candidate.Model
				selection.Score = s.score
				selection.CostTier = s.candidate.Tier
				selection.FallbackApplied = true
				selection.QuotaSignal = string(governor.HealthExhausted)
				selection.Reason = fmt.Sprintf("%s; fallback from exhausted provider %s", s.reason, ranked[0].candidate.Provider)
				return selection, nil
			}
		}
		selection.QuotaSignal = string(governor.HealthExhausted)
		return selection, nil
	case governor.HealthCritical:
		selection.QuotaSignal = string(governor.HealthCritical)
		return selection, nil
	default:
		return selection, nil
	}
}
