package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/loomwork/loomwork/internal/errs"
)

// GetModelProfile loads the router's live-tuned profile for a model, or
// nil if the model has never been observed.
func (s *Store) GetModelProfile(ctx context.Context, model string) (*RouterModelProfile, error) {
	var p RouterModelProfile
	err := s.db.GetContext(ctx, &p, `SELECT * FROM router_model_profiles WHERE model = ?`, model)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindState, "get model profile", err)
	}
	return &p, nil
}

// ListModelProfiles returns every observed model profile.
func (s *Store) ListModelProfiles(ctx context.Context) ([]RouterModelProfile, error) {
	var profiles []RouterModelProfile
	if err := s.db.SelectContext(ctx, &profiles, `SELECT * FROM router_model_profiles`); err != nil {
		return nil, errs.Wrap(errs.KindState, "list model profiles", err)
	}
	return profiles, nil
}

// UpsertModelProfile writes the full profile row, creating it if absent.
func (s *Store) UpsertModelProfile(ctx context.Context, p RouterModelProfile) error {
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO router_model_profiles (model, provider, tier, success_rate, observed_calls, avg_latency_ms, cost_per_1k_tokens, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(model) DO UPDATE SET
			   provider = excluded.provider,
			   tier = excluded.tier,
			   success_rate = excluded.success_rate,
			   observed_calls = excluded.observed_calls,
			   avg_latency_ms = excluded.avg_latency_ms,
			   cost_per_1k_tokens = excluded.cost_per_1k_tokens,
			   updated_at = excluded.updated_at`,
			p.Model, p.Provider, p.Tier, p.SuccessRate, p.ObservedCalls, p.AvgLatencyMs, p.CostPer1KTokens, nowRFC3339(),
		)
		if err != nil {
			return errs.Wrap(errs.KindState, "upsert model profile", err)
		}
		return nil
	})
}

// RecordRoutingDecision appends a routing decision for audit/debugging.
func (s *Store) RecordRoutingDecision(ctx context.Context, d RoutingDecision) error {
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO routing_decisions (session_id, requested_model, selected_model, fallback_applied, score, reason, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.SessionID, d.RequestedModel, d.SelectedModel, d.FallbackApplied, d.Score, d.Reason, nowRFC3339(),
		)
		if err != nil {
			return errs.Wrap(errs.KindState, "record routing decision", err)
		}
		return nil
	})
}
