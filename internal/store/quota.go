package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/loomwork/loomwork/internal/errs"
)

// ConfigureQuota upserts the provider's quota ceiling. Idempotent: calling
// it twice with the same values leaves the same row in place.
func (s *Store) ConfigureQuota(ctx context.Context, cfg ProviderQuotaConfig) error {
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO provider_quota_configs (provider, period, max_requests, max_tokens, warning_pct, critical_pct, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(provider) DO UPDATE SET
			   period = excluded.period,
			   max_requests = excluded.max_requests,
			   max_tokens = excluded.max_tokens,
			   warning_pct = excluded.warning_pct,
			   critical_pct = excluded.critical_pct,
			   updated_at = excluded.updated_at`,
			cfg.Provider, cfg.Period, cfg.MaxRequests, cfg.MaxTokens, cfg.WarningPct, cfg.CriticalPct, nowRFC3339(),
		)
		if err != nil {
			return errs.Wrap(errs.KindState, "configure provider quota", err)
		}
		return nil
	})
}

// GetQuotaConfig loads a provider's configured ceiling, or nil if unset
// (callers fall back to the configured default unknown-provider ceiling).
func (s *Store) GetQuotaConfig(ctx context.Context, provider string) (*ProviderQuotaConfig, error) {
	var cfg ProviderQuotaConfig
	err := s.db.GetContext(ctx, &cfg, `SELECT * FROM provider_quota_configs WHERE provider = ?`, provider)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindState, "get quota config", err)
	}
	return &cfg, nil
}

// RecordUsage appends a usage record for a provider/model/session call.
func (s *Store) RecordUsage(ctx context.Context, rec APIUsageRecord) error {
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO api_usage_records (provider, model, session_id, tokens, requests, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.Provider, rec.Model, rec.SessionID, rec.Tokens, rec.Requests, nowRFC3339(),
		)
		if err != nil {
			return errs.Wrap(errs.KindState, "record api usage", err)
		}
		return nil
	})
}

// UsageSince sums tokens and requests recorded for provider since the
// start of the period boundary at 'since'.
func (s *Store) UsageSince(ctx context.Context, provider string, since time.Time) (tokens, requests int64, err error) {
	row := struct {
		Tokens   sql.NullInt64 `db:"tokens"`
		Requests sql.NullInt64 `db:"requests"`
	}{}
	err = s.db.GetContext(ctx, &row,
		`SELECT COALESCE(SUM(tokens),0) AS tokens, COALESCE(SUM(requests),0) AS requests
		 FROM api_usage_records WHERE provider = ? AND recorded_at >= ?`,
		provider, since.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, 0, errs.Wrap(errs.KindState, "sum usage since", err)
	}
	return row.Tokens.Int64, row.Requests.Int64, nil
}
