package governor

import (
	"context"
	"math"
	"path/filepath"

	"github.com/loomwork/loomwork/internal/store"
)

// quotaSnapshot is the sidecar file shape for a provider's quota status.
type quotaSnapshot struct {
	Provider    string  `json:"provider"`
	Period      string  `json:"period"`
	PercentUsed float64 `json:"percent_used"`
	Health      string  `json:"health"`
}

func (g *Governor) quotaSidecarPath(provider string) string {
	return filepath.Join(g.sidecarDir, "provider-quota-"+provider+".json")
}

// ConfigureQuota sets (or replaces) a provider's quota ceiling. Idempotent.
func (g *Governor) ConfigureQuota(ctx context.Context, cfg store.ProviderQuotaConfig) error {
	return g.store.ConfigureQuota(ctx, cfg)
}

// GetQuotaStatus computes the provider's usage percentage and health over
// its configured period window, falling back to the default max-tokens
// ceiling for a provider that was never explicitly configured.
func (g *Governor) GetQuotaStatus(ctx context.Context, provider string) (QuotaStatus, error) {
	cfg, err := g.store.GetQuotaConfig(ctx, provider)
	if err != nil {
		return QuotaStatus{}, err
	}

	period := store.PeriodDay
	warning, critical := g.thresholds.WarningQuota, g.thresholds.CriticalQuota
	var maxTokens, maxRequests *int64
	if cfg != nil {
		period = cfg.Period
		warning, critical = cfg.WarningPct, cfg.CriticalPct
		maxTokens, maxRequests = cfg.MaxTokens, cfg.MaxRequests
	} else {
		defaultCeiling := g.thresholds.DefaultMaxTokens
		maxTokens = &defaultCeiling
	}

	since := periodStart(period, nowOrZero())
	tokens, requests, err := g.store.UsageSince(ctx, provider, since)
	if err != nil {
		return QuotaStatus{}, err
	}

	percent := 0.0
	switch {
	case maxTokens != nil && *maxTokens > 0:
		percent = float64(tokens) / float64(*maxTokens)
	case maxRequests != nil && *maxRequests > 0:
		percent = float64(requests) / float64(*maxRequests)
	}

	status := QuotaStatus{
		Provider:     provider,
		Period:       period,
		UsedTokens:   tokens,
		UsedRequests: requests,
		MaxTokens:    maxTokens,
		MaxRequests:  maxRequests,
		PercentUsed:  percent,
		Health:       health(percent, warning, critical),
	}

	if g.metrics != nil {
		g.metrics.QuotaPercent.WithLabelValues(provider).Set(percent)
	}
	if g.logger != nil && status.Health != HealthHealthy {
		g.logger.QuotaEvent(provider, string(status.Health), percent)
	}

	return status, nil
}

// RecordUsage appends a usage record and writes an updated quota sidecar
// snapshot for the provider.
func (g *Governor) RecordUsage(ctx context.Context, rec store.APIUsageRecord) (QuotaStatus, error) {
	if err := g.store.RecordUsage(ctx, rec); err != nil {
		return QuotaStatus{}, err
	}
	status, err := g.GetQuotaStatus(ctx, rec.Provider)
	if err != nil {
		return QuotaStatus{}, err
	}
	if g.sidecarDir != "" {
		_ = atomicWrite(g.quotaSidecarPath(rec.Provider), quotaSnapshot{
			Provider:    rec.Provider,
			Period:      string(status.Period),
			PercentUsed: status.PercentUsed,
			Health:      string(status.Health),
		})
	}
	return status, nil
}

// HasCapacity reports whether a provider can accept a call estimated to
// cost estTokens: its circuit breaker must not be open, its quota must
// not be exhausted, and either the remaining token ceiling covers
// estTokens or its usage hasn't yet crossed the critical threshold (a
// provider with neither a token nor a request ceiling reports 0% usage
// and so always satisfies the latter check).
func (g *Governor) HasCapacity(ctx context.Context, provider string, estTokens int64) (bool, error) {
	if !g.providerAvailable(provider) {
		return false, nil
	}
	status, err := g.GetQuotaStatus(ctx, provider)
	if err != nil {
		return false, err
	}
	if status.Health == HealthExhausted {
		return false, nil
	}
	if status.MaxTokens != nil {
		remaining := *status.MaxTokens - status.UsedTokens
		if remaining >= estTokens {
			return true, nil
		}
	}
	return status.PercentUsed < g.thresholds.CriticalQuota, nil
}

// SuggestFallback returns the non-exhausted provider in fallbackChain
// with the lowest current percent_used, ties broken by input order, or
// "" if none qualify.
func (g *Governor) SuggestFallback(ctx context.Context, fallbackChain []string) (string, error) {
	best := ""
	bestPercent := math.Inf(1)
	for _, provider := range fallbackChain {
		if !g.providerAvailable(provider) {
			continue
		}
		status, err := g.GetQuotaStatus(ctx, provider)
		if err != nil {
			return "", err
		}
		if status.Health == HealthExhausted {
			continue
		}
		if status.PercentUsed < bestPercent {
			bestPercent = status.PercentUsed
			best = provider
		}
	}
	return best, nil
}
