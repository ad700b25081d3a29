package governor

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/loomwork/loomwork/internal/store"
)

// budgetSnapshot is the sidecar file shape for a session's budgets,
// written atomically after every consuming operation so an external
// dashboard (or a crashed process's next launch) can read budget state
// without opening the SQLite store.
type budgetSnapshot struct {
	SessionID string                     `json:"session_id"`
	Budgets   map[string]BudgetSnapshot `json:"budgets"`
}

// BudgetSnapshot is one model's budget as persisted to the sidecar file.
type BudgetSnapshot struct {
	MaxTokens       int64          `json:"max_tokens"`
	SpentTokens     int64          `json:"spent_tokens"`
	PercentUsed     float64        `json:"percent_used"`
	Classification  Classification `json:"classification"`
}

func (g *Governor) sidecarPath(sessionID string) string {
	return filepath.Join(g.sidecarDir, "session-budget-"+sessionID+".json")
}

func (g *Governor) toStatus(sessionID, model string, b *store.SessionBudget) BudgetStatus {
	percent := 0.0
	if b.MaxTokens > 0 {
		percent = float64(b.SpentTokens) / float64(b.MaxTokens)
	}
	class := classify(percent, g.thresholds.WarnPercent, g.thresholds.ErrorPercent)
	overage := b.SpentTokens - b.MaxTokens
	remaining := -overage
	if remaining < 0 {
		remaining = 0
	}
	status := BudgetStatus{
		SessionID:       sessionID,
		Model:           model,
		MaxTokens:       b.MaxTokens,
		SpentTokens:     b.SpentTokens,
		RemainingTokens: remaining,
		PercentUsed:     percent,
		Classification:  class,
		Allowed:         class != ClassExceeded,
	}
	status.Message = budgetMessage(status, overage)
	return status
}

func budgetMessage(status BudgetStatus, overage int64) string {
	if status.Classification == ClassExceeded {
		return fmt.Sprintf("budget exceeded by %d tokens", overage)
	}
	return fmt.Sprintf("%.0f%% of budget used", status.PercentUsed*100)
}

// CheckBudget classifies the hypothetical usage that would result from
// spending proposedTokens more on (session,model) — spent+proposed, not
// current spend — creating the ledger row with the configured default
// ceiling on first sight if it does not exist yet. It never debits the
// budget; callers that proceed must still call ConsumeTokens.
func (g *Governor) CheckBudget(ctx context.Context, sessionID, model string, proposedTokens int64) (BudgetStatus, error) {
	b, err := g.store.GetSessionBudget(ctx, sessionID, model)
	if err != nil {
		return BudgetStatus{}, err
	}
	if b == nil {
		b, err = g.store.EnsureSessionBudget(ctx, sessionID, model, g.thresholds.DefaultMaxTokens)
		if err != nil {
			return BudgetStatus{}, err
		}
	}
	hypothetical := *b
	hypothetical.SpentTokens += proposedTokens
	return g.toStatus(sessionID, model, &hypothetical), nil
}

// ConsumeTokens debits the session's (session,model) budget by delta and
// persists a sidecar snapshot. Not idempotent: replaying the same call
// consumes the budget again, by design (see store.ConsumeTokens).
func (g *Governor) ConsumeTokens(ctx context.Context, sessionID, model string, delta int64) (BudgetStatus, error) {
	if _, err := g.store.EnsureSessionBudget(ctx, sessionID, model, g.thresholds.DefaultMaxTokens); err != nil {
		return BudgetStatus{}, err
	}
	b, err := g.store.ConsumeTokens(ctx, sessionID, model, delta)
	if err != nil {
		return BudgetStatus{}, err
	}
	status := g.toStatus(sessionID, model, b)

	if g.metrics != nil {
		g.metrics.BudgetPercent.WithLabelValues(sessionID, model).Set(status.PercentUsed)
	}
	if g.logger != nil && status.Classification != ClassOK {
		g.logger.QuotaEvent("budget:"+model, string(status.Classification), status.PercentUsed)
	}

	if err := g.writeSnapshot(ctx, sessionID, model); err != nil {
		return status, err
	}
	return status, nil
}

// ResetSession zeroes the (session,model) spend counter, e.g. at the
// start of a new billing-relevant session.
func (g *Governor) ResetSession(ctx context.Context, sessionID, model string) error {
	if err := g.store.ResetSessionBudget(ctx, sessionID, model); err != nil {
		return err
	}
	return g.writeSnapshot(ctx, sessionID, model)
}

// writeSnapshot rewrites the full sidecar file for a session from the
// authoritative store state, covering the given models, every model
// already in the session's sidecar file, and every model with a router
// profile. Best-effort beyond the atomic-write
// guarantee itself: a failure here does not roll back the store mutation
// that triggered it, since the store remains the source of truth.
func (g *Governor) writeSnapshot(ctx context.Context, sessionID string, models ...string) error {
	if g.sidecarDir == "" {
		return nil
	}
	profiles, err := g.store.ListModelProfiles(ctx)
	if err != nil {
		return err
	}
	var prev budgetSnapshot
	if err := atomicRead(g.sidecarPath(sessionID), &prev); err == nil {
		for m := range prev.Budgets {
			models = append(models, m)
		}
	}
	for _, p := range profiles {
		models = append(models, p.Model)
	}
	snap := budgetSnapshot{SessionID: sessionID, Budgets: make(map[string]BudgetSnapshot)}
	for _, model := range models {
		if _, done := snap.Budgets[model]; done {
			continue
		}
		b, err := g.store.GetSessionBudget(ctx, sessionID, model)
		if err != nil || b == nil {
			continue
		}
		status := g.toStatus(sessionID, model, b)
		snap.Budgets[model] = BudgetSnapshot{
			MaxTokens:      status.MaxTokens,
			SpentTokens:    status.SpentTokens,
			PercentUsed:    status.PercentUsed,
			Classification: status.Classification,
		}
	}
	return atomicWrite(g.sidecarPath(sessionID), snap)
}

// ImportSnapshot reads a previously written sidecar file back, used by a
// dashboard or a diagnostic tool that must not open the SQLite store
// directly.
func (g *Governor) ImportSnapshot(sessionID string) (map[string]BudgetSnapshot, error) {
	var snap budgetSnapshot
	if err := atomicRead(g.sidecarPath(sessionID), &snap); err != nil {
		return nil, err
	}
	return snap.Budgets, nil
}
