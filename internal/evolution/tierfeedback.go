package evolution

import (
	"context"

	"github.com/loomwork/loomwork/internal/tiers"
)

// TierFeedback summarizes the Tier Resolver's learned promotion/demotion
// state as of the moment it was computed.
type TierFeedback struct {
	Promotions int `json:"promotions"`
	Demotions  int `json:"demotions"`
}

// WithTierResolver attaches the Tier Resolver the Engine delivers periodic
// feedback to. Feedback is a no-op until this is set.
func WithTierResolver(r *tiers.Resolver) Option {
	return func(e *Engine) { e.tiers = r }
}

// maybeEmitTierFeedback advances the task counter and, every
// tierFeedbackEvery tasks, computes a {promotions, demotions} summary from
// the Tier Resolver's exported state and logs it.
func (e *Engine) maybeEmitTierFeedback(ctx context.Context) error {
	e.mu.Lock()
	e.taskCount++
	due := e.tiers != nil && e.taskCount%e.tierFeedbackEvery == 0
	e.mu.Unlock()
	if !due {
		return nil
	}
	fb := e.computeTierFeedback()
	e.logInfo("evolution: tier feedback", "promotions", fb.Promotions, "demotions", fb.Demotions)
	return nil
}

// computeTierFeedback reads the Tier Resolver's exported state and counts
// promoted (task_type, skill) pairs and demoted entries.
func (e *Engine) computeTierFeedback() TierFeedback {
	state := e.tiers.ExportState()
	var fb TierFeedback
	for _, perTaskType := range state.Promotions {
		fb.Promotions += len(perTaskType)
	}
	fb.Demotions = len(state.Demotions)
	return fb
}
