package tiers

import "github.com/loomwork/loomwork/internal/atomicio"

// persistedState is the sidecar file shape and also the ExportState/
// ImportState round-trip payload.
type persistedState struct {
	OnDemandCounts map[string]map[string]int  `json:"on_demand_counts"`
	Promotions     map[string]map[string]bool `json:"promotions"`
	Demotions      map[string]bool            `json:"demotions"`
	UsageHistory   map[string][]bool          `json:"usage_history"`
}

func (r *Resolver) snapshot() persistedState {
	return persistedState{
		OnDemandCounts: r.onDemandCounts,
		Promotions:     r.promotions,
		Demotions:      r.demotions,
		UsageHistory:   r.usageHistory,
	}
}

func (r *Resolver) applyPersisted(state persistedState) {
	if state.OnDemandCounts != nil {
		r.onDemandCounts = state.OnDemandCounts
	}
	if state.Promotions != nil {
		r.promotions = state.Promotions
	}
	if state.Demotions != nil {
		r.demotions = state.Demotions
	}
	if state.UsageHistory != nil {
		r.usageHistory = state.UsageHistory
	}
}

// persist writes promotion/demotion/usage state atomically. Called with
// r.mu already held.
func (r *Resolver) persist() {
	if r.sidecarPath == "" {
		return
	}
	_ = atomicio.WriteJSON(r.sidecarPath, r.snapshot())
}

// ExportState returns the full promotion/demotion/usage state for
// round-trip serialization.
func (r *Resolver) ExportState() persistedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// ImportState overwrites live state from a previously exported snapshot
// and clears the memoization cache (stale resolutions must not survive a
// state swap).
func (r *Resolver) ImportState(state persistedState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyPersisted(state)
	r.cache.clear()
	r.persist()
}
