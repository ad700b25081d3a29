package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomwork/loomwork/internal/governor"
	"github.com/loomwork/loomwork/internal/store"
	"github.com/loomwork/loomwork/internal/telemetry"
)

// Config configures a Router's scoring and live-tuning behavior.
type Config struct {
	Weights           Weights
	PrimaryProvider   string
	PrimaryWeight     float64
	OtherWeight       float64
	DefaultSuccessRate float64
	ObservationThreshold int
	Alpha             float64 // EWMA smoothing factor, default 0.2
}

// Router selects models and tunes live stats from observed outcomes.
type Router struct {
	mu       sync.RWMutex
	catalog  map[string]ModelCandidate
	store    *store.Store
	governor *governor.Governor
	cfg      Config
	latency  *latencyWindow
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
}

// New constructs a Router over a static model catalog.
func New(catalog []ModelCandidate, st *store.Store, gov *governor.Governor, cfg Config, logger *telemetry.Logger, metrics *telemetry.Metrics) *Router {
	if cfg.Alpha == 0 {
		cfg.Alpha = 0.2
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	byID := make(map[string]ModelCandidate, len(catalog))
	for _, c := range catalog {
		byID[c.Model] = c
	}
	return &Router{
		catalog:  byID,
		store:    st,
		governor: gov,
		cfg:      cfg,
		latency:  newLatencyWindow(50),
		logger:   logger,
		metrics:  metrics,
	}
}

// profile loads (or lazily seeds from the catalog) a model's live stats.
func (r *Router) profile(ctx context.Context, model string) (*store.RouterModelProfile, error) {
	p, err := r.store.GetModelProfile(ctx, model)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	cand, ok := r.catalog[model]
	if !ok {
		return nil, fmt.Errorf("model %q is not in the router catalog", model)
	}
	seeded := store.RouterModelProfile{
		Model:           model,
		Provider:        cand.Provider,
		Tier:            string(cand.Tier),
		SuccessRate:     r.cfg.DefaultSuccessRate,
		ObservedCalls:   0,
		AvgLatencyMs:    0,
		CostPer1KTokens: cand.CostPer1K,
	}
	if err := r.store.UpsertModelProfile(ctx, seeded); err != nil {
		return nil, err
	}
	return &seeded, nil
}
