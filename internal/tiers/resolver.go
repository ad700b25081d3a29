package tiers

import (
	"sync"

	"github.com/loomwork/loomwork/internal/atomicio"
)

// Resolver partitions tools/skills/MCPs into Tier 0/1/2 for each incoming
// prompt and learns from usage feedback which Tier 1 entries earn their
// place. Grounded on the teacher's instruments/skills catalog shape for
// Tier 2 and, for the memoization layer, directly on
// itsneelabh-gomind's routing.LRUCache (see lru.go).
type Resolver struct {
	mu sync.Mutex

	tier0      []string
	categories []Category
	catalog    map[string]SkillDef
	cfg        Config
	cache      *lruCache

	onDemandCounts map[string]map[string]int  // task_type -> skill -> load count
	promotions     map[string]map[string]bool // task_type -> skill -> promoted to tier1
	demotions      map[string]bool            // tool -> demoted out of tier1
	usageHistory   map[string][]bool          // tool -> ring buffer, most recent last

	sidecarPath string
}

// New constructs a Resolver. sidecarPath, if non-empty, is where
// promotion/demotion/usage state is persisted between restarts.
func New(tier0 []string, categories []Category, catalog map[string]SkillDef, cfg Config, sidecarPath string) *Resolver {
	if cfg.MaxTier1Tools <= 0 {
		cfg.MaxTier1Tools = 15
	}
	if cfg.PromotionThreshold <= 0 {
		cfg.PromotionThreshold = 5
	}
	if cfg.DemotionWindow <= 0 {
		cfg.DemotionWindow = 50
	}
	if cfg.UsageFloor <= 0 {
		cfg.UsageFloor = 0.05
	}
	r := &Resolver{
		tier0:          tier0,
		categories:     categories,
		catalog:        catalog,
		cfg:            cfg,
		cache:          newLRUCache(cfg.FingerprintCacheCap),
		onDemandCounts: make(map[string]map[string]int),
		promotions:     make(map[string]map[string]bool),
		demotions:      make(map[string]bool),
		usageHistory:   make(map[string][]bool),
		sidecarPath:    sidecarPath,
	}
	if sidecarPath != "" {
		var state persistedState
		if err := atomicio.ReadJSON(sidecarPath, &state); err == nil {
			r.applyPersisted(state)
		}
	}
	return r
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func dedupeAppend(dst []string, items ...string) []string {
	for _, item := range items {
		if !contains(dst, item) {
			dst = append(dst, item)
		}
	}
	return dst
}
