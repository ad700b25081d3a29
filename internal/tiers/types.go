package tiers

import "regexp"

// SkillDef is a Tier 2 on-demand catalog entry.
type SkillDef struct {
	Name        string
	Description string
}

// Category is a Tier 1 pattern-matched bundle: any prompt matching
// Pattern (case-insensitive) contributes its Tools/Skills/MCPs to the
// resolved set.
type Category struct {
	Name    string
	Pattern *regexp.Regexp
	Tools   []string
	Skills  []string
	MCPs    []string
}

// Resolution is the result of a selectTools call.
type Resolution struct {
	Tools         []string
	Skills        []string
	MCPs          []string
	Tier2Available []string
	Metadata      map[string]string
}

// Config configures a Resolver's fixed policy knobs.
type Config struct {
	MaxTier1Tools       int
	PromotionThreshold  int
	DemotionWindow      int
	UsageFloor          float64
	FingerprintCacheCap int
}
