package tiers

// LoadOnDemand returns the requested Tier 2 skill definition (nil if
// unknown), tracking the (skill, task_type) load count and promoting the
// skill to a Tier 1 override for task_type once the count crosses the
// promotion threshold.
func (r *Resolver) LoadOnDemand(skillName, taskType string) *SkillDef {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.catalog[skillName]
	if !ok {
		return nil
	}

	if r.onDemandCounts[taskType] == nil {
		r.onDemandCounts[taskType] = make(map[string]int)
	}
	r.onDemandCounts[taskType][skillName]++

	if r.onDemandCounts[taskType][skillName] >= r.cfg.PromotionThreshold {
		if r.promotions[taskType] == nil {
			r.promotions[taskType] = make(map[string]bool)
		}
		r.promotions[taskType][skillName] = true
		delete(r.demotions, skillName)
	}

	r.persist()
	r.cache.clear()
	result := def
	return &result
}

// RecordUsage records, for a completed prompt, which Tier 1 tools were
// actually invoked, and demotes any tracked Tier 1 tool whose rolling
// usage rate falls below the usage floor once the window fills.
func (r *Resolver) RecordUsage(usedTools []string, taskType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracked := r.trackedTier1Tools()
	usedSet := make(map[string]bool, len(usedTools))
	for _, t := range usedTools {
		usedSet[t] = true
	}

	demotedAny := false
	for _, tool := range tracked {
		hist := append(r.usageHistory[tool], usedSet[tool])
		if len(hist) > r.cfg.DemotionWindow {
			hist = hist[len(hist)-r.cfg.DemotionWindow:]
		}
		r.usageHistory[tool] = hist

		if len(hist) < r.cfg.DemotionWindow {
			continue
		}
		rate := usageRate(hist)
		if rate < r.cfg.UsageFloor && !r.demotions[tool] {
			r.demotions[tool] = true
			demotedAny = true
		}
	}

	r.persist()
	if demotedAny {
		r.cache.clear()
	}
}

// trackedTier1Tools returns every tool currently reachable via a
// category or a promotion, the population eligible for demotion
// tracking.
func (r *Resolver) trackedTier1Tools() []string {
	var tools []string
	for _, cat := range r.categories {
		tools = dedupeAppend(tools, cat.Tools...)
	}
	for _, byTask := range r.promotions {
		for skill, promoted := range byTask {
			if promoted {
				tools = dedupeAppend(tools, skill)
			}
		}
	}
	return tools
}

func usageRate(hist []bool) float64 {
	if len(hist) == 0 {
		return 0
	}
	used := 0
	for _, v := range hist {
		if v {
			used++
		}
	}
	return float64(used) / float64(len(hist))
}
