package tiers

import "strings"

// SelectTools resolves the Tier 0 ∪ Tier 1 tool/skill/MCP set for a
// prompt, memoized by a prompt-keyword fingerprint (LRU-bounded). Pure
// with respect to live state: it reads promotions/demotions but does not
// mutate usage counters (that's RecordUsage/LoadOnDemand).
func (r *Resolver) SelectTools(prompt, taskType string, metadata map[string]string) Resolution {
	keywords := keywordize(prompt)
	cacheKey := append(append([]string(nil), keywords...), "task:"+taskType)

	if cached, ok := r.cache.get(cacheKey); ok {
		return cached
	}

	r.mu.Lock()
	lowered := strings.ToLower(prompt)

	tools := append([]string(nil), r.tier0...)
	var skills, mcps []string

	for _, cat := range r.categories {
		if cat.Pattern == nil || !cat.Pattern.MatchString(lowered) {
			continue
		}
		tools = dedupeAppend(tools, filterDemoted(cat.Tools, r.demotions)...)
		skills = dedupeAppend(skills, cat.Skills...)
		mcps = dedupeAppend(mcps, cat.MCPs...)
	}

	if byTask, ok := r.promotions[taskType]; ok {
		for skill, promoted := range byTask {
			if promoted && !r.demotions[skill] {
				tools = dedupeAppend(tools, skill)
			}
		}
	}

	tools = capTier1(tools, r.tier0, r.cfg.MaxTier1Tools)

	tier2 := make([]string, 0, len(r.catalog))
	for name := range r.catalog {
		if !contains(tools, name) {
			tier2 = append(tier2, name)
		}
	}
	r.mu.Unlock()

	resolution := Resolution{
		Tools:          tools,
		Skills:         skills,
		MCPs:           mcps,
		Tier2Available: tier2,
		Metadata:       metadata,
	}
	r.cache.set(cacheKey, resolution)
	return resolution
}

// keywordize splits a prompt into lowercase word tokens for fingerprinting.
// Only used for cache keying, never for pattern matching (that still runs
// the full regex against the full prompt).
func keywordize(prompt string) []string {
	fields := strings.Fields(strings.ToLower(prompt))
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func filterDemoted(tools []string, demotions map[string]bool) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		if !demotions[t] {
			out = append(out, t)
		}
	}
	return out
}

// capTier1 truncates the tier1 additions (everything beyond tier0) to at
// most max entries, preserving tier0 in full and truncating in
// encounter order.
func capTier1(tools, tier0 []string, max int) []string {
	if len(tools)-len(tier0) <= max {
		return tools
	}
	out := append([]string(nil), tier0...)
	budget := max
	for _, t := range tools {
		if contains(tier0, t) {
			continue
		}
		if budget <= 0 {
			break
		}
		out = append(out, t)
		budget--
	}
	return out
}
