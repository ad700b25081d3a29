package tiers

import (
	"path/filepath"
	"regexp"
	"testing"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	categories := []Category{
		{Name: "git", Pattern: regexp.MustCompile(`(?i)\bgit\b|\bcommit\b`), Tools: []string{"git_diff", "git_commit"}},
		{Name: "web", Pattern: regexp.MustCompile(`(?i)\bhttp\b|\bapi\b`), Tools: []string{"http_fetch"}},
	}
	catalog := map[string]SkillDef{
		"deploy":       {Name: "deploy", Description: "deploy the service"},
		"run_migration": {Name: "run_migration", Description: "apply a database migration"},
	}
	return New([]string{"read_file", "write_file"}, categories, catalog, Config{
		MaxTier1Tools:       15,
		PromotionThreshold:  5,
		DemotionWindow:      3,
		UsageFloor:          0.05,
		FingerprintCacheCap: 100,
	}, filepath.Join(t.TempDir(), "tiers.json"))
}

func TestSelectToolsUnionsTier0AndMatchedCategories(t *testing.T) {
	r := newTestResolver(t)
	res := r.SelectTools("please run git commit for me", "code_review", nil)

	for _, want := range []string{"read_file", "write_file", "git_diff", "git_commit"} {
		if !contains(res.Tools, want) {
			t.Fatalf("expected %q in tools, got %v", want, res.Tools)
		}
	}
	if contains(res.Tools, "http_fetch") {
		t.Fatalf("unexpected unrelated category matched: %v", res.Tools)
	}
}

func TestSelectToolsIsMemoized(t *testing.T) {
	r := newTestResolver(t)
	first := r.SelectTools("git commit please", "code_review", nil)
	second := r.SelectTools("git commit please", "code_review", nil)
	if len(first.Tools) != len(second.Tools) {
		t.Fatalf("expected memoized result to be stable")
	}
	if r.cache.hitRate() <= 0 {
		t.Fatalf("expected at least one cache hit, rate=%f", r.cache.hitRate())
	}
}

func TestLoadOnDemandPromotesAfterThreshold(t *testing.T) {
	r := newTestResolver(t)
	for i := 0; i < 5; i++ {
		if def := r.LoadOnDemand("deploy", "release"); def == nil {
			t.Fatalf("expected deploy skill to resolve")
		}
	}
	res := r.SelectTools("cut a release", "release", nil)
	if !contains(res.Tools, "deploy") {
		t.Fatalf("expected deploy to be promoted into tier1 for release task type, got %v", res.Tools)
	}
}

func TestLoadOnDemandUnknownSkillReturnsNil(t *testing.T) {
	r := newTestResolver(t)
	if def := r.LoadOnDemand("does_not_exist", "release"); def != nil {
		t.Fatalf("expected nil for unknown skill, got %+v", def)
	}
}

func TestRecordUsageDemotesBelowFloor(t *testing.T) {
	r := newTestResolver(t)
	// git_diff never gets used across a full window -> should demote.
	for i := 0; i < 3; i++ {
		r.RecordUsage([]string{"git_commit"}, "code_review")
	}
	res := r.SelectTools("git commit please", "code_review", nil)
	if contains(res.Tools, "git_diff") {
		t.Fatalf("expected git_diff to be demoted after zero usage over the window, got %v", res.Tools)
	}
	if !contains(res.Tools, "git_commit") {
		t.Fatalf("expected git_commit to survive since it was used every round")
	}
}

func TestExportImportStateRoundTrip(t *testing.T) {
	r := newTestResolver(t)
	for i := 0; i < 5; i++ {
		r.LoadOnDemand("deploy", "release")
	}
	state := r.ExportState()

	r2 := newTestResolver(t)
	r2.ImportState(state)

	res := r2.SelectTools("cut a release", "release", nil)
	if !contains(res.Tools, "deploy") {
		t.Fatalf("expected imported promotion to carry over, got %v", res.Tools)
	}
}
