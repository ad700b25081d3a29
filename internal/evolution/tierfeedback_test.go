package evolution

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/loomwork/loomwork/internal/tiers"
)

func newTestResolver(t *testing.T) *tiers.Resolver {
	t.Helper()
	categories := []tiers.Category{
		{Name: "git", Pattern: regexp.MustCompile(`(?i)\bgit\b`), Tools: []string{"git_diff"}},
	}
	catalog := map[string]tiers.SkillDef{
		"deploy": {Name: "deploy", Description: "deploy the service"},
	}
	return tiers.New([]string{"read_file"}, categories, catalog, tiers.Config{
		MaxTier1Tools:       15,
		PromotionThreshold:  1,
		DemotionWindow:      3,
		UsageFloor:          0.05,
		FingerprintCacheCap: 100,
	}, filepath.Join(t.TempDir(), "tiers.json"))
}

func TestTierFeedbackEmittedEveryNTasks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	r := newTestResolver(t)
	e := New(s, WithTierResolver(r), WithTierFeedbackEvery(2))

	// Trigger a promotion: one on-demand load crosses PromotionThreshold=1.
	r.LoadOnDemand("deploy", "release")

	for i := 0; i < 2; i++ {
		if err := e.RecordOutcome(ctx, TaskOutcome{TaskType: "release", Success: true}); err != nil {
			t.Fatalf("record outcome %d: %v", i, err)
		}
	}

	fb := e.computeTierFeedback()
	if fb.Promotions < 1 {
		t.Errorf("promotions = %d, want >= 1", fb.Promotions)
	}
}

func TestTierFeedbackNoopWithoutResolver(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := New(s, WithTierFeedbackEvery(1))

	if err := e.RecordOutcome(ctx, TaskOutcome{TaskType: "t", Success: true}); err != nil {
		t.Fatalf("record outcome without a tier resolver should not error: %v", err)
	}
}
