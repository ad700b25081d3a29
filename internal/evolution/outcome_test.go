package evolution

import (
	"context"
	"testing"

	"github.com/loomwork/loomwork/internal/store"
)

func TestRecordFailurePenalizesUsedSkills(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := New(s)

	if err := s.UpsertSkill(ctx, store.SkillBankEntry{
		TaskType: "bugfix", Name: "systematic-debugging",
		Status: store.SkillActive, SuccessRate: 0.8, UsageCount: 4,
	}); err != nil {
		t.Fatalf("seed skill: %v", err)
	}

	err := e.RecordOutcome(ctx, TaskOutcome{
		TaskType:    "bugfix",
		SkillsUsed:  []string{"systematic-debugging"},
		Success:     false,
		AntiPattern: "shotgun_debug",
	})
	if err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	entry, err := s.GetSkill(ctx, "bugfix", "systematic-debugging")
	if err != nil {
		t.Fatalf("get skill: %v", err)
	}
	// EWMA(alpha=0.2, outcome=0, old=0.8) = 0.64, then shotgun_debug's
	// needed skill is this same skill, so it is boosted by 0.1 to 0.74.
	if entry.SuccessRate < 0.73 || entry.SuccessRate > 0.75 {
		t.Errorf("success_rate = %f, want ~0.74", entry.SuccessRate)
	}
	if entry.UsageCount != 5 {
		t.Errorf("usage_count = %d, want 5", entry.UsageCount)
	}
}

func TestRecordFailureBoostsExistingNeededSkill(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := New(s)

	if err := s.UpsertSkill(ctx, store.SkillBankEntry{
		TaskType: "", Name: "systematic-debugging",
		Status: store.SkillActive, SuccessRate: 0.5, UsageCount: 3,
	}); err != nil {
		t.Fatalf("seed skill: %v", err)
	}

	if err := e.RecordOutcome(ctx, TaskOutcome{
		TaskType:    "bugfix",
		SkillsUsed:  nil,
		Success:     false,
		AntiPattern: "shotgun_debug",
	}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	entry, err := s.GetSkill(ctx, "", "systematic-debugging")
	if err != nil {
		t.Fatalf("get general skill: %v", err)
	}
	if entry.SuccessRate != 0.6 {
		t.Errorf("boosted success_rate = %f, want 0.6", entry.SuccessRate)
	}
}

func TestRecordFailureCreatesNewNeededSkill(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := New(s)

	if err := e.RecordOutcome(ctx, TaskOutcome{
		TaskType:    "bugfix",
		Success:     false,
		AntiPattern: "shotgun_debug",
	}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	entry, err := s.GetSkill(ctx, "bugfix", "systematic-debugging")
	if err != nil {
		t.Fatalf("get skill: %v", err)
	}
	if entry == nil {
		t.Fatal("expected a new task-specific skill to be created")
	}
	if entry.SuccessRate != 0.6 {
		t.Errorf("initial success_rate = %f, want 0.6", entry.SuccessRate)
	}
	if entry.Principle != "Form hypothesis before making changes" {
		t.Errorf("principle = %q, unexpected", entry.Principle)
	}
	if entry.UsageCount != 0 {
		t.Errorf("usage_count = %d, want 0", entry.UsageCount)
	}
}

func TestRecordFailureWithQuotaSignalUpsertsMetaSkill(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := New(s)

	if err := e.RecordOutcome(ctx, TaskOutcome{
		TaskType:    "bugfix",
		Success:     false,
		AntiPattern: "missing_context",
		QuotaSignal: true,
	}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	entry, err := s.GetSkill(ctx, "bugfix", quotaAwareRoutingSkill)
	if err != nil {
		t.Fatalf("get meta-skill: %v", err)
	}
	if entry == nil {
		t.Fatal("expected quota-aware-routing skill to be created")
	}
}

func TestRecordSuccessRewardsUsedSkills(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := New(s)

	if err := s.UpsertSkill(ctx, store.SkillBankEntry{
		TaskType: "refactor", Name: "scoped-change",
		Status: store.SkillActive, SuccessRate: 0.5, UsageCount: 1,
	}); err != nil {
		t.Fatalf("seed skill: %v", err)
	}

	if err := e.RecordOutcome(ctx, TaskOutcome{
		TaskType:   "refactor",
		SkillsUsed: []string{"scoped-change"},
		Success:    true,
	}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	entry, err := s.GetSkill(ctx, "refactor", "scoped-change")
	if err != nil {
		t.Fatalf("get skill: %v", err)
	}
	// EWMA(alpha=0.2, outcome=1, old=0.5) = 0.6 (up to float rounding)
	if entry.SuccessRate < 0.6-1e-9 || entry.SuccessRate > 0.6+1e-9 {
		t.Errorf("success_rate = %f, want 0.6", entry.SuccessRate)
	}
}

func TestRecordFailureUnknownAntiPatternFallsBackToGeneric(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := New(s)

	if err := e.RecordOutcome(ctx, TaskOutcome{
		TaskType:    "bugfix",
		Success:     false,
		AntiPattern: "something_never_seen_before",
	}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	entry, err := s.GetSkill(ctx, "bugfix", "general-troubleshooting")
	if err != nil {
		t.Fatalf("get skill: %v", err)
	}
	if entry == nil {
		t.Fatal("expected the generic fallback skill to be created")
	}
}
