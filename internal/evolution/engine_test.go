package evolution

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loomwork/loomwork/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evolution-test.db")
	s, err := store.Open(path, store.WithCheckpointInterval(0))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestComputeFitness_PerfectSkill(t *testing.T) {
	e := New(openTestStore(t))
	entry := store.SkillBankEntry{
		UsageCount: 100, SuccessRate: 1.0, AvgQuality: 1.0,
		AvgCostUSD: 0.0, AvgLatencyMs: 1,
	}
	fitness := e.ComputeFitness(entry)
	if fitness < 0.9 {
		t.Errorf("perfect skill fitness = %f, want > 0.9", fitness)
	}
}

func TestComputeFitness_TerribleSkill(t *testing.T) {
	e := New(openTestStore(t))
	entry := store.SkillBankEntry{
		UsageCount: 100, SuccessRate: 0.1, AvgQuality: 0.1,
		AvgCostUSD: 0.20, AvgLatencyMs: 50000,
	}
	fitness := e.ComputeFitness(entry)
	if fitness > 0.3 {
		t.Errorf("terrible skill fitness = %f, want < 0.3", fitness)
	}
}

func TestComputeFitness_UntestedSkill(t *testing.T) {
	e := New(openTestStore(t))
	entry := store.SkillBankEntry{UsageCount: 0}
	fitness := e.ComputeFitness(entry)
	if fitness != 0.5 {
		t.Errorf("untested skill fitness = %f, want 0.5", fitness)
	}
}

func TestComputeFitness_CodeVsLLM(t *testing.T) {
	e := New(openTestStore(t))

	cheap := store.SkillBankEntry{
		UsageCount: 50, SuccessRate: 0.95, AvgQuality: 0.8,
		AvgCostUSD: 0, AvgLatencyMs: 5,
	}
	expensive := store.SkillBankEntry{
		UsageCount: 50, SuccessRate: 0.95, AvgQuality: 0.8,
		AvgCostUSD: 0.05, AvgLatencyMs: 2000,
	}

	cheapFitness := e.ComputeFitness(cheap)
	expensiveFitness := e.ComputeFitness(expensive)

	if cheapFitness <= expensiveFitness {
		t.Errorf("cheap/fast skill (%f) should be fitter than costly/slow skill (%f)", cheapFitness, expensiveFitness)
	}
}

func TestShouldDeprecate(t *testing.T) {
	e := New(openTestStore(t))
	e.SetDeprecateThreshold(0.3)
	e.SetObservationRuns(5)

	young := store.SkillBankEntry{UsageCount: 2, SuccessRate: 0}
	if e.ShouldDeprecate(young) {
		t.Error("should not deprecate with insufficient runs")
	}

	bad := store.SkillBankEntry{
		UsageCount: 10, SuccessRate: 0.1, AvgQuality: 0.05,
		AvgCostUSD: 0.15, AvgLatencyMs: 30000,
	}
	if !e.ShouldDeprecate(bad) {
		t.Errorf("should deprecate bad skill (fitness=%f)", e.ComputeFitness(bad))
	}

	good := store.SkillBankEntry{
		UsageCount: 10, SuccessRate: 0.95, AvgQuality: 0.9,
		AvgCostUSD: 0.001, AvgLatencyMs: 10,
	}
	if e.ShouldDeprecate(good) {
		t.Errorf("should NOT deprecate good skill (fitness=%f)", e.ComputeFitness(good))
	}
}

func TestABTestLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := New(s)

	if err := s.UpsertSkill(ctx, store.SkillBankEntry{
		TaskType: "refactor", Name: "inc", Status: store.SkillActive,
		UsageCount: 10, SuccessRate: 0.8, AvgQuality: 0.7,
		AvgCostUSD: 0.05, AvgLatencyMs: 1000,
	}); err != nil {
		t.Fatalf("seed incumbent: %v", err)
	}
	if err := s.UpsertSkill(ctx, store.SkillBankEntry{
		TaskType: "refactor", Name: "chal", Status: store.SkillChallenger,
		UsageCount: 10, SuccessRate: 0.95, AvgQuality: 0.9,
		AvgCostUSD: 0.001, AvgLatencyMs: 5,
	}); err != nil {
		t.Fatalf("seed challenger: %v", err)
	}

	test := e.StartABTest("refactor", "inc", "chal", 3)
	if test.ID == "" {
		t.Fatal("test ID should not be empty")
	}

	for i := 0; i < 3; i++ {
		if err := e.RecordABRun(test.ID, "inc"); err != nil {
			t.Fatalf("record incumbent run: %v", err)
		}
		if err := e.RecordABRun(test.ID, "chal"); err != nil {
			t.Fatalf("record challenger run: %v", err)
		}
	}

	winner, loser, decided, err := e.EvaluateABTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !decided {
		t.Fatal("should be decided after enough runs")
	}
	if winner != "chal" {
		t.Errorf("winner = %q, want %q (better fitness)", winner, "chal")
	}
	if loser != "inc" {
		t.Errorf("loser = %q, want %q", loser, "inc")
	}

	loserEntry, err := s.GetSkill(ctx, "refactor", "inc")
	if err != nil {
		t.Fatalf("get loser: %v", err)
	}
	if loserEntry.Status != store.SkillDeprecated {
		t.Errorf("loser status = %q, want deprecated", loserEntry.Status)
	}
}

func TestABTestNotEnoughRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := New(s)

	_ = s.UpsertSkill(ctx, store.SkillBankEntry{TaskType: "t", Name: "a", UsageCount: 10})
	_ = s.UpsertSkill(ctx, store.SkillBankEntry{TaskType: "t", Name: "b", UsageCount: 10})

	test := e.StartABTest("t", "a", "b", 5)
	_ = e.RecordABRun(test.ID, "a")
	_ = e.RecordABRun(test.ID, "b")

	_, _, decided, err := e.EvaluateABTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decided {
		t.Error("should not decide with insufficient runs")
	}
}

func TestABTestErrorCases(t *testing.T) {
	e := New(openTestStore(t))

	if err := e.RecordABRun("nonexistent", "x"); err == nil {
		t.Error("expected error for nonexistent test")
	}

	test := e.StartABTest("t", "a", "b", 3)
	if err := e.RecordABRun(test.ID, "unknown_skill"); err == nil {
		t.Error("expected error for unknown skill in test")
	}
}

func TestEvaluateAll(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := New(s)
	e.SetDeprecateThreshold(0.3)
	e.SetObservationRuns(3)

	_ = s.UpsertSkill(ctx, store.SkillBankEntry{
		TaskType: "t", Name: "good", Status: store.SkillActive,
		UsageCount: 10, SuccessRate: 0.95, AvgQuality: 0.9,
	})
	_ = s.UpsertSkill(ctx, store.SkillBankEntry{
		TaskType: "t", Name: "bad", Status: store.SkillActive,
		UsageCount: 10, SuccessRate: 0.05, AvgQuality: 0.02,
		AvgCostUSD: 0.20, AvgLatencyMs: 50000,
	})
	_ = s.UpsertSkill(ctx, store.SkillBankEntry{
		TaskType: "t", Name: "already_dep", Status: store.SkillDeprecated,
		UsageCount: 10, SuccessRate: 0.01,
	})

	deprecated, err := e.EvaluateAll(ctx)
	if err != nil {
		t.Fatalf("evaluate all: %v", err)
	}
	if len(deprecated) != 1 || deprecated[0] != "bad" {
		t.Errorf("deprecated = %v, want [bad]", deprecated)
	}
}

func TestSkillExperimentConcludesAndDeprecatesLoser(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := New(s)

	if err := s.UpsertSkill(ctx, store.SkillBankEntry{
		TaskType: "clarify", Name: "haiku-clarify", Status: store.SkillActive,
	}); err != nil {
		t.Fatalf("seed variant A: %v", err)
	}
	if err := s.UpsertSkill(ctx, store.SkillBankEntry{
		TaskType: "clarify", Name: "sonnet-clarify", Status: store.SkillActive,
	}); err != nil {
		t.Fatalf("seed variant B: %v", err)
	}

	exp := e.StartSkillExperiment("clarify", "cheaper model preserves quality",
		"haiku-clarify", "sonnet-clarify", "quality", 5)
	if exp.ID == "" {
		t.Fatal("experiment ID should not be empty")
	}

	for i := 0; i < 5; i++ {
		if err := e.RecordOutcome(ctx, TaskOutcome{
			TaskType: "clarify", Success: true,
			ExperimentVariant: "A", MetricValue: 0.3 + float64(i)*0.01,
		}); err != nil {
			t.Fatalf("record variant A sample: %v", err)
		}
		if err := e.RecordOutcome(ctx, TaskOutcome{
			TaskType: "clarify", Success: true,
			ExperimentVariant: "B", MetricValue: 0.9 + float64(i)*0.01,
		}); err != nil {
			t.Fatalf("record variant B sample: %v", err)
		}
	}

	got := e.Experiments.Get(exp.ID)
	if got == nil || got.Status != ExperimentConcluded {
		t.Fatalf("expected experiment to conclude, got %+v", got)
	}
	if got.Winner != "B" {
		t.Errorf("winner = %q, want B (higher quality samples)", got.Winner)
	}

	loser, err := s.GetSkill(ctx, "clarify", "haiku-clarify")
	if err != nil {
		t.Fatalf("get loser: %v", err)
	}
	if loser.Status != store.SkillDeprecated {
		t.Errorf("loser status = %q, want deprecated", loser.Status)
	}
	winner, err := s.GetSkill(ctx, "clarify", "sonnet-clarify")
	if err != nil {
		t.Fatalf("get winner: %v", err)
	}
	if winner.Status != store.SkillActive {
		t.Errorf("winner status = %q, want active", winner.Status)
	}
}

func TestRecordOutcomeIgnoresExperimentVariantWithNoActiveExperiment(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := New(s)

	if err := e.RecordOutcome(ctx, TaskOutcome{
		TaskType: "no-experiment-here", Success: true,
		ExperimentVariant: "A", MetricValue: 0.5,
	}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
}

func TestSetWeights(t *testing.T) {
	e := New(openTestStore(t))
	e.SetWeights(FitnessWeights{SuccessRate: 1.0, Quality: 0, CostSaving: 0, Speed: 0})

	entry := store.SkillBankEntry{UsageCount: 10, SuccessRate: 1.0}
	fitness := e.ComputeFitness(entry)
	if fitness != 1.0 {
		t.Errorf("with 100%% weight on success rate and 1.0 rate, fitness = %f", fitness)
	}
}
