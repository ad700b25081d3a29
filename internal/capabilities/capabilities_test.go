package capabilities

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/loomwork/loomwork/internal/evolution"
	"github.com/loomwork/loomwork/internal/governor"
	"github.com/loomwork/loomwork/internal/router"
	"github.com/loomwork/loomwork/internal/store"
	"github.com/loomwork/loomwork/internal/tiers"
	"github.com/loomwork/loomwork/internal/workflow"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "capabilities-test.db"), store.WithCheckpointInterval(0))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fullSet(t *testing.T) Set {
	t.Helper()
	st := openTestStore(t)
	gov := governor.New(st, governor.Thresholds{
		WarnPercent: 0.75, ErrorPercent: 0.90,
		WarningQuota: 0.8, CriticalQuota: 0.95, DefaultMaxTokens: 1000,
	}, t.TempDir(), nil, nil)
	rt := router.New([]router.ModelCandidate{
		{Model: "claude-sonnet", Provider: "anthropic", Tier: router.TierMid, CostPer1K: 0.003},
	}, st, gov, router.Config{}, nil, nil)
	tr := tiers.New([]string{"read_file"}, []tiers.Category{
		{Name: "deploy", Pattern: regexp.MustCompile(`(?i)deploy`), Tools: []string{"deploy"}},
	}, map[string]tiers.SkillDef{}, tiers.Config{MaxTier1Tools: 15, PromotionThreshold: 5, DemotionWindow: 50, UsageFloor: 0.05, FingerprintCacheCap: 100}, "")
	ev := evolution.New(st)
	return Set{Governor: gov, Router: rt, Tiers: tr, Evolver: ev}
}

func TestSelectToolsDispatchesToResolver(t *testing.T) {
	s := fullSet(t)
	result, err := s.selectTools(context.Background(), workflow.StepDef{}, map[string]any{
		"prompt": "please deploy this", "task_type": "ops",
	})
	if err != nil {
		t.Fatalf("select_tools: %v", err)
	}
	tools, _ := result["tools"].([]string)
	found := false
	for _, tl := range tools {
		if tl == "deploy" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected deploy tool in result, got %+v", result)
	}
}

func TestSelectToolsRequiresResolver(t *testing.T) {
	var s Set
	if _, err := s.selectTools(context.Background(), workflow.StepDef{}, nil); err == nil {
		t.Fatal("expected error with no tier resolver configured")
	}
}

func TestSelectModelDispatchesToRouter(t *testing.T) {
	s := fullSet(t)
	result, err := s.selectModel(context.Background(), workflow.StepDef{}, map[string]any{
		"session_id": "sess-1", "budget_usd": 0.01,
	})
	if err != nil {
		t.Fatalf("select_model: %v", err)
	}
	if result["model"] != "claude-sonnet" {
		t.Fatalf("unexpected model selection: %+v", result)
	}
}

func TestSelectModelRequiresRouter(t *testing.T) {
	var s Set
	if _, err := s.selectModel(context.Background(), workflow.StepDef{}, nil); err == nil {
		t.Fatal("expected error with no router configured")
	}
}

func TestConsumeTokensDispatchesToGovernor(t *testing.T) {
	s := fullSet(t)
	result, err := s.consumeTokens(context.Background(), workflow.StepDef{}, map[string]any{
		"session_id": "sess-1", "model": "claude-sonnet", "tokens": float64(100),
	})
	if err != nil {
		t.Fatalf("consume_tokens: %v", err)
	}
	if result["budget_classification"] != "ok" {
		t.Fatalf("unexpected classification: %+v", result)
	}
}

func TestConsumeTokensRequiresGovernor(t *testing.T) {
	var s Set
	if _, err := s.consumeTokens(context.Background(), workflow.StepDef{}, nil); err == nil {
		t.Fatal("expected error with no governor configured")
	}
}

func TestRecordOutcomeDispatchesToEvolver(t *testing.T) {
	s := fullSet(t)
	result, err := s.recordOutcome(context.Background(), workflow.StepDef{}, map[string]any{
		"task_type": "ops", "success": true, "skills_used": []any{"systematic-debugging"},
	})
	if err != nil {
		t.Fatalf("record_outcome: %v", err)
	}
	if result["outcome_recorded"] != true {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRecordOutcomeRequiresEvolver(t *testing.T) {
	var s Set
	if _, err := s.recordOutcome(context.Background(), workflow.StepDef{}, nil); err == nil {
		t.Fatal("expected error with no evolution engine configured")
	}
}

func TestHandlersRegistersAllFour(t *testing.T) {
	s := fullSet(t)
	handlers := s.Handlers()
	for _, name := range []string{"select_tools", "select_model", "consume_tokens", "record_outcome"} {
		if _, ok := handlers[name]; !ok {
			t.Fatalf("missing handler %q", name)
		}
	}
}

func TestGetStringSliceHandlesAnyAndStringSlices(t *testing.T) {
	m := map[string]any{
		"a": []any{"x", "y"},
		"b": []string{"p", "q"},
	}
	if got := getStringSlice(m, "a"); len(got) != 2 || got[0] != "x" {
		t.Fatalf("getStringSlice(a) = %v", got)
	}
	if got := getStringSlice(m, "b"); len(got) != 2 || got[0] != "p" {
		t.Fatalf("getStringSlice(b) = %v", got)
	}
	if got := getStringSlice(m, "missing"); got != nil {
		t.Fatalf("getStringSlice(missing) = %v, want nil", got)
	}
}

func TestGetFloatHandlesNumericTypes(t *testing.T) {
	m := map[string]any{"a": float64(1.5), "b": int(2), "c": int64(3), "d": "nope"}
	if getFloat(m, "a") != 1.5 {
		t.Fatal("float64 coercion failed")
	}
	if getFloat(m, "b") != 2 {
		t.Fatal("int coercion failed")
	}
	if getFloat(m, "c") != 3 {
		t.Fatal("int64 coercion failed")
	}
	if getFloat(m, "d") != 0 {
		t.Fatal("non-numeric should coerce to zero")
	}
}
