package workflow

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/loomwork/loomwork/internal/errs"
	"github.com/loomwork/loomwork/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow-test.db")
	s, err := store.Open(path, store.WithCheckpointInterval(0))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestParseDefinitionValidatesRequiredFields(t *testing.T) {
	doc := []byte(`
name: deploy
steps:
  - id: build
    type: atomic
    handler: build_handler
`)
	def, err := ParseDefinition(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.Name != "deploy" || len(def.Steps) != 1 {
		t.Fatalf("unexpected definition: %+v", def)
	}
}

func TestParseDefinitionRejectsDuplicateStepIDs(t *testing.T) {
	doc := []byte(`
name: deploy
steps:
  - id: build
    type: atomic
    handler: build_handler
  - id: build
    type: atomic
    handler: build_handler
`)
	if _, err := ParseDefinition(doc); err == nil {
		t.Fatalf("expected duplicate step id error")
	}
}

func TestRunAtomicStepsInOrder(t *testing.T) {
	s := openTestStore(t)
	var order []string
	handlers := map[string]HandlerFunc{
		"step_a": func(ctx context.Context, step StepDef, rc map[string]any) (map[string]any, error) {
			order = append(order, "a")
			return map[string]any{"a_done": true}, nil
		},
		"step_b": func(ctx context.Context, step StepDef, rc map[string]any) (map[string]any, error) {
			if rc["a_done"] != true {
				t.Fatalf("expected a_done in context before step_b runs")
			}
			order = append(order, "b")
			return map[string]any{"b_done": true}, nil
		},
	}
	exec := New(s, handlers)
	def := Definition{Name: "two-step", Steps: []StepDef{
		{ID: "a", Type: StepTypeAtomic, Handler: "step_a"},
		{ID: "b", Type: StepTypeAtomic, Handler: "step_b"},
	}}

	run, err := exec.Run(context.Background(), "run-1", def, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != store.RunCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected execution order: %v", order)
	}
}

func TestRunRetriesRecoverableFailureThenSucceeds(t *testing.T) {
	s := openTestStore(t)
	var calls int32
	handlers := map[string]HandlerFunc{
		"flaky": func(ctx context.Context, step StepDef, rc map[string]any) (map[string]any, error) {
			n := atomic.AddInt32(&calls, 1)
			if n < 3 {
				return nil, errs.New(errs.KindNetwork, "transient failure")
			}
			return map[string]any{"ok": true}, nil
		},
	}
	exec := New(s, handlers)
	def := Definition{Name: "flaky-wf", Steps: []StepDef{
		{ID: "attempt", Type: StepTypeAtomic, Handler: "flaky", Retries: 5, BackoffMs: 1},
	}}

	run, err := exec.Run(context.Background(), "run-flaky", def, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != store.RunCompleted {
		t.Fatalf("expected completed after retries, got %s", run.Status)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestRunFailsAfterExhaustingRetries(t *testing.T) {
	s := openTestStore(t)
	handlers := map[string]HandlerFunc{
		"always_fails": func(ctx context.Context, step StepDef, rc map[string]any) (map[string]any, error) {
			return nil, errs.New(errs.KindNetwork, "down")
		},
	}
	exec := New(s, handlers)
	def := Definition{Name: "doomed", Steps: []StepDef{
		{ID: "a", Type: StepTypeAtomic, Handler: "always_fails", Retries: 2, BackoffMs: 1},
	}}

	run, err := exec.Run(context.Background(), "run-doomed", def, nil)
	if err == nil {
		t.Fatalf("expected run to fail")
	}
	if run.Status != store.RunFailed {
		t.Fatalf("expected failed status, got %s", run.Status)
	}
}

// TestRunResumeCarriesForwardAttemptCounter simulates a crash: step "a" is
// persisted as completed (with a result to re-apply) and step "b" is
// persisted mid-attempt (status running, attempt 1, as a crashed process
// would leave it) before Run is ever called. Run must skip "a" entirely
// and resume "b" at attempt 2, not attempt 1.
func TestRunResumeCarriesForwardAttemptCounter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var aCalls, bAttempts int32
	handlers := map[string]HandlerFunc{
		"step_a": func(ctx context.Context, step StepDef, rc map[string]any) (map[string]any, error) {
			atomic.AddInt32(&aCalls, 1)
			return map[string]any{"a_done": true}, nil
		},
		"step_b": func(ctx context.Context, step StepDef, rc map[string]any) (map[string]any, error) {
			if rc["a_done"] != true {
				t.Fatalf("expected a's persisted result to be re-applied before b runs")
			}
			n := atomic.AddInt32(&bAttempts, 1)
			return map[string]any{"attempt_seen": int(n) + 1}, nil
		},
	}
	exec := New(s, handlers)
	def := Definition{Name: "resume-wf", Steps: []StepDef{
		{ID: "a", Type: StepTypeAtomic, Handler: "step_a"},
		{ID: "b", Type: StepTypeAtomic, Handler: "step_b", Retries: 3, BackoffMs: 1},
	}}

	if _, err := s.CreateRun(ctx, "run-resume", def.Name); err != nil {
		t.Fatalf("create run: %v", err)
	}
	aResult := `{"a_done":true}`
	if err := s.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := store.UpsertStep(ctx, tx, store.Step{
			RunID: "run-resume", StepID: "a", Type: "atomic",
			Status: store.StepCompleted, Attempt: 1, Result: &aResult,
		}); err != nil {
			return err
		}
		return store.UpsertStep(ctx, tx, store.Step{
			RunID: "run-resume", StepID: "b", Type: "atomic",
			Status: store.StepRunning, Attempt: 1,
		})
	}); err != nil {
		t.Fatalf("seed crashed state: %v", err)
	}
	if err := s.UpdateRunStatus(ctx, "run-resume", store.RunRunning); err != nil {
		t.Fatalf("mark run running: %v", err)
	}

	run, err := exec.Run(ctx, "run-resume", def, nil)
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if run.Status != store.RunCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if atomic.LoadInt32(&aCalls) != 0 {
		t.Fatalf("expected step a to be skipped on resume, handler called %d times", aCalls)
	}
	if atomic.LoadInt32(&bAttempts) != 1 {
		t.Fatalf("expected step b handler invoked exactly once on resume, got %d", bAttempts)
	}
}

func TestParallelForRunsAllChildrenAndCountsCompletion(t *testing.T) {
	s := openTestStore(t)
	var mu atomic.Int32
	handlers := map[string]HandlerFunc{
		"process_item": func(ctx context.Context, step StepDef, rc map[string]any) (map[string]any, error) {
			mu.Add(1)
			return map[string]any{"item": rc["item"]}, nil
		},
	}
	exec := New(s, handlers)
	def := Definition{Name: "fanout-wf", Steps: []StepDef{
		{
			ID:          "process_all",
			Type:        StepTypeParallelFor,
			Foreach:     "items",
			Concurrency: 2,
			Substep:     &StepDef{ID: "process_all:item", Type: StepTypeAtomic, Handler: "process_item"},
		},
	}}

	run, err := exec.Run(context.Background(), "run-fanout", def, map[string]any{
		"items": []any{"x", "y", "z"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != store.RunCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if mu.Load() != 3 {
		t.Fatalf("expected 3 child invocations, got %d", mu.Load())
	}
}

func TestParallelForPropagatesChildFailureWithoutCancellingSiblings(t *testing.T) {
	s := openTestStore(t)
	var completed atomic.Int32
	handlers := map[string]HandlerFunc{
		"maybe_fail": func(ctx context.Context, step StepDef, rc map[string]any) (map[string]any, error) {
			if rc["item"] == "bad" {
				return nil, errs.New(errs.KindInternal, "bad item")
			}
			completed.Add(1)
			return map[string]any{}, nil
		},
	}
	exec := New(s, handlers)
	def := Definition{Name: "fanout-fail-wf", Steps: []StepDef{
		{
			ID:      "process_all",
			Type:    StepTypeParallelFor,
			Foreach: "items",
			Substep: &StepDef{ID: "process_all:item", Type: StepTypeAtomic, Handler: "maybe_fail", Retries: 1},
		},
	}}

	run, err := exec.Run(context.Background(), "run-fanout-fail", def, map[string]any{
		"items": []any{"good", "bad", "good"},
	})
	if err == nil {
		t.Fatalf("expected run to fail due to a bad child")
	}
	if run.Status != store.RunFailed {
		t.Fatalf("expected failed status, got %s", run.Status)
	}
	if completed.Load() != 2 {
		t.Fatalf("expected both good siblings to complete despite the bad one, got %d", completed.Load())
	}
}

func TestFallbackAppliedResultUpdatesContext(t *testing.T) {
	s := openTestStore(t)
	handlers := map[string]HandlerFunc{
		"route": func(ctx context.Context, step StepDef, rc map[string]any) (map[string]any, error) {
			return map[string]any{"fallbackApplied": true, "selected_model": "secondary"}, nil
		},
	}
	exec := New(s, handlers)
	def := Definition{Name: "route-wf", Steps: []StepDef{
		{ID: "route", Type: StepTypeAtomic, Handler: "route"},
	}}

	run, err := exec.Run(context.Background(), "run-route", def, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != store.RunCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}

	events, err := s.QueryAudit(context.Background(), store.AuditFilter{RunID: "run-route", EventType: "quota_fallback"})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one quota_fallback audit event, got %d", len(events))
	}
}
