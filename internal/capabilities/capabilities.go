// Package capabilities wires the Quota & Budget Governor, Model Router,
// Tier Resolver, and Evolution Engine into workflow.HandlerFunc
// implementations — the "injected capability" a workflow step dispatches
// to, per spec.md §2's data flow: a step consults the Router (which
// consults the Governor and Tier Resolver), dispatches to a capability,
// then feeds the outcome back through the Evolution Engine.
//
// Grounded on the teacher's pipeline stage functions (internal/pipeline),
// which play the same "step reads context, calls a subsystem, returns a
// result map" role for a fixed 10-stage pipeline; generalized here to
// named, registerable handlers for the declarative Workflow Executor.
package capabilities

import (
	"context"
	"fmt"

	"github.com/loomwork/loomwork/internal/evolution"
	"github.com/loomwork/loomwork/internal/governor"
	"github.com/loomwork/loomwork/internal/router"
	"github.com/loomwork/loomwork/internal/tiers"
	"github.com/loomwork/loomwork/internal/workflow"
)

// Set holds the subsystems capability handlers dispatch to. Any field may
// be nil; the handler it backs then returns an error naming the missing
// subsystem instead of panicking.
type Set struct {
	Governor *governor.Governor
	Router   *router.Router
	Tiers    *tiers.Resolver
	Evolver  *evolution.Engine
}

// Handlers returns the named handler set this Set can back, for
// registration with workflow.New.
func (s Set) Handlers() map[string]workflow.HandlerFunc {
	return map[string]workflow.HandlerFunc{
		"select_tools":   s.selectTools,
		"select_model":   s.selectModel,
		"consume_tokens": s.consumeTokens,
		"record_outcome": s.recordOutcome,
	}
}

func (s Set) selectTools(ctx context.Context, step workflow.StepDef, rc map[string]any) (map[string]any, error) {
	if s.Tiers == nil {
		return nil, fmt.Errorf("select_tools: no tier resolver configured")
	}
	prompt := getString(rc, "prompt")
	taskType := getString(rc, "task_type")
	res := s.Tiers.SelectTools(prompt, taskType, nil)
	return map[string]any{
		"tools":           res.Tools,
		"skills":          res.Skills,
		"mcps":            res.MCPs,
		"tier2_available": res.Tier2Available,
	}, nil
}

func (s Set) selectModel(ctx context.Context, step workflow.StepDef, rc map[string]any) (map[string]any, error) {
	if s.Router == nil {
		return nil, fmt.Errorf("select_model: no router configured")
	}
	task := router.TaskContext{
		SessionID:      getString(rc, "session_id"),
		PreferenceList: getStringSlice(rc, "preference_list"),
		BudgetUSD:      getFloat(rc, "budget_usd"),
		EstTokens:      int64(getFloat(rc, "est_tokens")),
	}
	sel, err := s.Router.SelectModel(ctx, task)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"model":                       sel.Model,
		"score":                       sel.Score,
		"reason":                      sel.Reason,
		"fallbacks":                   sel.Fallbacks,
		"quota_signal":                sel.QuotaSignal,
		workflow.ResultKeyFallbackApplied: sel.FallbackApplied,
	}, nil
}

func (s Set) consumeTokens(ctx context.Context, step workflow.StepDef, rc map[string]any) (map[string]any, error) {
	if s.Governor == nil {
		return nil, fmt.Errorf("consume_tokens: no governor configured")
	}
	sessionID := getString(rc, "session_id")
	model := getString(rc, "model")
	tokens := int64(getFloat(rc, "tokens"))
	status, err := s.Governor.ConsumeTokens(ctx, sessionID, model, tokens)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"budget_classification": string(status.Classification),
		"budget_remaining":      status.RemainingTokens,
		"budget_percent_used":   status.PercentUsed,
	}, nil
}

func (s Set) recordOutcome(ctx context.Context, step workflow.StepDef, rc map[string]any) (map[string]any, error) {
	if s.Evolver == nil {
		return nil, fmt.Errorf("record_outcome: no evolution engine configured")
	}
	outcome := evolution.TaskOutcome{
		TaskType:          getString(rc, "task_type"),
		SkillsUsed:        getStringSlice(rc, "skills_used"),
		Success:           getBool(rc, "success"),
		AntiPattern:       getString(rc, "anti_pattern"),
		QuotaSignal:       getBool(rc, "quota_signal") || getString(rc, "quota_signal") != "",
		ExperimentVariant: getString(rc, "experiment_variant"),
		MetricValue:       getFloat(rc, "metric_value"),
	}
	if err := s.Evolver.RecordOutcome(ctx, outcome); err != nil {
		return nil, err
	}
	return map[string]any{"outcome_recorded": true}, nil
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getBool(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func getFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func getStringSlice(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		if direct, ok := m[key].([]string); ok {
			return direct
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
