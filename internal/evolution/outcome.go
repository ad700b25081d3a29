package evolution

import (
	"context"
	"math"
	"time"

	"github.com/loomwork/loomwork/internal/store"
)

const quotaAwareRoutingSkill = "quota-aware-routing"

// TaskOutcome is the signal the Executor feeds the Evolution Engine once a
// workflow's handler has produced a terminal result for a task.
type TaskOutcome struct {
	TaskType    string
	SkillsUsed  []string
	Success     bool
	AntiPattern string // only meaningful when Success is false
	QuotaSignal bool   // true if the Router flagged quota pressure for this task

	// ExperimentVariant and MetricValue feed the task_type's active
	// StartSkillExperiment, if any. ExperimentVariant is "A", "B", or ""
	// (no experiment sample to record); MetricValue is the observed
	// value of whatever the experiment's Metric names.
	ExperimentVariant string
	MetricValue       float64
}

// ewma applies the standard exponentially-weighted moving average update:
// new = alpha*outcome + (1-alpha)*old.
func ewma(alpha, outcome, old float64) float64 {
	return alpha*outcome + (1-alpha)*old
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// RecordOutcome is the single entry point the Executor calls after a task
// reaches a terminal result. It dispatches to the failure or success path
// and, once the outcome is recorded without error, advances the tier
// feedback counter.
func (e *Engine) RecordOutcome(ctx context.Context, o TaskOutcome) error {
	var err error
	if o.Success {
		err = e.recordSuccess(ctx, o)
	} else {
		err = e.recordFailure(ctx, o)
	}
	if err != nil {
		return err
	}
	if o.ExperimentVariant != "" {
		if err := e.recordExperimentSample(ctx, o); err != nil {
			return err
		}
	}
	return e.maybeEmitTierFeedback(ctx)
}

// recordFailure implements the Evolution Engine's failure path: penalize
// used skills, distill a root cause from the anti-pattern tag, boost or
// create the needed skill, and (if quota pressure was signaled) upsert the
// quota-aware-routing meta-skill.
func (e *Engine) recordFailure(ctx context.Context, o TaskOutcome) error {
	e.logInfo("evolution: recording failure",
		"task_type", o.TaskType, "skills_used", o.SkillsUsed, "anti_pattern", o.AntiPattern)

	for _, name := range o.SkillsUsed {
		if err := e.applySkillEWMA(ctx, o.TaskType, name, 0); err != nil {
			return err
		}
	}

	rc := distillRootCause(o.AntiPattern)
	if err := e.boostOrCreateSkill(ctx, o.TaskType, rc.NeededSkill, rc.Principle, 0.6, 0.1); err != nil {
		return err
	}

	if o.QuotaSignal {
		if err := e.upsertQuotaAwareRouting(ctx, o.TaskType); err != nil {
			return err
		}
	}
	return nil
}

// recordSuccess implements the success path: reward every skill used, and
// handle the quota-aware-routing meta-skill identically to the failure path.
func (e *Engine) recordSuccess(ctx context.Context, o TaskOutcome) error {
	e.logInfo("evolution: recording success", "task_type", o.TaskType, "skills_used", o.SkillsUsed)

	for _, name := range o.SkillsUsed {
		if err := e.applySkillEWMA(ctx, o.TaskType, name, 1); err != nil {
			return err
		}
	}
	if o.QuotaSignal {
		if err := e.upsertQuotaAwareRouting(ctx, o.TaskType); err != nil {
			return err
		}
	}
	return nil
}

// applySkillEWMA loads a skill (task-specific first, then general), applies
// the EWMA update to its success_rate with the given outcome (0 or 1), and
// persists the result. A skill that doesn't exist anywhere yet is silently
// skipped — penalizing or rewarding a skill the Skill Bank never recorded
// is meaningless.
func (e *Engine) applySkillEWMA(ctx context.Context, taskType, name string, outcome float64) error {
	entry, err := e.findSkill(ctx, taskType, name)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	entry.SuccessRate = ewma(e.alpha, outcome, entry.SuccessRate)
	entry.UsageCount++
	return e.store.UpsertSkill(ctx, *entry)
}

// findSkill resolves a skill name against the task-specific bank first,
// then the general (task_type="") bank.
func (e *Engine) findSkill(ctx context.Context, taskType, name string) (*store.SkillBankEntry, error) {
	if taskType != "" {
		entry, err := e.store.GetSkill(ctx, taskType, name)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}
	return e.store.GetSkill(ctx, "", name)
}

// boostOrCreateSkill implements the needed-skill half of the failure path:
// if the skill already exists (general or task-specific) its success_rate
// is boosted by delta (clamped to 1.0); otherwise a new task-specific skill
// is created with the given principle, initialRate, and usage_count=0.
func (e *Engine) boostOrCreateSkill(ctx context.Context, taskType, name, principle string, initialRate, delta float64) error {
	entry, err := e.findSkill(ctx, taskType, name)
	if err != nil {
		return err
	}
	now := time.Now()
	if entry != nil {
		entry.SuccessRate = clamp01(entry.SuccessRate + delta)
		return e.store.UpsertSkill(ctx, *entry)
	}
	return e.store.UpsertSkill(ctx, store.SkillBankEntry{
		TaskType:    taskType,
		Name:        name,
		Principle:   principle,
		Status:      store.SkillActive,
		SuccessRate: initialRate,
		UsageCount:  0,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// upsertQuotaAwareRouting boosts or creates the quota-aware-routing
// meta-skill for a task_type, the same boost-or-create rule the needed
// skill follows in the failure path.
func (e *Engine) upsertQuotaAwareRouting(ctx context.Context, taskType string) error {
	return e.boostOrCreateSkill(ctx, taskType, quotaAwareRoutingSkill,
		"Prefer quota-healthy providers when this task type is under quota pressure", 0.6, 0.1)
}
