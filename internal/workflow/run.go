package workflow

import (
	"context"

	"github.com/loomwork/loomwork/internal/errs"
	"github.com/loomwork/loomwork/internal/store"
)

// Run drives a workflow instance to completion (or failure), creating the
// run if runID has not been seen before and resuming it otherwise. On
// resume, a step already marked completed has its persisted result
// re-applied to the context and is skipped; any other step is
// re-executed, carrying forward its attempt counter — a crash mid-step is
// indistinguishable from a failed attempt.
func (e *Executor) Run(ctx context.Context, runID string, def Definition, input map[string]any) (*store.Run, error) {
	if _, err := e.store.CreateRun(ctx, runID, def.Name); err != nil {
		return nil, err
	}

	run, persistedSteps, err := e.store.GetRunState(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == store.RunCompleted || run.Status == store.RunFailed {
		return run, nil
	}

	rc, err := decodeContext(run.Context)
	if err != nil {
		return nil, err
	}
	if len(rc) == 0 {
		rc.merge(input)
	}

	if run.Status == store.RunPending {
		if err := e.store.UpdateRunStatus(ctx, runID, store.RunRunning); err != nil {
			return nil, err
		}
	}

	var runErr error
	for _, stepDef := range def.Steps {
		prior := findStep(persistedSteps, stepDef.ID)
		if prior != nil && prior.Status == store.StepCompleted {
			if prior.Result != nil {
				if res, decodeErr := decodeContext(*prior.Result); decodeErr == nil {
					rc.merge(res)
				}
			}
			e.logInfo("step already completed, skipping on resume", "run_id", runID, "step_id", stepDef.ID)
			continue
		}

		startAttempt := 0
		if prior != nil {
			startAttempt = prior.Attempt
		}

		switch stepDef.Type {
		case StepTypeAtomic:
			runErr = e.executeAtomicStep(ctx, runID, stepDef, rc, startAttempt)
		case StepTypeParallelFor:
			runErr = e.executeParallelFor(ctx, runID, stepDef, rc, persistedSteps)
		default:
			runErr = errs.New(errs.KindValidation, "unknown step type "+string(stepDef.Type))
		}

		if runErr != nil {
			e.logWarn("step failed, failing run", "run_id", runID, "step_id", stepDef.ID, "error", runErr.Error())
			break
		}
	}

	contextJSON, encodeErr := rc.encode()
	if encodeErr != nil && runErr == nil {
		runErr = encodeErr
	}
	if contextJSON != "" {
		_ = e.store.UpdateRunContext(ctx, runID, contextJSON)
	}

	finalStatus := store.RunCompleted
	if runErr != nil {
		finalStatus = store.RunFailed
	}
	if err := e.store.UpdateRunStatus(ctx, runID, finalStatus); err != nil {
		return nil, err
	}
	e.recordRun(string(finalStatus))

	final, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return final, runErr
}
