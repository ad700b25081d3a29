package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/loomwork/loomwork/internal/errs"
	"github.com/loomwork/loomwork/internal/store"
)

// executeParallelFor iterates the list addressed by step.Foreach in rc,
// spawning one child step per item (id "<parent>:<index>") and enforcing
// step.concurrency() as a ceiling, generalizing the teacher's DAGExecutor
// fan-out (unbounded goroutine-per-ready-subtask) with a worker-pool
// bound. All children run to completion (or exhaust their own retries)
// before the parent transitions; in-flight siblings are never cancelled
// when one child fails, matching spec's documented fan-out-ordering and
// failure semantics. Child results are never merged back into rc — only
// the completed/total child counts are recorded on the parent step.
func (e *Executor) executeParallelFor(ctx context.Context, runID string, step StepDef, rc runContext, persisted []store.Step) error {
	items, err := resolveList(rc, step.Foreach)
	if err != nil {
		return err
	}
	if step.Substep == nil {
		return errs.New(errs.KindValidation, "parallel-for step "+step.ID+" has no substep")
	}
	substep := *step.Substep

	sem := make(chan struct{}, step.concurrency())
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	completed := 0

	for i, item := range items {
		childID := fmt.Sprintf("%s:%d", step.ID, i)

		prior := findStep(persisted, childID)
		if prior != nil && prior.Status == store.StepCompleted {
			mu.Lock()
			completed++
			mu.Unlock()
			continue
		}
		startAttempt := 0
		if prior != nil {
			startAttempt = prior.Attempt
		}

		childDef := substep
		childDef.ID = childID

		wg.Add(1)
		sem <- struct{}{}
		go func(item any, startAttempt int) {
			defer wg.Done()
			defer func() { <-sem }()

			childCtx := rc.clone()
			childCtx["item"] = item

			childErr := e.executeAtomicStep(ctx, runID, childDef, childCtx, startAttempt)

			mu.Lock()
			defer mu.Unlock()
			if childErr != nil {
				if firstErr == nil {
					firstErr = childErr
				}
				return
			}
			completed++
		}(item, startAttempt)
	}
	wg.Wait()

	status := store.StepCompleted
	if firstErr != nil {
		status = store.StepFailed
	}
	resultJSON, err := marshalResult(map[string]any{
		"completedChildren": completed,
		"totalChildren":     len(items),
	})
	if err != nil {
		return err
	}

	txErr := e.store.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := store.UpsertStep(ctx, tx, store.Step{
			RunID:   runID,
			StepID:  step.ID,
			Type:    string(step.Type),
			Status:  status,
			Attempt: 1,
			Result:  &resultJSON,
		}); err != nil {
			return err
		}
		eventType := "step_completed"
		severity := store.SeverityInfo
		if firstErr != nil {
			eventType = "step_failed"
			severity = store.SeverityWarn
		}
		return store.LogEvent(ctx, tx, store.AuditEvent{
			RunID:     &runID,
			StepID:    &step.ID,
			EventType: eventType,
			Severity:  severity,
			Detail:    resultJSON,
		})
	})
	if txErr != nil {
		return txErr
	}

	e.recordStep(string(step.Type), outcomeOf(firstErr))
	rc[step.ID] = map[string]any{"completedChildren": completed, "totalChildren": len(items)}

	if firstErr != nil {
		return errs.Wrap(errs.KindState, "parallel-for "+step.ID+" had a failing child", firstErr)
	}
	return nil
}

func outcomeOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
