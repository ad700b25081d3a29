package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"

	"github.com/loomwork/loomwork/internal/errs"
	"github.com/loomwork/loomwork/internal/store"
	"github.com/loomwork/loomwork/internal/telemetry"
)

func marshalResult(m map[string]any) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, "marshal step result", err)
	}
	return string(b), nil
}

func findStep(steps []store.Step, stepID string) *store.Step {
	for i := range steps {
		if steps[i].StepID == stepID {
			return &steps[i]
		}
	}
	return nil
}

// executeAtomicStep runs a single atomic step to completion, retrying on
// recoverable handler errors up to step.retries(), sleeping
// backoff·2^(attempt-1) ms between attempts. startAttempt carries forward
// the attempt counter from a resumed, previously in-flight step — a crash
// mid-step is indistinguishable from a failed attempt, so it is simply
// retried. On success the handler's result is merged into rc and the step
// is checkpointed transactionally (step row, step_completed audit event,
// and — if the result carries fallbackApplied=true — a quota_fallback
// audit event plus a context update, all in one transaction).
func (e *Executor) executeAtomicStep(ctx context.Context, runID string, step StepDef, rc runContext, startAttempt int) error {
	handler, ok := e.handlers[step.Handler]
	if !ok {
		return errs.New(errs.KindValidation, "no handler registered for step "+step.ID+" ("+step.Handler+")")
	}

	maxAttempts := step.retries()
	var lastErr error

	for attempt := startAttempt + 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(step.backoffMs()) * time.Millisecond * time.Duration(1<<uint(attempt-2))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		e.stepEvent(runID, step.ID, "running", "attempt", attempt)
		if err := e.upsertRunning(ctx, runID, step, attempt); err != nil {
			return err
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if step.TimeoutMs > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMs)*time.Millisecond)
		}

		tracer := telemetry.Tracer("loomwork/workflow")
		spanCtx, span := tracer.Start(attemptCtx, "workflow.step")
		span.SetAttributes(
			attribute.String("run_id", runID),
			attribute.String("step_id", step.ID),
			attribute.Int("attempt", attempt),
		)
		started := time.Now()
		result, err := handler(spanCtx, step, rc)
		e.observeStepDuration(string(step.Type), time.Since(started).Seconds())
		span.End()
		if cancel != nil {
			cancel()
		}

		if err == nil {
			if mergeErr := e.checkpointSuccess(ctx, runID, step, attempt, result, rc); mergeErr != nil {
				return mergeErr
			}
			e.stepEvent(runID, step.ID, "completed", "attempt", attempt)
			e.recordStep(string(step.Type), "success")
			return nil
		}

		lastErr = err
		e.stepEvent(runID, step.ID, "failed", "attempt", attempt, "error", err.Error())
		e.recordStep(string(step.Type), "failure")
		if failErr := e.upsertFailed(ctx, runID, step, attempt, err); failErr != nil {
			return failErr
		}
		if !errs.IsRecoverable(err) {
			break
		}
	}

	return errs.Wrap(errs.KindState, "step "+step.ID+" exhausted retries", lastErr)
}

func (e *Executor) upsertRunning(ctx context.Context, runID string, step StepDef, attempt int) error {
	now := time.Now().UTC()
	return e.store.Transaction(ctx, func(tx *sqlx.Tx) error {
		return store.UpsertStep(ctx, tx, store.Step{
			RunID:     runID,
			StepID:    step.ID,
			Type:      string(step.Type),
			Status:    store.StepRunning,
			Attempt:   attempt,
			StartedAt: &now,
		})
	})
}

func (e *Executor) upsertFailed(ctx context.Context, runID string, step StepDef, attempt int, handlerErr error) error {
	now := time.Now().UTC()
	kind := string(errs.KindOf(handlerErr))
	msg := handlerErr.Error()
	return e.store.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := store.UpsertStep(ctx, tx, store.Step{
			RunID:        runID,
			StepID:       step.ID,
			Type:         string(step.Type),
			Status:       store.StepFailed,
			Attempt:      attempt,
			ErrorKind:    &kind,
			ErrorMessage: &msg,
			CompletedAt:  &now,
		}); err != nil {
			return err
		}
		detail, _ := marshalResult(map[string]any{"attempt": attempt, "error": msg})
		return store.LogEvent(ctx, tx, store.AuditEvent{
			RunID:     &runID,
			StepID:    &step.ID,
			EventType: "step_attempt_failed",
			Severity:  store.SeverityWarn,
			Detail:    detail,
		})
	})
}

// checkpointSuccess performs the transactional checkpoint described in
// executeAtomicStep's doc comment, then merges the handler's result into
// rc.
func (e *Executor) checkpointSuccess(ctx context.Context, runID string, step StepDef, attempt int, result map[string]any, rc runContext) error {
	now := time.Now().UTC()
	resultJSON, err := marshalResult(result)
	if err != nil {
		return err
	}

	fallbackApplied, _ := result[ResultKeyFallbackApplied].(bool)

	err = e.store.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := store.UpsertStep(ctx, tx, store.Step{
			RunID:       runID,
			StepID:      step.ID,
			Type:        string(step.Type),
			Status:      store.StepCompleted,
			Attempt:     attempt,
			Result:      &resultJSON,
			CompletedAt: &now,
		}); err != nil {
			return err
		}
		if err := store.LogEvent(ctx, tx, store.AuditEvent{
			RunID:     &runID,
			StepID:    &step.ID,
			EventType: "step_completed",
			Severity:  store.SeverityInfo,
			Detail:    resultJSON,
		}); err != nil {
			return err
		}

		if !fallbackApplied {
			return nil
		}
		if err := store.LogEvent(ctx, tx, store.AuditEvent{
			RunID:     &runID,
			StepID:    &step.ID,
			EventType: "quota_fallback",
			Severity:  store.SeverityWarn,
			Detail:    resultJSON,
		}); err != nil {
			return err
		}

		scoped := rc.clone()
		scoped.merge(result)
		scoped[contextKeyLastFallback] = map[string]any{"step_id": step.ID, "at": now.Format(time.RFC3339Nano)}
		contextJSON, err := scoped.encode()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE runs SET context = ?, updated_at = ? WHERE id = ?`,
			contextJSON, now.Format(time.RFC3339Nano), runID)
		if err != nil {
			return errs.Wrap(errs.KindState, "update run context for fallback", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	rc.merge(result)
	if fallbackApplied {
		rc[contextKeyLastFallback] = map[string]any{"step_id": step.ID, "at": now.Format(time.RFC3339Nano)}
	}
	return nil
}
