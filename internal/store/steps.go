package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/loomwork/loomwork/internal/errs"
)

// UpsertStep records a step attempt, inserting on first sight and updating
// in place on every subsequent attempt (status, attempt count, result,
// error, timestamps). Callers pass tx when the step write must be
// transactional with an audit event and/or context update (the executor's
// single-transaction checkpoint).
func UpsertStep(ctx context.Context, tx *sqlx.Tx, step Step) error {
	var exists bool
	err := tx.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM steps WHERE run_id = ? AND step_id = ?)`,
		step.RunID, step.StepID,
	)
	if err != nil {
		return errs.Wrap(errs.KindState, "check existing step", err)
	}

	if !exists {
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO steps (run_id, step_id, parent_step_id, type, status, attempt, result, error_kind, error_message, started_at, completed_at)
			 VALUES (:run_id, :step_id, :parent_step_id, :type, :status, :attempt, :result, :error_kind, :error_message, :started_at, :completed_at)`,
			namedArgs(step),
		)
		if err != nil {
			return errs.Wrap(errs.KindState, "insert step", err)
		}
		return nil
	}

	_, err = tx.NamedExecContext(ctx,
		`UPDATE steps SET status = :status, attempt = :attempt, result = :result,
		 error_kind = :error_kind, error_message = :error_message,
		 started_at = COALESCE(:started_at, started_at), completed_at = :completed_at
		 WHERE run_id = :run_id AND step_id = :step_id`,
		namedArgs(step),
	)
	if err != nil {
		return errs.Wrap(errs.KindState, "update step", err)
	}
	return nil
}

func namedArgs(s Step) map[string]any {
	return map[string]any{
		"run_id":         s.RunID,
		"step_id":        s.StepID,
		"parent_step_id": s.ParentStepID,
		"type":           s.Type,
		"status":         s.Status,
		"attempt":        s.Attempt,
		"result":         s.Result,
		"error_kind":     s.ErrorKind,
		"error_message":  s.ErrorMessage,
		"started_at":     s.StartedAt,
		"completed_at":   s.CompletedAt,
	}
}

// GetStep loads a single step row, outside of any transaction.
func (s *Store) GetStep(ctx context.Context, runID, stepID string) (*Step, error) {
	var step Step
	err := s.db.GetContext(ctx, &step, `SELECT * FROM steps WHERE run_id = ? AND step_id = ?`, runID, stepID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindState, "get step", err)
	}
	return &step, nil
}
