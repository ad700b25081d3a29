package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/loomwork/loomwork/internal/errs"
)

// CreateRun inserts a new run in RunPending status. Idempotent: creating a
// run with an ID that already exists returns the existing run unchanged
// rather than erroring, so a crashed launcher can safely retry.
func (s *Store) CreateRun(ctx context.Context, id, workflowName string) (*Run, error) {
	var run Run
	err := s.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &run, `SELECT * FROM runs WHERE id = ?`, id); err == nil {
			return nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return errs.Wrap(errs.KindState, "check existing run", err)
		}

		now := nowRFC3339()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, workflow_name, status, context, created_at, updated_at)
			 VALUES (?, ?, ?, '{}', ?, ?)`,
			id, workflowName, RunPending, now, now,
		)
		if err != nil {
			return errs.Wrap(errs.KindState, "insert run", err)
		}
		return tx.GetContext(ctx, &run, `SELECT * FROM runs WHERE id = ?`, id)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun loads a run's current row.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := s.db.GetContext(ctx, &run, `SELECT * FROM runs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.KindState, "run not found: "+id)
		}
		return nil, errs.Wrap(errs.KindState, "get run", err)
	}
	return &run, nil
}

// UpdateRunStatus transitions a run's status and, when terminal
// (completed/failed), stamps completed_at.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status RunStatus) error {
	now := nowRFC3339()
	var completedAt any
	if status == RunCompleted || status == RunFailed {
		completedAt = now
	}
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, updated_at = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?`,
			status, now, completedAt, id,
		)
		if err != nil {
			return errs.Wrap(errs.KindState, "update run status", err)
		}
		return nil
	})
}

// UpdateRunContext overwrites the run's accumulated context blob (already
// JSON-serialized by the caller).
func (s *Store) UpdateRunContext(ctx context.Context, id, contextJSON string) error {
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE runs SET context = ?, updated_at = ? WHERE id = ?`,
			contextJSON, nowRFC3339(), id,
		)
		if err != nil {
			return errs.Wrap(errs.KindState, "update run context", err)
		}
		return nil
	})
}

// GetRunState loads a run and all of its steps, the full resumable state
// needed to reconstruct an in-progress execution after a crash.
func (s *Store) GetRunState(ctx context.Context, id string) (*Run, []Step, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var steps []Step
	if err := s.db.SelectContext(ctx, &steps, `SELECT * FROM steps WHERE run_id = ? ORDER BY step_id`, id); err != nil {
		return nil, nil, errs.Wrap(errs.KindState, "list steps", err)
	}
	return run, steps, nil
}
