package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/loomwork/loomwork/internal/errs"
)

// GetSessionBudget loads the (session,model) ledger row, or nil if the
// session hasn't spent against this model yet.
func (s *Store) GetSessionBudget(ctx context.Context, sessionID, model string) (*SessionBudget, error) {
	var b SessionBudget
	err := s.db.GetContext(ctx, &b,
		`SELECT * FROM session_budgets WHERE session_id = ? AND model = ?`, sessionID, model,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindState, "get session budget", err)
	}
	return &b, nil
}

// EnsureSessionBudget creates the ledger row for (session,model) with
// maxTokens if absent, leaving an existing row untouched. Idempotent.
func (s *Store) EnsureSessionBudget(ctx context.Context, sessionID, model string, maxTokens int64) (*SessionBudget, error) {
	err := withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO session_budgets (session_id, model, max_tokens, spent_tokens, updated_at)
			 VALUES (?, ?, ?, 0, ?)
			 ON CONFLICT(session_id, model) DO NOTHING`,
			sessionID, model, maxTokens, nowRFC3339(),
		)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindState, "ensure session budget", err)
	}
	return s.GetSessionBudget(ctx, sessionID, model)
}

// ConsumeTokens adds delta to the session's spent-token counter. Not
// idempotent by design: calling it twice with the same delta consumes the
// budget twice, matching the token-sum invariant (replays during resume
// must not re-consume a step's tokens; the caller is responsible for
// calling this at most once per completed model call).
func (s *Store) ConsumeTokens(ctx context.Context, sessionID, model string, delta int64) (*SessionBudget, error) {
	err := withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE session_budgets SET spent_tokens = spent_tokens + ?, updated_at = ?
			 WHERE session_id = ? AND model = ?`,
			delta, nowRFC3339(), sessionID, model,
		)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindState, "consume tokens", err)
	}
	return s.GetSessionBudget(ctx, sessionID, model)
}

// ResetSessionBudget zeroes the spent-token counter for (session,model).
func (s *Store) ResetSessionBudget(ctx context.Context, sessionID, model string) error {
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE session_budgets SET spent_tokens = 0, updated_at = ? WHERE session_id = ? AND model = ?`,
			nowRFC3339(), sessionID, model,
		)
		if err != nil {
			return errs.Wrap(errs.KindState, "reset session budget", err)
		}
		return nil
	})
}
