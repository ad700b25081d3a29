package store

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/loomwork/loomwork/internal/errs"
)

// LogEvent appends an audit event. Non-blocking by design (the teacher's
// security.AuditLogger invariant: audit logging must never block the
// operation it records) — callers that need the event in the same
// transaction as a step/run mutation pass tx; callers doing best-effort
// out-of-band logging call (*Store).LogEventAsync instead.
func LogEvent(ctx context.Context, tx *sqlx.Tx, evt AuditEvent) error {
	_, err := tx.NamedExecContext(ctx,
		`INSERT INTO audit_events (run_id, step_id, event_type, severity, detail, created_at)
		 VALUES (:run_id, :step_id, :event_type, :severity, :detail, :created_at)`,
		map[string]any{
			"run_id":     evt.RunID,
			"step_id":    evt.StepID,
			"event_type": evt.EventType,
			"severity":   evt.Severity,
			"detail":     evt.Detail,
			"created_at": nowRFC3339(),
		},
	)
	if err != nil {
		return errs.Wrap(errs.KindState, "log audit event", err)
	}
	return nil
}

// LogEventAsync fires the insert on its own goroutine and discards any
// error. Used by call sites that must
// never stall on storage (quota/budget threshold crossings, routing
// decisions) outside of the executor's transactional checkpoint.
func (s *Store) LogEventAsync(evt AuditEvent) {
	go func() {
		_ = s.Transaction(context.Background(), func(tx *sqlx.Tx) error {
			return LogEvent(context.Background(), tx, evt)
		})
	}()
}

// QueryAudit returns matching audit events, most recent first.
func (s *Store) QueryAudit(ctx context.Context, f AuditFilter) ([]AuditEvent, error) {
	query := `SELECT * FROM audit_events WHERE 1=1`
	args := map[string]any{}

	if f.RunID != "" {
		query += ` AND run_id = :run_id`
		args["run_id"] = f.RunID
	}
	if f.EventType != "" {
		query += ` AND event_type = :event_type`
		args["event_type"] = f.EventType
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= :since`
		args["since"] = f.Since.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
	}
	if !f.Until.IsZero() {
		query += ` AND created_at <= :until`
		args["until"] = f.Until.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT :limit`
		args["limit"] = f.Limit
	}

	stmt, err := s.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.KindState, "prepare audit query", err)
	}
	defer stmt.Close()

	var events []AuditEvent
	if err := stmt.SelectContext(ctx, &events, args); err != nil {
		return nil, errs.Wrap(errs.KindState, "query audit events", err)
	}
	return events, nil
}

// CountAudit counts matching audit events without loading them.
func (s *Store) CountAudit(ctx context.Context, eventTypePrefix string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM audit_events WHERE event_type LIKE ?`,
		strings.TrimSuffix(eventTypePrefix, "%")+"%",
	)
	if err != nil {
		return 0, errs.Wrap(errs.KindState, "count audit events", err)
	}
	return count, nil
}
