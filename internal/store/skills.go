package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/loomwork/loomwork/internal/errs"
)

// GetSkill loads a Skill Bank entry by (task_type, name). Returns nil if
// unset — task_type "" addresses a general (not task-specific) skill.
func (s *Store) GetSkill(ctx context.Context, taskType, name string) (*SkillBankEntry, error) {
	var entry SkillBankEntry
	err := s.db.GetContext(ctx, &entry,
		`SELECT * FROM skills WHERE task_type = ? AND name = ?`, taskType, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindState, "get skill", err)
	}
	return &entry, nil
}

// UpsertSkill inserts or fully overwrites a Skill Bank entry, keyed by
// (task_type, name).
func (s *Store) UpsertSkill(ctx context.Context, entry SkillBankEntry) error {
	now := nowRFC3339()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO skills (task_type, name, principle, status, success_rate, usage_count, avg_quality, avg_cost_usd, avg_latency_ms, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(task_type, name) DO UPDATE SET
			   principle = excluded.principle,
			   status = excluded.status,
			   success_rate = excluded.success_rate,
			   usage_count = excluded.usage_count,
			   avg_quality = excluded.avg_quality,
			   avg_cost_usd = excluded.avg_cost_usd,
			   avg_latency_ms = excluded.avg_latency_ms,
			   updated_at = excluded.updated_at`,
			entry.TaskType, entry.Name, entry.Principle, entry.Status,
			entry.SuccessRate, entry.UsageCount, entry.AvgQuality, entry.AvgCostUSD, entry.AvgLatencyMs,
			now, now,
		)
		if err != nil {
			return errs.Wrap(errs.KindState, "upsert skill", err)
		}
		return nil
	})
}

// ListSkills returns every Skill Bank entry for a task_type ("" for
// general skills only; pass "*" to list everything).
func (s *Store) ListSkills(ctx context.Context, taskType string) ([]SkillBankEntry, error) {
	var entries []SkillBankEntry
	var err error
	if taskType == "*" {
		err = s.db.SelectContext(ctx, &entries, `SELECT * FROM skills ORDER BY task_type, name`)
	} else {
		err = s.db.SelectContext(ctx, &entries, `SELECT * FROM skills WHERE task_type = ? ORDER BY name`, taskType)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindState, "list skills", err)
	}
	return entries, nil
}
