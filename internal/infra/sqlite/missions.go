package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/focusquest/focusquest/internal/domain"
)

// ─── Mission Progress ───────────────────────────────────────────────────────

// InsertMissionProgress inserts rows that do not exist yet (bootstrap).
// Existing rows keep their progress. Returns the number of inserted rows.
func (d *DB) InsertMissionProgress(ctx context.Context, rows []domain.MissionProgress) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO mission_progress (user_id, mission_id, metric_key, current, target, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	now := time.Now().Unix()
	for _, p := range rows {
		result, err := stmt.ExecContext(ctx, p.UserID, p.MissionID, p.MetricKey, p.Current, p.Target, now)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", p.MissionID, err)
		}
		n, _ := result.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListMissionProgress returns all tracked missions of a user.
func (d *DB) ListMissionProgress(ctx context.Context, userID string) ([]domain.MissionProgress, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, mission_id, metric_key, current, target, updated_at
		 FROM mission_progress WHERE user_id = ? ORDER BY mission_id`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MissionProgress
	for rows.Next() {
		var p domain.MissionProgress
		var updatedAt int64
		if err := rows.Scan(&p.UserID, &p.MissionID, &p.MetricKey, &p.Current, &p.Target, &updatedAt); err != nil {
			return nil, err
		}
		p.UpdatedAt = unixOrZero(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveMissionProgress upserts a progress row. Progress never decreases:
// a stale write cannot overwrite a higher stored value.
func (d *DB) SaveMissionProgress(ctx context.Context, p domain.MissionProgress) error {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO mission_progress (user_id, mission_id, metric_key, current, target, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, mission_id, metric_key) DO UPDATE SET
			current=MAX(current, excluded.current),
			target=excluded.target,
			updated_at=excluded.updated_at`,
		p.UserID, p.MissionID, p.MetricKey, p.Current, p.Target, updated.Unix(),
	)
	return err
}
