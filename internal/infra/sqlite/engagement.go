package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/focusquest/focusquest/internal/domain"
)

// ─── Engagement Key-Value ───────────────────────────────────────────────────

// SetEngagement stores engagement key-value pairs for a user atomically.
func (d *DB) SetEngagement(ctx context.Context, userID string, pairs map[string]string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for k, v := range pairs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO engagement (user_id, key, value) VALUES (?, ?, ?)
			 ON CONFLICT(user_id, key) DO UPDATE SET value=excluded.value`,
			userID, k, v,
		); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// GetEngagement retrieves an engagement value by key.
// Returns "" if key not found.
func (d *DB) GetEngagement(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx,
		`SELECT value FROM engagement WHERE user_id = ? AND key = ?`, userID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ─── Achievements ───────────────────────────────────────────────────────────

// UnlockAchievement records an achievement as unlocked.
// Returns false if already unlocked (idempotent).
func (d *DB) UnlockAchievement(ctx context.Context, userID, achievementID string, at time.Time) (bool, error) {
	result, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO achievement_unlocks (user_id, achievement_id, unlocked_at) VALUES (?, ?, ?)`,
		userID, achievementID, at.Unix(),
	)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil // true = newly unlocked
}

// ListAchievementUnlocks returns all unlocks of a user, newest first.
func (d *DB) ListAchievementUnlocks(ctx context.Context, userID string) ([]domain.AchievementUnlock, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT achievement_id, unlocked_at FROM achievement_unlocks
		 WHERE user_id = ? ORDER BY unlocked_at DESC, achievement_id`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var unlocks []domain.AchievementUnlock
	for rows.Next() {
		var u domain.AchievementUnlock
		var unlockedAt int64
		if err := rows.Scan(&u.AchievementID, &unlockedAt); err != nil {
			return nil, err
		}
		u.UnlockedAt = time.Unix(unlockedAt, 0)
		unlocks = append(unlocks, u)
	}
	return unlocks, rows.Err()
}
