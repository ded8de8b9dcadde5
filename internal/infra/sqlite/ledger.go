package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/focusquest/focusquest/internal/domain"
)

// ─── Reward Ledger ──────────────────────────────────────────────────────────

// GetLedger retrieves a user's ledger. Returns nil, nil if the user has none.
func (d *DB) GetLedger(ctx context.Context, userID string) (*domain.RewardLedger, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT user_id, level, current_xp, lifetime_xp, coins, updated_at
		 FROM ledgers WHERE user_id = ?`, userID,
	)
	var l domain.RewardLedger
	var updatedAt int64
	err := row.Scan(&l.UserID, &l.Level, &l.CurrentXP, &l.LifetimeXP, &l.Coins, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}
	l.UpdatedAt = unixOrZero(updatedAt)
	return &l, nil
}

// SaveLedger inserts or replaces a user's ledger row.
func (d *DB) SaveLedger(ctx context.Context, l domain.RewardLedger) error {
	updated := l.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO ledgers (user_id, level, current_xp, lifetime_xp, coins, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			level=excluded.level,
			current_xp=excluded.current_xp,
			lifetime_xp=excluded.lifetime_xp,
			coins=excluded.coins,
			updated_at=excluded.updated_at`,
		l.UserID, l.Level, l.CurrentXP, l.LifetimeXP, l.Coins, updated.Unix(),
	)
	return err
}

// ─── Reward History ─────────────────────────────────────────────────────────

// AppendRewardEntries writes history lines in one transaction.
func (d *DB) AppendRewardEntries(ctx context.Context, entries []domain.RewardEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reward_history (user_id, currency, amount, reason, ref_type, ref_id, balance_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			e.UserID, string(e.Currency), e.Amount, e.Reason, e.RefType, e.RefID,
			e.BalanceAfter, created.Unix(),
		); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
	}
	return tx.Commit()
}

// ListRewardEntries returns the most recent history lines, newest first.
func (d *DB) ListRewardEntries(ctx context.Context, userID string, limit int) ([]domain.RewardEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, currency, amount, reason, ref_type, ref_id, balance_after, created_at
		 FROM reward_history WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.RewardEntry
	for rows.Next() {
		e, err := scanRewardEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanRewardEntry(s scanner) (domain.RewardEntry, error) {
	var e domain.RewardEntry
	var currency string
	var createdAt int64
	err := s.Scan(&e.ID, &e.UserID, &currency, &e.Amount, &e.Reason, &e.RefType, &e.RefID,
		&e.BalanceAfter, &createdAt)
	if err != nil {
		return e, err
	}
	e.Currency = domain.Currency(currency)
	e.CreatedAt = time.Unix(createdAt, 0)
	return e, nil
}
