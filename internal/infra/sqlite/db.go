// Package sqlite provides SQLite-based persistent storage for FocusQuest.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/focusquest/focusquest/internal/domain"
)

var (
	_ domain.LedgerStore       = (*DB)(nil)
	_ domain.MissionStore      = (*DB)(nil)
	_ domain.AchievementStore  = (*DB)(nil)
	_ domain.EngagementStore   = (*DB)(nil)
	_ domain.InventoryStore    = (*DB)(nil)
	_ domain.NotificationStore = (*DB)(nil)
)

// DB wraps a SQLite connection with WAL mode and migrations.
// It implements every store interface of the domain package.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Reward ledger: one row per user, mutated only by the ledger service
		`CREATE TABLE IF NOT EXISTS ledgers (
			user_id     TEXT PRIMARY KEY,
			level       INTEGER NOT NULL DEFAULT 1,
			current_xp  INTEGER NOT NULL DEFAULT 0,
			lifetime_xp INTEGER NOT NULL DEFAULT 0,
			coins       INTEGER NOT NULL DEFAULT 0 CHECK (coins >= 0),
			updated_at  INTEGER NOT NULL
		)`,

		// Append-only reward history (xp and coins)
		`CREATE TABLE IF NOT EXISTS reward_history (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id       TEXT NOT NULL,
			currency      TEXT NOT NULL,
			amount        INTEGER NOT NULL,
			reason        TEXT NOT NULL DEFAULT '',
			ref_type      TEXT NOT NULL DEFAULT '',
			ref_id        TEXT NOT NULL DEFAULT '',
			balance_after INTEGER NOT NULL,
			created_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_user ON reward_history(user_id, id)`,

		// Mission progress per user × mission × metric key
		`CREATE TABLE IF NOT EXISTS mission_progress (
			user_id    TEXT NOT NULL,
			mission_id TEXT NOT NULL,
			metric_key TEXT NOT NULL,
			current    INTEGER NOT NULL DEFAULT 0,
			target     INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, mission_id, metric_key)
		)`,

		// Unlocked achievements (absent row = locked)
		`CREATE TABLE IF NOT EXISTS achievement_unlocks (
			user_id        TEXT NOT NULL,
			achievement_id TEXT NOT NULL,
			unlocked_at    INTEGER NOT NULL,
			PRIMARY KEY (user_id, achievement_id)
		)`,

		// Key-value store for engagement state (streak data)
		`CREATE TABLE IF NOT EXISTS engagement (
			user_id TEXT NOT NULL,
			key     TEXT NOT NULL,
			value   TEXT NOT NULL,
			PRIMARY KEY (user_id, key)
		)`,

		// Owned shop items
		`CREATE TABLE IF NOT EXISTS inventory (
			user_id  TEXT NOT NULL,
			item_id  TEXT NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
			PRIMARY KEY (user_id, item_id)
		)`,

		// Inbox notifications (policy: max per day, quiet hours)
		`CREATE TABLE IF NOT EXISTS notifications (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			type       TEXT NOT NULL,
			title      TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			shown      BOOLEAN DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notif_user_created ON notifications(user_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func unixOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}
