package domain

import (
	"context"
	"time"
)

// ─── Store Interfaces ───────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.
// Every call takes a context so services can bound store latency.

// LedgerStore persists reward ledgers and their history.
type LedgerStore interface {
	// GetLedger returns nil, nil when the user has no ledger yet.
	GetLedger(ctx context.Context, userID string) (*RewardLedger, error)
	SaveLedger(ctx context.Context, l RewardLedger) error
	AppendRewardEntries(ctx context.Context, entries []RewardEntry) error
	ListRewardEntries(ctx context.Context, userID string, limit int) ([]RewardEntry, error)
}

// MissionStore persists per-user mission progress.
type MissionStore interface {
	// InsertMissionProgress inserts rows that do not exist yet and returns
	// how many were inserted.
	InsertMissionProgress(ctx context.Context, rows []MissionProgress) (int, error)
	ListMissionProgress(ctx context.Context, userID string) ([]MissionProgress, error)
	SaveMissionProgress(ctx context.Context, p MissionProgress) error
}

// AchievementStore persists unlock records.
type AchievementStore interface {
	// UnlockAchievement returns false if the achievement was already unlocked.
	UnlockAchievement(ctx context.Context, userID, achievementID string, at time.Time) (bool, error)
	ListAchievementUnlocks(ctx context.Context, userID string) ([]AchievementUnlock, error)
}

// EngagementStore is a per-user key-value store (streak state).
type EngagementStore interface {
	GetEngagement(ctx context.Context, userID, key string) (string, error)
	SetEngagement(ctx context.Context, userID string, pairs map[string]string) error
}

// InventoryStore persists owned shop items.
type InventoryStore interface {
	AddInventory(ctx context.Context, userID, itemID string, qty int) (int, error)
	// ConsumeInventory removes one unit and returns ErrItemNotOwned when
	// the user holds none.
	ConsumeInventory(ctx context.Context, userID, itemID string) (int, error)
	ListInventory(ctx context.Context, userID string) ([]InventoryItem, error)
}

// NotificationStore persists inbox toasts.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n InboxNotification) (int64, error)
	NotificationCountSince(ctx context.Context, userID string, since time.Time) (int, error)
	ListPendingNotifications(ctx context.Context, userID string, limit int) ([]InboxNotification, error)
	MarkNotificationShown(ctx context.Context, userID string, id int64) error
}
