package domain

import (
	"encoding/json"
	"time"
)

// ─── Streak Types ───────────────────────────────────────────────────────────

// Streak tracks consecutive days of productive activity.
type Streak struct {
	CurrentDays   int       `json:"current_days"`
	LongestDays   int       `json:"longest_days"`
	LastDate      time.Time `json:"last_date"`
	FreezeUsed    bool      `json:"freeze_used"`     // 1 free freeze per week
	FreezeWeekISO string    `json:"freeze_week_iso"` // "2025-W28"
}

// ─── Outbound Notifications ─────────────────────────────────────────────────

// NotificationKind is the wire type of an outbound notification.
type NotificationKind string

const (
	KindXPChanged           NotificationKind = "xp_changed"
	KindCoinsChanged        NotificationKind = "coins_changed"
	KindLevelUp             NotificationKind = "level_up"
	KindMissionCompleted    NotificationKind = "mission_completed"
	KindAchievementUnlocked NotificationKind = "achievement_unlocked"
	KindEventLifecycle      NotificationKind = "event_lifecycle"
)

// Notification is anything the engine pushes to the presentation layer.
type Notification interface {
	Kind() NotificationKind
	User() string
}

// XPChanged carries the ledger state after an XP award. Level is the level
// after the award.
type XPChanged struct {
	UserID        string   `json:"user_id"`
	Amount        int64    `json:"amount"`
	Source        XPSource `json:"source"`
	PreviousLevel int      `json:"previous_level"`
	Level         int      `json:"level"`
	LeveledUp     bool     `json:"leveled_up"`
	CurrentXP     int64    `json:"current_xp"`
	RequiredXP    int64    `json:"required_xp"`
	LifetimeXP    int64    `json:"lifetime_xp"`
}

// CoinsChanged carries the coin balance after a coin award or debit.
type CoinsChanged struct {
	UserID  string `json:"user_id"`
	Amount  int64  `json:"amount"`
	Reason  string `json:"reason"`
	Balance int64  `json:"balance"`
}

// LevelUp is published once per level gained.
type LevelUp struct {
	UserID   string `json:"user_id"`
	NewLevel int    `json:"new_level"`
}

// MissionCompleted is published when a mission crosses 100%.
type MissionCompleted struct {
	UserID      string `json:"user_id"`
	MissionID   string `json:"mission_id"`
	Title       string `json:"title"`
	RewardXP    int64  `json:"reward_xp"`
	RewardCoins int64  `json:"reward_coins"`
}

// AchievementUnlocked is published once per unlock.
type AchievementUnlocked struct {
	UserID        string `json:"user_id"`
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name"`
	Icon          string `json:"icon,omitempty"`
	RewardXP      int64  `json:"reward_xp"`
	RewardCoins   int64  `json:"reward_coins"`
}

// EventLifecycle announces a contextual event phase change.
type EventLifecycle struct {
	UserID string          `json:"user_id"`
	Phase  EventPhase      `json:"phase"`
	Event  ContextualEvent `json:"event"`
}

func (n XPChanged) Kind() NotificationKind           { return KindXPChanged }
func (n CoinsChanged) Kind() NotificationKind        { return KindCoinsChanged }
func (n LevelUp) Kind() NotificationKind             { return KindLevelUp }
func (n MissionCompleted) Kind() NotificationKind    { return KindMissionCompleted }
func (n AchievementUnlocked) Kind() NotificationKind { return KindAchievementUnlocked }
func (n EventLifecycle) Kind() NotificationKind      { return KindEventLifecycle }

func (n XPChanged) User() string           { return n.UserID }
func (n CoinsChanged) User() string        { return n.UserID }
func (n LevelUp) User() string             { return n.UserID }
func (n MissionCompleted) User() string    { return n.UserID }
func (n AchievementUnlocked) User() string { return n.UserID }
func (n EventLifecycle) User() string      { return n.UserID }

// Envelope is the wire form of a notification: {"type": ..., "payload": ...}.
type Envelope struct {
	Type    NotificationKind `json:"type"`
	Payload Notification     `json:"payload"`
}

// MarshalNotification encodes n inside an Envelope.
func MarshalNotification(n Notification) ([]byte, error) {
	return json.Marshal(Envelope{Type: n.Kind(), Payload: n})
}

// Publisher accepts outbound notifications.
type Publisher interface {
	Publish(n Notification)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(n Notification)

// Publish calls f(n).
func (f PublisherFunc) Publish(n Notification) { f(n) }

// ─── Inbox Notification Types ───────────────────────────────────────────────

// InboxNotification is a persisted user-facing toast.
type InboxNotification struct {
	ID        int64            `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationKind `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	CreatedAt time.Time        `json:"created_at"`
	Shown     bool             `json:"shown"`
}

// NotificationPolicy governs how often inbox toasts are stored.
type NotificationPolicy struct {
	MaxPerDay  int    `json:"max_per_day" toml:"max_per_day"`
	QuietStart string `json:"quiet_start" toml:"quiet_start"` // "22:00"
	QuietEnd   string `json:"quiet_end" toml:"quiet_end"`     // "08:00"
}

// DefaultNotificationPolicy returns the default inbox policy.
func DefaultNotificationPolicy() NotificationPolicy {
	return NotificationPolicy{
		MaxPerDay:  20,
		QuietStart: "22:00",
		QuietEnd:   "08:00",
	}
}
