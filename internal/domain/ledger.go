// Package domain holds the pure types of the reward engine.
// No infrastructure dependency: stores, transports and services depend on
// this package, never the other way around.
package domain

import "time"

// ─── Ledger Types ───────────────────────────────────────────────────────────

// XPRequired returns the XP needed to advance from level to level+1.
func XPRequired(level int) int64 {
	return int64(level) * 1000
}

// RewardLedger is the per-user progression record.
// Invariants: Level >= 1, 0 <= CurrentXP < XPRequired(Level), Coins >= 0,
// LifetimeXP never decreases.
type RewardLedger struct {
	UserID     string    `json:"user_id"`
	Level      int       `json:"level"`
	CurrentXP  int64     `json:"current_xp"`
	LifetimeXP int64     `json:"lifetime_xp"`
	Coins      int64     `json:"coins"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewRewardLedger returns a fresh level 1 ledger.
func NewRewardLedger(userID string) RewardLedger {
	return RewardLedger{UserID: userID, Level: 1}
}

// AddXP adds amount to CurrentXP and LifetimeXP, then cascades level-ups
// until CurrentXP fits the current level. Returns every level reached, in
// ascending order.
func (l *RewardLedger) AddXP(amount int64) []int {
	if amount <= 0 {
		return nil
	}
	l.CurrentXP += amount
	l.LifetimeXP += amount
	return l.Normalize()
}

// Normalize restores the level invariant and returns the levels gained.
func (l *RewardLedger) Normalize() []int {
	if l.Level < 1 {
		l.Level = 1
	}
	if l.CurrentXP < 0 {
		l.CurrentXP = 0
	}
	var reached []int
	for l.CurrentXP >= XPRequired(l.Level) {
		l.CurrentXP -= XPRequired(l.Level)
		l.Level++
		reached = append(reached, l.Level)
	}
	return reached
}

// LevelChange is the result of an XP award.
type LevelChange struct {
	PreviousLevel int   `json:"previous_level"`
	NewLevel      int   `json:"new_level"`
	PreviousXP    int64 `json:"previous_xp"`
	NewXP         int64 `json:"new_xp"`
	LeveledUp     bool  `json:"leveled_up"`
}

// XPSource categorizes how XP was earned.
type XPSource string

const (
	XPTick        XPSource = "TICK"
	XPMission     XPSource = "MISSION_COMPLETED"
	XPAchievement XPSource = "ACHIEVEMENT"
	XPEvent       XPSource = "EVENT_VICTORY"
	XPManual      XPSource = "MANUAL"
)

// Currency distinguishes the two reward balances in the history.
type Currency string

const (
	CurrencyXP    Currency = "xp"
	CurrencyCoins Currency = "coins"
)

// RewardEntry is one append-only line of reward history.
type RewardEntry struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	Currency     Currency  `json:"currency"`
	Amount       int64     `json:"amount"`
	Reason       string    `json:"reason"`
	RefType      string    `json:"ref_type,omitempty"`
	RefID        string    `json:"ref_id,omitempty"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}
