package domain

import (
	"strings"
	"time"
)

// ─── Mission Types ──────────────────────────────────────────────────────────

// MissionDef is a catalog entry. MetricKey may be a routing prefix:
// "time" tracks every "time-*" metric.
type MissionDef struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	MetricKey   string `json:"metric_key" yaml:"metric_key"`
	Target      int64  `json:"target" yaml:"target"`
	RewardXP    int64  `json:"reward_xp" yaml:"reward_xp"`
	RewardCoins int64  `json:"reward_coins" yaml:"reward_coins"`
	Manual      bool   `json:"manual" yaml:"manual"` // claimable from the UI
}

// MissionProgress is the per-user tracked state of one mission.
type MissionProgress struct {
	UserID    string    `json:"user_id"`
	MissionID string    `json:"mission_id"`
	MetricKey string    `json:"metric_key"`
	Current   int64     `json:"current"`
	Target    int64     `json:"target"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Percentage returns min(100, floor(current/target*100)).
func (p MissionProgress) Percentage() int {
	if p.Target <= 0 {
		return 100
	}
	pct := p.Current * 100 / p.Target
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return int(pct)
}

// Complete reports whether the mission reached 100%.
func (p MissionProgress) Complete() bool {
	return p.Percentage() >= 100
}

// MetricMatches reports whether a mission tracking missionKey counts a tick
// metric key: equal keys, or missionKey is a "-"-separated prefix of key.
func MetricMatches(missionKey, key string) bool {
	if missionKey == "" {
		return false
	}
	return key == missionKey || strings.HasPrefix(key, missionKey+"-")
}
