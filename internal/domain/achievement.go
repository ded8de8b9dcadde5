package domain

import (
	"fmt"
	"time"
)

// ─── Achievement Types ──────────────────────────────────────────────────────

// PredicateKind names one typed unlock condition.
type PredicateKind string

const (
	LevelAtLeast             PredicateKind = "level_at_least"
	LifetimeXPAtLeast        PredicateKind = "lifetime_xp_at_least"
	MissionsCompletedAtLeast PredicateKind = "missions_completed_at_least"
	StreakDaysAtLeast        PredicateKind = "streak_days_at_least"
)

// Predicate is an unlock condition decoded once from the catalog.
type Predicate struct {
	Kind      PredicateKind `json:"kind" yaml:"kind"`
	Threshold int64         `json:"threshold" yaml:"threshold"`
}

// Validate rejects unknown kinds and non-positive thresholds.
func (p Predicate) Validate() error {
	switch p.Kind {
	case LevelAtLeast, LifetimeXPAtLeast, MissionsCompletedAtLeast, StreakDaysAtLeast:
	default:
		return fmt.Errorf("unknown predicate kind %q", p.Kind)
	}
	if p.Threshold <= 0 {
		return fmt.Errorf("predicate %s: threshold must be positive, got %d", p.Kind, p.Threshold)
	}
	return nil
}

// Satisfied evaluates the predicate against a facts snapshot.
func (p Predicate) Satisfied(f Facts) bool {
	switch p.Kind {
	case LevelAtLeast:
		return int64(f.Level) >= p.Threshold
	case LifetimeXPAtLeast:
		return f.LifetimeXP >= p.Threshold
	case MissionsCompletedAtLeast:
		return int64(f.MissionsCompleted) >= p.Threshold
	case StreakDaysAtLeast:
		return int64(f.StreakDays) >= p.Threshold
	}
	return false
}

// Facts is the snapshot achievement predicates are evaluated against.
type Facts struct {
	LifetimeXP        int64 `json:"lifetime_xp"`
	Level             int   `json:"level"`
	MissionsCompleted int   `json:"missions_completed"`
	StreakDays        int   `json:"streak_days"`
}

// AchievementDef defines a single achievement.
type AchievementDef struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Icon        string    `json:"icon,omitempty" yaml:"icon"`
	Hidden      bool      `json:"hidden" yaml:"hidden"`
	RewardXP    int64     `json:"reward_xp" yaml:"reward_xp"`
	RewardCoins int64     `json:"reward_coins" yaml:"reward_coins"`
	Predicate   Predicate `json:"predicate" yaml:"predicate"`
}

// AchievementUnlock records when a user earned an achievement.
type AchievementUnlock struct {
	AchievementID string    `json:"achievement_id"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}
