package reward

import (
	"context"
	"fmt"
	"time"

	"github.com/focusquest/focusquest/internal/domain"
)

// MissionView is a mission with the user's progress.
type MissionView struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Current     int64  `json:"current"`
	Target      int64  `json:"target"`
	Percentage  int    `json:"percentage"`
	Complete    bool   `json:"complete"`
	Manual      bool   `json:"manual"`
	RewardXP    int64  `json:"reward_xp"`
	RewardCoins int64  `json:"reward_coins"`
}

// AchievementView is an achievement as the user may see it. Hidden
// achievements only appear once unlocked.
type AchievementView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon,omitempty"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}

// Profile is a read-only snapshot of a user's progression.
type Profile struct {
	UserID       string                  `json:"user_id"`
	Level        int                     `json:"level"`
	CurrentXP    int64                   `json:"current_xp"`
	RequiredXP   int64                   `json:"required_xp"`
	LifetimeXP   int64                   `json:"lifetime_xp"`
	Coins        int64                   `json:"coins"`
	Streak       domain.Streak           `json:"streak"`
	Missions     []MissionView           `json:"missions"`
	Achievements []AchievementView       `json:"achievements"`
	Inventory    []domain.InventoryItem  `json:"inventory"`
	Boost        *domain.Boost           `json:"boost,omitempty"`
	Event        *domain.ContextualEvent `json:"event,omitempty"`
}

// Profile assembles the user's snapshot. Only the ledger is required; other
// sections are left empty when their store is unavailable.
func (e *Engine) Profile(ctx context.Context, userID string) (Profile, error) {
	l, err := e.ledger.Get(ctx, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", userID, err)
	}
	p := Profile{
		UserID:     userID,
		Level:      l.Level,
		CurrentXP:  l.CurrentXP,
		RequiredXP: domain.XPRequired(l.Level),
		LifetimeXP: l.LifetimeXP,
		Coins:      l.Coins,
	}

	if s, err := e.streaks.Current(ctx, userID); err == nil {
		p.Streak = s
	} else {
		e.log.Warn("profile: streak unavailable", "user", userID, "err", err)
	}

	if rows, err := e.missions.Progress(ctx, userID); err == nil {
		for _, r := range rows {
			def, ok := e.catalog.Mission(r.MissionID)
			if !ok {
				continue
			}
			p.Missions = append(p.Missions, MissionView{
				ID: def.ID, Title: def.Title, Description: def.Description,
				Current: r.Current, Target: r.Target,
				Percentage: r.Percentage(), Complete: r.Complete(), Manual: def.Manual,
				RewardXP: def.RewardXP, RewardCoins: def.RewardCoins,
			})
		}
	} else {
		e.log.Warn("profile: missions unavailable", "user", userID, "err", err)
	}

	if unlocks, err := e.achievements.Unlocks(ctx, userID); err == nil {
		at := make(map[string]time.Time, len(unlocks))
		for _, u := range unlocks {
			at[u.AchievementID] = u.UnlockedAt
		}
		for _, def := range e.catalog.Achievements {
			t, unlocked := at[def.ID]
			if def.Hidden && !unlocked {
				continue
			}
			v := AchievementView{ID: def.ID, Name: def.Name, Description: def.Description, Icon: def.Icon, Unlocked: unlocked}
			if unlocked {
				v.UnlockedAt = &t
			}
			p.Achievements = append(p.Achievements, v)
		}
	} else {
		e.log.Warn("profile: achievements unavailable", "user", userID, "err", err)
	}

	if items, err := e.shop.Inventory(ctx, userID); err == nil {
		p.Inventory = items
	} else {
		e.log.Warn("profile: inventory unavailable", "user", userID, "err", err)
	}

	if b, ok := e.shop.ActiveBoost(userID, e.now()); ok {
		p.Boost = &b
	}
	if ev, ok := e.events.Active(userID); ok {
		p.Event = &ev
	}
	return p, nil
}
