// Package engagement implements the per-user progression trackers that sit
// next to the ledger: metric routing, missions, achievements and streaks.
package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/focusquest/focusquest/internal/domain"
)

// Engagement KV keys.
const (
	keyStreakCurrent    = "streak_current"
	keyStreakLongest    = "streak_longest"
	keyStreakLastDate   = "streak_last_date"
	keyStreakFreezeUsed = "streak_freeze_used"
	keyStreakFreezeWeek = "streak_freeze_week"
)

// StreakService tracks consecutive productive days.
// A day counts once any productive tick lands in it. Missing exactly one day
// spends the weekly freeze; anything longer resets the streak silently.
type StreakService struct {
	store   domain.EngagementStore
	users   *xsync.MapOf[string, *streakUser]
	timeout time.Duration
	log     *slog.Logger
}

type streakUser struct {
	mu     sync.Mutex
	loaded bool
	dirty  bool
	streak domain.Streak
}

// NewStreakService creates a streak service.
func NewStreakService(store domain.EngagementStore, storeTimeout time.Duration) *StreakService {
	if storeTimeout <= 0 {
		storeTimeout = 250 * time.Millisecond
	}
	return &StreakService{
		store:   store,
		users:   xsync.NewMapOf[string, *streakUser](),
		timeout: storeTimeout,
		log:     slog.Default().With("component", "streaks"),
	}
}

// Current returns the user's streak state.
func (s *StreakService) Current(ctx context.Context, userID string) (domain.Streak, error) {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := s.loadLocked(ctx, userID, u); err != nil {
		return domain.Streak{}, err
	}
	return u.streak, nil
}

// RecordActivity counts day for the user. Same day: no-op. Next day: extend.
// One missed day: use the weekly freeze if still available, else reset.
func (s *StreakService) RecordActivity(ctx context.Context, userID string, day time.Time) (domain.Streak, error) {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := s.loadLocked(ctx, userID, u); err != nil {
		return domain.Streak{}, err
	}

	today := day.Truncate(24 * time.Hour)
	streak := u.streak
	if !streak.LastDate.IsZero() && today.Equal(streak.LastDate.Truncate(24*time.Hour)) {
		if u.dirty {
			s.saveLocked(ctx, userID, u)
		}
		return streak, nil
	}

	if streak.LastDate.IsZero() {
		streak.CurrentDays = 1
	} else {
		gap := today.Sub(streak.LastDate.Truncate(24 * time.Hour))
		switch {
		case gap < 0:
			// Clock went backwards; keep what we have.
			return streak, nil
		case gap <= 24*time.Hour:
			streak.CurrentDays++
		case gap <= 48*time.Hour:
			week := isoWeek(today)
			if !streak.FreezeUsed || streak.FreezeWeekISO != week {
				streak.FreezeUsed = true
				streak.FreezeWeekISO = week
				streak.CurrentDays++
			} else {
				streak.CurrentDays = 1
			}
		default:
			streak.CurrentDays = 1
		}
	}

	streak.LastDate = today
	if streak.CurrentDays > streak.LongestDays {
		streak.LongestDays = streak.CurrentDays
	}
	u.streak = streak
	u.dirty = true
	s.saveLocked(ctx, userID, u)
	return streak, nil
}

func (s *StreakService) user(userID string) *streakUser {
	u, _ := s.users.LoadOrCompute(userID, func() *streakUser { return &streakUser{} })
	return u
}

func (s *StreakService) loadLocked(ctx context.Context, userID string, u *streakUser) error {
	if u.loaded {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	get := func(key string) (string, error) {
		v, err := s.store.GetEngagement(sctx, userID, key)
		if err != nil {
			return "", fmt.Errorf("get %s: %w (%w)", key, domain.ErrTransientStore, err)
		}
		return v, nil
	}

	var streak domain.Streak
	v, err := get(keyStreakCurrent)
	if err != nil {
		return err
	}
	streak.CurrentDays, _ = strconv.Atoi(v)

	if v, err = get(keyStreakLongest); err != nil {
		return err
	}
	streak.LongestDays, _ = strconv.Atoi(v)

	if v, err = get(keyStreakLastDate); err != nil {
		return err
	}
	if v != "" {
		ts, _ := strconv.ParseInt(v, 10, 64)
		streak.LastDate = time.Unix(ts, 0).UTC()
	}

	if v, err = get(keyStreakFreezeUsed); err != nil {
		return err
	}
	streak.FreezeUsed = v == "1"

	if v, err = get(keyStreakFreezeWeek); err != nil {
		return err
	}
	streak.FreezeWeekISO = v

	u.streak = streak
	u.loaded = true
	return nil
}

// saveLocked persists the streak. On failure the state stays dirty and the
// next RecordActivity writes it again.
func (s *StreakService) saveLocked(ctx context.Context, userID string, u *streakUser) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	st := u.streak
	pairs := map[string]string{
		keyStreakCurrent:    strconv.Itoa(st.CurrentDays),
		keyStreakLongest:    strconv.Itoa(st.LongestDays),
		keyStreakLastDate:   strconv.FormatInt(st.LastDate.Unix(), 10),
		keyStreakFreezeUsed: boolStr(st.FreezeUsed),
		keyStreakFreezeWeek: st.FreezeWeekISO,
	}
	if err := s.store.SetEngagement(sctx, userID, pairs); err != nil {
		s.log.Warn("save streak failed", "user", userID, "err", err)
		return
	}
	u.dirty = false
}

// isoWeek returns "YYYY-Www" for the given time.
func isoWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
