package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/focusquest/focusquest/internal/domain"
)

// Inbox persists toast notifications for the UI to pick up.
// Policy:
//   - at most MaxPerDay toasts per user per day
//   - nothing between QuietStart and QuietEnd
//   - only level-ups, mission completions and achievement unlocks
type Inbox struct {
	store   domain.NotificationStore
	policy  domain.NotificationPolicy
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// NewInbox creates an inbox with the given policy.
func NewInbox(store domain.NotificationStore, policy domain.NotificationPolicy, storeTimeout time.Duration) *Inbox {
	if storeTimeout <= 0 {
		storeTimeout = 250 * time.Millisecond
	}
	return &Inbox{
		store:   store,
		policy:  policy,
		timeout: storeTimeout,
		log:     slog.Default().With("component", "inbox"),
		now:     time.Now,
	}
}

// Notify implements Listener.
func (in *Inbox) Notify(n domain.Notification) {
	title, body, ok := toast(n)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), in.timeout)
	defer cancel()

	if _, err := in.Create(ctx, domain.InboxNotification{
		UserID: n.User(), Type: n.Kind(), Title: title, Body: body,
	}); err != nil {
		in.log.Warn("store toast failed", "user", n.User(), "type", n.Kind(), "err", err)
	}
}

// Create stores a toast if the policy allows it. Returns the ID, or 0 when
// the policy suppressed it.
func (in *Inbox) Create(ctx context.Context, notif domain.InboxNotification) (int64, error) {
	now := in.now()

	count, err := in.store.NotificationCountSince(ctx, notif.UserID, startOfDay(now))
	if err != nil {
		return 0, fmt.Errorf("count today: %w", err)
	}
	if count >= in.policy.MaxPerDay {
		return 0, nil
	}
	if in.isQuietHour(now) {
		return 0, nil
	}

	notif.CreatedAt = now
	notif.Shown = false
	id, err := in.store.InsertNotification(ctx, notif)
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

// Pending returns unshown toasts, newest first.
func (in *Inbox) Pending(ctx context.Context, userID string, limit int) ([]domain.InboxNotification, error) {
	return in.store.ListPendingNotifications(ctx, userID, limit)
}

// MarkShown marks a toast as shown.
func (in *Inbox) MarkShown(ctx context.Context, userID string, id int64) error {
	return in.store.MarkNotificationShown(ctx, userID, id)
}

// Policy returns the active policy.
func (in *Inbox) Policy() domain.NotificationPolicy {
	return in.policy
}

func toast(n domain.Notification) (title, body string, ok bool) {
	switch v := n.(type) {
	case domain.LevelUp:
		return "Level up!", fmt.Sprintf("You reached level %d.", v.NewLevel), true
	case domain.MissionCompleted:
		return "Mission complete", fmt.Sprintf("%s: +%d XP, +%d coins", v.Title, v.RewardXP, v.RewardCoins), true
	case domain.AchievementUnlocked:
		return "Achievement unlocked", strings.TrimSpace(v.Icon + " " + v.Name), true
	}
	return "", "", false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// isQuietHour reports whether t falls inside quiet hours.
func (in *Inbox) isQuietHour(t time.Time) bool {
	startHour, startMin := parseHHMM(in.policy.QuietStart)
	endHour, endMin := parseHHMM(in.policy.QuietEnd)

	minutes := t.Hour()*60 + t.Minute()
	start := startHour*60 + startMin
	end := endHour*60 + endMin

	if start == end {
		return false
	}
	if start > end {
		// Wraps midnight: 22:00 to 08:00
		return minutes >= start || minutes < end
	}
	return minutes >= start && minutes < end
}

// parseHHMM parses "HH:MM" into hour and minute.
func parseHHMM(s string) (int, int) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	return h, m
}
