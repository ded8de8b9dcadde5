package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/focusquest/focusquest/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "state.db")); os.IsNotExist(err) {
		t.Error("state.db should exist")
	}
}

func TestOpen_Ping(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := db.SaveLedger(ctx, domain.RewardLedger{UserID: "u1", Level: 4, Coins: 9}); err != nil {
		t.Fatalf("SaveLedger() error: %v", err)
	}
	db.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db2.Close()

	got, err := db2.GetLedger(ctx, "u1")
	if err != nil || got == nil {
		t.Fatalf("GetLedger() = %v, %v", got, err)
	}
	if got.Level != 4 || got.Coins != 9 {
		t.Errorf("ledger after reopen = %+v", got)
	}
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

func TestGetLedger_Missing(t *testing.T) {
	db := newTestDB(t)
	got, err := db.GetLedger(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetLedger() error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil ledger, got %+v", got)
	}
}

func TestSaveLedger_Upsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	l := domain.RewardLedger{UserID: "u1", Level: 1, CurrentXP: 500, LifetimeXP: 500, Coins: 10}
	if err := db.SaveLedger(ctx, l); err != nil {
		t.Fatalf("SaveLedger() error: %v", err)
	}
	l.Level, l.CurrentXP, l.LifetimeXP, l.Coins = 2, 100, 1100, 40
	if err := db.SaveLedger(ctx, l); err != nil {
		t.Fatalf("SaveLedger() update error: %v", err)
	}

	got, _ := db.GetLedger(ctx, "u1")
	if got.Level != 2 || got.CurrentXP != 100 || got.LifetimeXP != 1100 || got.Coins != 40 {
		t.Errorf("GetLedger() = %+v", got)
	}
}

func TestSaveLedger_RejectsNegativeCoins(t *testing.T) {
	db := newTestDB(t)
	err := db.SaveLedger(context.Background(), domain.RewardLedger{UserID: "u1", Level: 1, Coins: -1})
	if err == nil {
		t.Error("expected CHECK constraint to reject negative coins")
	}
}

func TestRewardHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	entries := []domain.RewardEntry{
		{UserID: "u1", Currency: domain.CurrencyXP, Amount: 100, Reason: "TICK", BalanceAfter: 100},
		{UserID: "u1", Currency: domain.CurrencyCoins, Amount: 25, Reason: "mission", RefType: "mission", RefID: "m1", BalanceAfter: 25},
		{UserID: "u2", Currency: domain.CurrencyXP, Amount: 7, Reason: "TICK", BalanceAfter: 7},
	}
	if err := db.AppendRewardEntries(ctx, entries); err != nil {
		t.Fatalf("AppendRewardEntries() error: %v", err)
	}

	got, err := db.ListRewardEntries(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListRewardEntries() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	// Newest first
	if got[0].Currency != domain.CurrencyCoins || got[0].RefID != "m1" {
		t.Errorf("first entry = %+v", got[0])
	}
}

// ─── Missions ───────────────────────────────────────────────────────────────

func TestInsertMissionProgress_InsertIfAbsent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rows := []domain.MissionProgress{
		{UserID: "u1", MissionID: "m1", MetricKey: "time-coding", Target: 60},
		{UserID: "u1", MissionID: "m2", MetricKey: "time", Target: 100},
	}
	n, err := db.InsertMissionProgress(ctx, rows)
	if err != nil || n != 2 {
		t.Fatalf("first insert = %d, %v", n, err)
	}

	if err := db.SaveMissionProgress(ctx, domain.MissionProgress{
		UserID: "u1", MissionID: "m1", MetricKey: "time-coding", Current: 30, Target: 60,
	}); err != nil {
		t.Fatalf("SaveMissionProgress() error: %v", err)
	}

	n, err = db.InsertMissionProgress(ctx, rows)
	if err != nil || n != 0 {
		t.Fatalf("second insert = %d, %v (want 0)", n, err)
	}

	got, err := db.ListMissionProgress(ctx, "u1")
	if err != nil {
		t.Fatalf("ListMissionProgress() error: %v", err)
	}
	if len(got) != 2 || got[0].MissionID != "m1" || got[0].Current != 30 {
		t.Errorf("bootstrap overwrote progress: %+v", got)
	}
}

func TestSaveMissionProgress_NeverDecreases(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := domain.MissionProgress{UserID: "u1", MissionID: "m1", MetricKey: "k", Current: 50, Target: 60}
	_ = db.SaveMissionProgress(ctx, p)
	p.Current = 20
	_ = db.SaveMissionProgress(ctx, p)

	got, _ := db.ListMissionProgress(ctx, "u1")
	if len(got) != 1 || got[0].Current != 50 {
		t.Errorf("expected progress to stay 50, got %+v", got)
	}
}

// ─── Achievements ───────────────────────────────────────────────────────────

func TestUnlockAchievement_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	isNew, err := db.UnlockAchievement(ctx, "u1", "level_5", now)
	if err != nil || !isNew {
		t.Fatalf("first unlock = %v, %v", isNew, err)
	}
	isNew, err = db.UnlockAchievement(ctx, "u1", "level_5", now.Add(time.Hour))
	if err != nil || isNew {
		t.Fatalf("second unlock = %v, %v (want false)", isNew, err)
	}
	// Same achievement for another user is independent
	if isNew, _ := db.UnlockAchievement(ctx, "u2", "level_5", now); !isNew {
		t.Error("unlock for u2 should be new")
	}

	unlocks, err := db.ListAchievementUnlocks(ctx, "u1")
	if err != nil || len(unlocks) != 1 {
		t.Fatalf("ListAchievementUnlocks() = %v, %v", unlocks, err)
	}
	if unlocks[0].UnlockedAt.Unix() != now.Unix() {
		t.Error("unlock timestamp should not change on repeat")
	}
}

// ─── Engagement KV ──────────────────────────────────────────────────────────

func TestEngagementKV(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if v, err := db.GetEngagement(ctx, "u1", "streak_current"); err != nil || v != "" {
		t.Fatalf("missing key = %q, %v", v, err)
	}
	if err := db.SetEngagement(ctx, "u1", map[string]string{"streak_current": "3", "streak_longest": "5"}); err != nil {
		t.Fatalf("SetEngagement() error: %v", err)
	}
	if err := db.SetEngagement(ctx, "u1", map[string]string{"streak_current": "4"}); err != nil {
		t.Fatalf("SetEngagement() update error: %v", err)
	}
	if v, _ := db.GetEngagement(ctx, "u1", "streak_current"); v != "4" {
		t.Errorf("streak_current = %q, want 4", v)
	}
	if v, _ := db.GetEngagement(ctx, "u2", "streak_current"); v != "" {
		t.Errorf("u2 should not see u1 keys, got %q", v)
	}
}

// ─── Inventory ──────────────────────────────────────────────────────────────

func TestInventory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	owned, err := db.AddInventory(ctx, "u1", "boost_2x", 2)
	if err != nil || owned != 2 {
		t.Fatalf("AddInventory() = %d, %v", owned, err)
	}
	if owned, _ = db.AddInventory(ctx, "u1", "boost_2x", 1); owned != 3 {
		t.Errorf("expected 3 after second add, got %d", owned)
	}

	for want := 2; want >= 0; want-- {
		left, err := db.ConsumeInventory(ctx, "u1", "boost_2x")
		if err != nil || left != want {
			t.Fatalf("ConsumeInventory() = %d, %v, want %d", left, err, want)
		}
	}
	if _, err := db.ConsumeInventory(ctx, "u1", "boost_2x"); !errors.Is(err, domain.ErrItemNotOwned) {
		t.Errorf("expected ErrItemNotOwned, got %v", err)
	}

	items, _ := db.ListInventory(ctx, "u1")
	if len(items) != 0 {
		t.Errorf("empty holdings should not be listed: %+v", items)
	}
}

// ─── Notifications ──────────────────────────────────────────────────────────

func TestNotifications(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	id, err := db.InsertNotification(ctx, domain.InboxNotification{
		UserID: "u1", Type: domain.KindLevelUp, Title: "Level 2", Body: "You reached level 2", CreatedAt: now,
	})
	if err != nil || id == 0 {
		t.Fatalf("InsertNotification() = %d, %v", id, err)
	}
	_, _ = db.InsertNotification(ctx, domain.InboxNotification{
		UserID: "u2", Type: domain.KindLevelUp, Title: "x", Body: "y", CreatedAt: now,
	})

	count, err := db.NotificationCountSince(ctx, "u1", now.Add(-time.Minute))
	if err != nil || count != 1 {
		t.Fatalf("NotificationCountSince() = %d, %v", count, err)
	}

	pending, _ := db.ListPendingNotifications(ctx, "u1", 10)
	if len(pending) != 1 || pending[0].Type != domain.KindLevelUp {
		t.Fatalf("pending = %+v", pending)
	}

	if err := db.MarkNotificationShown(ctx, "u1", id); err != nil {
		t.Fatalf("MarkNotificationShown() error: %v", err)
	}
	if err := db.MarkNotificationShown(ctx, "u2", id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("other user marking should be ErrNotFound, got %v", err)
	}
	pending, _ = db.ListPendingNotifications(ctx, "u1", 10)
	if len(pending) != 0 {
		t.Errorf("expected no pending after MarkShown, got %d", len(pending))
	}
}
