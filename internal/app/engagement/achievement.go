package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/focusquest/focusquest/internal/app/ledger"
	"github.com/focusquest/focusquest/internal/domain"
	"github.com/focusquest/focusquest/internal/infra/metrics"
	"github.com/focusquest/focusquest/internal/infra/scheduler"
)

// Rewarder is the part of the ledger the evaluator reads facts from and
// grants rewards through.
type Rewarder interface {
	Get(ctx context.Context, userID string) (domain.RewardLedger, error)
	Grant(ctx context.Context, userID string, g ledger.Grant) domain.LevelChange
}

// MissionCounter reports completed missions.
type MissionCounter interface {
	CompletedCount(ctx context.Context, userID string) (int, error)
}

// StreakReader reports the current streak.
type StreakReader interface {
	Current(ctx context.Context, userID string) (domain.Streak, error)
}

// AchievementEvaluator unlocks achievements whose predicates hold.
// Checks for one user are serialized, so an achievement is unlocked and
// rewarded at most once even when several triggers race.
type AchievementEvaluator struct {
	store    domain.AchievementStore
	catalog  *Catalog
	ledger   Rewarder
	missions MissionCounter
	streaks  StreakReader
	pub      domain.Publisher
	users    *xsync.MapOf[string, *achievementUser]
	retry    *scheduler.RetryQueue
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time
}

type achievementUser struct {
	mu       sync.Mutex
	loaded   bool
	unlocked map[string]time.Time
	pending  map[string]time.Time // unlock rows the store has not accepted
}

// NewAchievementEvaluator wires the evaluator. pub may be nil.
func NewAchievementEvaluator(store domain.AchievementStore, catalog *Catalog, l Rewarder,
	missions MissionCounter, streaks StreakReader, pub domain.Publisher,
	storeTimeout time.Duration, retry scheduler.RetryConfig) *AchievementEvaluator {
	if pub == nil {
		pub = domain.PublisherFunc(func(domain.Notification) {})
	}
	if storeTimeout <= 0 {
		storeTimeout = 250 * time.Millisecond
	}
	return &AchievementEvaluator{
		store:    store,
		catalog:  catalog,
		ledger:   l,
		missions: missions,
		streaks:  streaks,
		pub:      pub,
		users:    xsync.NewMapOf[string, *achievementUser](),
		retry:    scheduler.NewRetryQueue(retry),
		timeout:  storeTimeout,
		log:      slog.Default().With("component", "achievements"),
		now:      time.Now,
	}
}

// CheckAll evaluates every locked achievement and unlocks those that hold.
// Unlock rewards can satisfy further predicates, so evaluation repeats until
// nothing new unlocks. Returns the IDs unlocked by this call.
func (e *AchievementEvaluator) CheckAll(ctx context.Context, userID string) []string {
	u := e.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := e.loadLocked(ctx, userID, u); err != nil {
		e.log.Warn("achievement check skipped", "user", userID, "err", err)
		return nil
	}

	var unlocked []string
	// Every pass unlocks at least one achievement, so this bound is never
	// reached by a terminating evaluation.
	for pass := 0; pass <= len(e.catalog.Achievements); pass++ {
		facts, err := e.facts(ctx, userID)
		if err != nil {
			e.log.Warn("achievement facts unavailable", "user", userID, "err", err)
			break
		}

		var batch []domain.AchievementDef
		for _, def := range e.catalog.Achievements {
			if _, done := u.unlocked[def.ID]; done {
				continue
			}
			if def.Predicate.Satisfied(facts) {
				batch = append(batch, def)
			}
		}
		if len(batch) == 0 {
			break
		}
		for _, def := range batch {
			if e.unlockLocked(ctx, userID, u, def) {
				unlocked = append(unlocked, def.ID)
			}
		}
	}
	return unlocked
}

// Unlocks returns the user's unlocks, newest first.
func (e *AchievementEvaluator) Unlocks(ctx context.Context, userID string) ([]domain.AchievementUnlock, error) {
	u := e.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := e.loadLocked(ctx, userID, u); err != nil {
		return nil, err
	}
	out := make([]domain.AchievementUnlock, 0, len(u.unlocked))
	for id, at := range u.unlocked {
		out = append(out, domain.AchievementUnlock{AchievementID: id, UnlockedAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.After(out[j].UnlockedAt)
		}
		return out[i].AchievementID < out[j].AchievementID
	})
	return out, nil
}

// Flush retries unlock rows the store rejected.
func (e *AchievementEvaluator) Flush(ctx context.Context) {
	for _, userID := range e.retry.DrainReady() {
		u := e.user(userID)
		u.mu.Lock()
		e.persistLocked(ctx, userID, u)
		u.mu.Unlock()
	}
	e.updatePending()
}

// Pending returns the number of users with unwritten unlocks.
func (e *AchievementEvaluator) Pending() int {
	return e.retry.Len()
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (e *AchievementEvaluator) user(userID string) *achievementUser {
	u, _ := e.users.LoadOrCompute(userID, func() *achievementUser {
		return &achievementUser{
			unlocked: make(map[string]time.Time),
			pending:  make(map[string]time.Time),
		}
	})
	return u
}

func (e *AchievementEvaluator) loadLocked(ctx context.Context, userID string, u *achievementUser) error {
	if u.loaded {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	rows, err := e.store.ListAchievementUnlocks(sctx, userID)
	if err != nil {
		metrics.StoreFailures.WithLabelValues("list_achievements").Inc()
		return fmt.Errorf("load unlocks %s: %w (%w)", userID, domain.ErrTransientStore, err)
	}
	for _, r := range rows {
		u.unlocked[r.AchievementID] = r.UnlockedAt
	}
	u.loaded = true
	return nil
}

func (e *AchievementEvaluator) facts(ctx context.Context, userID string) (domain.Facts, error) {
	l, err := e.ledger.Get(ctx, userID)
	if err != nil {
		return domain.Facts{}, err
	}
	f := domain.Facts{Level: l.Level, LifetimeXP: l.LifetimeXP}

	if n, err := e.missions.CompletedCount(ctx, userID); err == nil {
		f.MissionsCompleted = n
	} else {
		e.log.Debug("mission count unavailable", "user", userID, "err", err)
	}
	if s, err := e.streaks.Current(ctx, userID); err == nil {
		f.StreakDays = s.CurrentDays
	} else {
		e.log.Debug("streak unavailable", "user", userID, "err", err)
	}
	return f, nil
}

// unlockLocked records, announces and rewards one unlock. Returns false when
// the store reports the achievement was already unlocked elsewhere.
func (e *AchievementEvaluator) unlockLocked(ctx context.Context, userID string, u *achievementUser, def domain.AchievementDef) bool {
	at := e.now()
	u.unlocked[def.ID] = at

	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	isNew, err := e.store.UnlockAchievement(sctx, userID, def.ID, at)
	cancel()
	switch {
	case err != nil:
		u.pending[def.ID] = at
		entry := e.retry.Fail(userID, err)
		metrics.StoreFailures.WithLabelValues("unlock_achievement").Inc()
		e.updatePending()
		e.log.Warn("unlock write failed, will retry", "user", userID, "achievement", def.ID,
			"attempt", entry.Attempt, "err", err)
	case !isNew:
		return false
	}

	metrics.AchievementsUnlocked.WithLabelValues(def.ID).Inc()
	e.log.Info("achievement unlocked", "user", userID, "achievement", def.ID)
	e.pub.Publish(domain.AchievementUnlocked{
		UserID: userID, AchievementID: def.ID, Name: def.Name, Icon: def.Icon,
		RewardXP: def.RewardXP, RewardCoins: def.RewardCoins,
	})
	e.ledger.Grant(ctx, userID, ledger.Grant{
		XP: def.RewardXP, Coins: def.RewardCoins,
		Source: domain.XPAchievement, Reason: "achievement",
		RefType: "achievement", RefID: def.ID,
	})
	return true
}

func (e *AchievementEvaluator) persistLocked(ctx context.Context, userID string, u *achievementUser) {
	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	for id, at := range u.pending {
		if _, err := e.store.UnlockAchievement(sctx, userID, id, at); err != nil {
			e.retry.Fail(userID, err)
			metrics.StoreFailures.WithLabelValues("unlock_achievement").Inc()
			return
		}
		delete(u.pending, id)
	}
	e.retry.Succeed(userID)
}

func (e *AchievementEvaluator) updatePending() {
	metrics.PendingWrites.WithLabelValues("achievements").Set(float64(e.retry.Len()))
}
