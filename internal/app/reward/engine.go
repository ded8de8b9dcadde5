// Package reward is the reward engine facade. It turns activity ticks into
// progression by driving the subsystems in a fixed order:
//
//	missions → ledger → achievements → events
//
// and exposes the UI commands. Each subsystem owns its per-user state; the
// engine only sequences calls between them.
package reward

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/focusquest/focusquest/internal/app/engagement"
	"github.com/focusquest/focusquest/internal/app/events"
	"github.com/focusquest/focusquest/internal/app/ledger"
	"github.com/focusquest/focusquest/internal/app/shop"
	"github.com/focusquest/focusquest/internal/domain"
	"github.com/focusquest/focusquest/internal/infra/anomaly"
	"github.com/focusquest/focusquest/internal/infra/metrics"
	"github.com/focusquest/focusquest/internal/infra/scheduler"
)

// Store is everything the engine persists.
type Store interface {
	domain.LedgerStore
	domain.MissionStore
	domain.AchievementStore
	domain.EngagementStore
	domain.InventoryStore
}

// Options tunes the engine.
type Options struct {
	XPPerTick       int64         // XP for one productive tick before boosts
	EventCheckEvery int           // run the probabilistic event trigger every Nth tick
	FlushInterval   time.Duration // retry cadence for pending store writes
	StoreTimeout    time.Duration
	CacheSize       int
	Retry           scheduler.RetryConfig
	Events          events.Config
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		XPPerTick:       1,
		EventCheckEvery: 10,
		FlushInterval:   5 * time.Second,
		StoreTimeout:    250 * time.Millisecond,
		CacheSize:       1024,
		Retry:           scheduler.DefaultRetryConfig(),
		Events:          events.DefaultConfig(),
	}
}

// TickResult reports what one tick changed.
type TickResult struct {
	Metrics           []string                `json:"metrics"`
	Category          string                  `json:"category"`
	CompletedMissions []string                `json:"completed_missions,omitempty"`
	XP                domain.LevelChange      `json:"xp"`
	Unlocked          []string                `json:"unlocked,omitempty"`
	Event             *domain.ContextualEvent `json:"event,omitempty"`
}

type session struct {
	mu           sync.Mutex
	bootstrapped bool
	monitoring   bool
	ticks        int64
	day          string
	apps         map[string]struct{}
}

// Engine is the reward engine facade.
type Engine struct {
	opts         Options
	catalog      *engagement.Catalog
	router       *engagement.MetricRouter
	ledger       *ledger.Service
	missions     *engagement.MissionTracker
	streaks      *engagement.StreakService
	achievements *engagement.AchievementEvaluator
	events       *events.Scheduler
	shop         *shop.Service
	pub          domain.Publisher
	pace         *anomaly.Detector
	sessions     *xsync.MapOf[string, *session]
	log          *slog.Logger
	now          func() time.Time
}

// New wires the engine over a store and catalog. pub receives every
// notification; it may be nil.
func New(store Store, catalog *engagement.Catalog, pub domain.Publisher, opts Options) (*Engine, error) {
	def := DefaultOptions()
	if opts.XPPerTick <= 0 {
		opts.XPPerTick = def.XPPerTick
	}
	if opts.EventCheckEvery <= 0 {
		opts.EventCheckEvery = def.EventCheckEvery
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = def.FlushInterval
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	if pub == nil {
		pub = domain.PublisherFunc(func(domain.Notification) {})
	}

	l, err := ledger.NewService(store, pub, ledger.Options{
		CacheSize: opts.CacheSize, StoreTimeout: opts.StoreTimeout, Retry: opts.Retry,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	e := &Engine{
		opts:     opts,
		catalog:  catalog,
		router:   engagement.NewMetricRouter(catalog.Apps),
		ledger:   l,
		missions: engagement.NewMissionTracker(store, catalog, opts.StoreTimeout, opts.Retry),
		streaks:  engagement.NewStreakService(store, opts.StoreTimeout),
		shop:     shop.NewService(store, catalog, l, opts.StoreTimeout),
		pub:      pub,
		pace:     anomaly.NewDetector(anomaly.DefaultConfig()),
		sessions: xsync.NewMapOf[string, *session](),
		log:      slog.Default().With("component", "engine"),
		now:      time.Now,
	}
	e.achievements = engagement.NewAchievementEvaluator(store, catalog, l, e.missions, e.streaks, pub,
		opts.StoreTimeout, opts.Retry)
	e.events = events.NewScheduler(opts.Events, l, pub, func(ctx context.Context, userID string) {
		e.achievements.CheckAll(ctx, userID)
	})
	return e, nil
}

// ─── Tick Pipeline ──────────────────────────────────────────────────────────

// HandleTick runs one activity tick through the pipeline. Store trouble is
// absorbed by the subsystems; only a malformed tick is an error.
func (e *Engine) HandleTick(ctx context.Context, tick domain.Tick) (TickResult, error) {
	if tick.UserID == "" {
		return TickResult{}, fmt.Errorf("tick without user: %w", domain.ErrInvalidTick)
	}
	start := time.Now()
	if tick.At.IsZero() {
		tick.At = e.now()
	}
	userID := tick.UserID

	sess := e.session(userID)
	sess.mu.Lock()
	e.bootstrapLocked(ctx, userID, sess)
	sess.ticks++
	checkEvents := sess.ticks%int64(e.opts.EventCheckEvery) == 0
	firstApp := e.markAppLocked(sess, tick)
	sess.mu.Unlock()

	res := TickResult{
		Metrics:  e.router.Route(tick.App(), tick.Productive),
		Category: e.router.Category(tick.App()),
	}

	// 1. Missions
	for _, key := range res.Metrics {
		res.CompletedMissions = append(res.CompletedMissions, e.missions.RecordMetric(ctx, userID, key, 1)...)
	}
	if firstApp {
		res.CompletedMissions = append(res.CompletedMissions,
			e.missions.RecordMetric(ctx, userID, engagement.MetricAppsUsed, 1)...)
	}
	defs := e.announceMissions(userID, res.CompletedMissions)

	// 2. Ledger: tick XP, then mission rewards
	var xp int64
	if tick.Productive {
		xp = int64(math.Round(float64(e.opts.XPPerTick) * e.shop.Multiplier(userID, tick.At)))
		res.XP = e.ledger.AwardXP(ctx, userID, xp, domain.XPTick)
		if _, err := e.streaks.RecordActivity(ctx, userID, tick.At); err != nil {
			e.log.Warn("streak update failed", "user", userID, "err", err)
		}
	}
	e.rewardMissions(ctx, userID, defs)

	// 3. Achievements
	res.Unlocked = e.achievements.CheckAll(ctx, userID)

	// 4. Events
	if checkEvents {
		if ev, ok := e.events.MaybeTrigger(ctx, userID, res.Category); ok {
			res.Event = &ev
		}
	}

	if r := e.pace.Analyze(anomaly.TickSample{UserID: userID, At: tick.At, XP: xp}); r.IsAnomaly {
		metrics.TickAnomalies.WithLabelValues(r.Type.String()).Inc()
		e.log.Warn("unusual tick pace", "user", userID, "type", r.Type.String(),
			"severity", r.Severity.String(), "detail", r.Description)
	}

	metrics.TicksProcessed.WithLabelValues(strconv.FormatBool(tick.Productive)).Inc()
	metrics.TickLatency.Observe(time.Since(start).Seconds())
	return res, nil
}

// Run consumes ticks until ctx is cancelled or ticks is closed, flushing
// pending store writes every FlushInterval.
func (e *Engine) Run(ctx context.Context, ticks <-chan domain.Tick) error {
	flush := time.NewTicker(e.opts.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			e.finalFlush()
			return nil
		case t, ok := <-ticks:
			if !ok {
				e.finalFlush()
				return nil
			}
			if _, err := e.HandleTick(ctx, t); err != nil {
				e.log.Warn("tick rejected", "err", err)
			}
		case <-flush.C:
			e.Flush(ctx)
		}
	}
}

// FlushStats summarizes one flush pass.
type FlushStats struct {
	Flushed int `json:"flushed"`
	Pending int `json:"pending"`
}

// Flush retries pending writes in every subsystem. Mission crossings found
// while replaying deferred progress are rewarded here.
func (e *Engine) Flush(ctx context.Context) FlushStats {
	flushed, _ := e.ledger.Flush(ctx)
	for userID, done := range e.missions.Flush(ctx) {
		defs := e.announceMissions(userID, done)
		e.rewardMissions(ctx, userID, defs)
		e.achievements.CheckAll(ctx, userID)
	}
	e.achievements.Flush(ctx)
	return FlushStats{Flushed: flushed, Pending: e.Pending()}
}

// Pending returns the number of (user, component) writes the store has not
// accepted yet.
func (e *Engine) Pending() int {
	return e.ledger.Pending() + e.missions.Pending() + e.achievements.Pending()
}

// Shutdown stops every event generator.
func (e *Engine) Shutdown() {
	e.events.Shutdown()
}

// Ledger exposes the ledger for read-only consumers.
func (e *Engine) Ledger() *ledger.Service { return e.ledger }

// Catalog returns the catalog the engine runs on.
func (e *Engine) Catalog() *engagement.Catalog { return e.catalog }

// ─── Internals ──────────────────────────────────────────────────────────────

func (e *Engine) session(userID string) *session {
	s, _ := e.sessions.LoadOrCompute(userID, func() *session {
		return &session{apps: make(map[string]struct{})}
	})
	return s
}

// bootstrapLocked creates the ledger and mission rows once per process.
func (e *Engine) bootstrapLocked(ctx context.Context, userID string, s *session) {
	if s.bootstrapped {
		return
	}
	if _, err := e.ledger.Create(ctx, userID); err != nil {
		e.log.Warn("ledger create failed", "user", userID, "err", err)
	}
	if err := e.missions.Bootstrap(ctx, userID); err != nil {
		e.log.Warn("mission bootstrap failed, will retry", "user", userID, "err", err)
		return
	}
	s.bootstrapped = true
}

// markAppLocked records the tick's app for today. Returns true the first
// time the app is seen on this day.
func (e *Engine) markAppLocked(s *session, tick domain.Tick) bool {
	app := tick.App()
	if app == "" {
		return false
	}
	day := tick.At.Format(time.DateOnly)
	if s.day != day {
		s.day = day
		s.apps = make(map[string]struct{})
	}
	if _, seen := s.apps[app]; seen {
		return false
	}
	s.apps[app] = struct{}{}
	return true
}

// announceMissions publishes MissionCompleted for each crossing and returns
// the definitions to reward.
func (e *Engine) announceMissions(userID string, ids []string) []domain.MissionDef {
	defs := make([]domain.MissionDef, 0, len(ids))
	for _, id := range ids {
		def, ok := e.catalog.Mission(id)
		if !ok {
			e.log.Warn("completed mission missing from catalog", "user", userID, "mission", id)
			continue
		}
		e.pub.Publish(domain.MissionCompleted{
			UserID: userID, MissionID: def.ID, Title: def.Title,
			RewardXP: def.RewardXP, RewardCoins: def.RewardCoins,
		})
		defs = append(defs, def)
	}
	return defs
}

func (e *Engine) rewardMissions(ctx context.Context, userID string, defs []domain.MissionDef) {
	for _, def := range defs {
		e.ledger.Grant(ctx, userID, ledger.Grant{
			XP: def.RewardXP, Coins: def.RewardCoins,
			Source: domain.XPMission, Reason: "mission",
			RefType: "mission", RefID: def.ID,
		})
	}
}

func (e *Engine) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stats := e.Flush(ctx)
	if stats.Pending > 0 {
		e.log.Warn("pending writes left at shutdown", "pending", stats.Pending)
	}
}
