// Package events runs contextual events: short challenges with their own
// reward budget. Each user has one event slot; both the periodic generator
// and the probabilistic tick trigger go through the slot's lock, so a user
// never has two live events.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/focusquest/focusquest/internal/app/ledger"
	"github.com/focusquest/focusquest/internal/domain"
	"github.com/focusquest/focusquest/internal/infra/metrics"
)

// Trigger labels for metrics.
const (
	TriggerPeriodic = "periodic"
	TriggerTick     = "tick"
)

// Config tunes event generation.
type Config struct {
	Interval   time.Duration // periodic generator interval
	Cooldown   time.Duration // minimum time since the last resolution for the tick trigger
	Chance     float64       // tick trigger probability
	EpicChance float64
	Seed       uint64 // 0 picks a time-based seed
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:   180 * time.Second,
		Cooldown:   300 * time.Second,
		Chance:     0.40,
		EpicChance: 0.15,
	}
}

// Rewarder grants event rewards.
type Rewarder interface {
	Grant(ctx context.Context, userID string, g ledger.Grant) domain.LevelChange
}

type slot struct {
	mu           sync.Mutex
	active       *domain.ContextualEvent
	critical     bool
	lastResolved time.Time
	category     string
	cancel       context.CancelFunc // periodic generator, nil when stopped
}

// Scheduler owns the per-user event slots.
type Scheduler struct {
	cfg       Config
	factory   *Factory
	ledger    Rewarder
	pub       domain.Publisher
	onVictory func(ctx context.Context, userID string)
	users     *xsync.MapOf[string, *slot]
	base      context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
	log       *slog.Logger
	now       func() time.Time
}

// NewScheduler creates a scheduler. onVictory runs after a victory reward is
// granted (the achievement re-check); it and pub may be nil.
func NewScheduler(cfg Config, l Rewarder, pub domain.Publisher, onVictory func(ctx context.Context, userID string)) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	if pub == nil {
		pub = domain.PublisherFunc(func(domain.Notification) {})
	}
	if onVictory == nil {
		onVictory = func(context.Context, string) {}
	}
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:       cfg,
		factory:   NewFactory(cfg.Seed, cfg.EpicChance),
		ledger:    l,
		pub:       pub,
		onVictory: onVictory,
		users:     xsync.NewMapOf[string, *slot](),
		base:      base,
		stop:      stop,
		log:       slog.Default().With("component", "events"),
		now:       time.Now,
	}
}

// ─── Triggers ───────────────────────────────────────────────────────────────

// StartUser starts the user's periodic generator, replacing any running one.
func (s *Scheduler) StartUser(userID string) {
	sl := s.slot(userID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.cancel != nil {
		sl.cancel()
	}
	ctx, cancel := context.WithCancel(s.base)
	sl.cancel = cancel

	s.wg.Add(1)
	go s.generate(ctx, userID)
	s.log.Debug("generator started", "user", userID, "interval", s.cfg.Interval)
}

// StopUser stops the user's generator. A live event stays in the slot and
// can still be advanced or resolved.
func (s *Scheduler) StopUser(userID string) {
	sl, ok := s.users.Load(userID)
	if !ok {
		return
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.cancel != nil {
		sl.cancel()
		sl.cancel = nil
	}
}

func (s *Scheduler) generate(ctx context.Context, userID string) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.firePeriodic(ctx, userID)
		}
	}
}

// firePeriodic always produces an event; a live one times out first.
func (s *Scheduler) firePeriodic(ctx context.Context, userID string) {
	sl := s.slot(userID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	// StopUser may have won the race with this tick.
	if ctx.Err() != nil {
		return
	}
	if sl.active != nil {
		s.completeLocked(userID, sl, domain.OutcomeTimeout)
	}
	s.spawnLocked(userID, sl, TriggerPeriodic)
}

// MaybeTrigger runs the per-tick trigger: it fires only when the slot is
// empty, the cooldown since the last resolution has passed and the chance
// roll succeeds. category also becomes the bias for later periodic events.
func (s *Scheduler) MaybeTrigger(ctx context.Context, userID, category string) (domain.ContextualEvent, bool) {
	sl := s.slot(userID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if category != "" {
		sl.category = category
	}
	if sl.active != nil {
		return domain.ContextualEvent{}, false
	}
	if !sl.lastResolved.IsZero() && s.now().Sub(sl.lastResolved) < s.cfg.Cooldown {
		return domain.ContextualEvent{}, false
	}
	if !s.factory.Roll(s.cfg.Chance) {
		return domain.ContextualEvent{}, false
	}
	return s.spawnLocked(userID, sl, TriggerTick), true
}

// ─── Transitions ────────────────────────────────────────────────────────────

// Advance adds progress to the user's active event. Returns false when
// eventID is not the live event. Reaching the target is a victory.
func (s *Scheduler) Advance(ctx context.Context, userID, eventID string, delta int64) bool {
	if delta <= 0 {
		return false
	}
	sl, ok := s.users.Load(userID)
	if !ok {
		return false
	}

	sl.mu.Lock()
	ev := sl.active
	if ev == nil || ev.ID != eventID || ev.Terminal() {
		sl.mu.Unlock()
		return false
	}

	ev.Progress += delta
	if ev.Progress > ev.Target {
		ev.Progress = ev.Target
	}
	ev.Phase = domain.PhaseInProgress

	if ev.Progress >= ev.Target {
		done := s.completeLocked(userID, sl, domain.OutcomeVictory)
		sl.mu.Unlock()
		s.reward(ctx, done)
		return true
	}

	s.publish(userID, domain.PhaseInProgress, *ev)
	if !sl.critical && isCritical(ev.Kind, ev.Progress, ev.Target) {
		sl.critical = true
		s.publish(userID, domain.PhaseCritical, *ev)
	}
	sl.mu.Unlock()
	return true
}

// Resolve ends the user's active event with outcome. Only VICTORY pays
// out. Returns false when eventID is not the live event.
func (s *Scheduler) Resolve(ctx context.Context, userID, eventID string, outcome domain.Outcome) bool {
	if _, err := domain.ParseOutcome(string(outcome)); err != nil {
		return false
	}
	sl, ok := s.users.Load(userID)
	if !ok {
		return false
	}

	sl.mu.Lock()
	ev := sl.active
	if ev == nil || ev.ID != eventID || ev.Terminal() {
		sl.mu.Unlock()
		return false
	}
	done := s.completeLocked(userID, sl, outcome)
	sl.mu.Unlock()

	if outcome == domain.OutcomeVictory {
		s.reward(ctx, done)
	}
	return true
}

// Active returns a snapshot of the user's live event.
func (s *Scheduler) Active(userID string) (domain.ContextualEvent, bool) {
	sl, ok := s.users.Load(userID)
	if !ok {
		return domain.ContextualEvent{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.active == nil {
		return domain.ContextualEvent{}, false
	}
	return *sl.active, true
}

// Shutdown stops every generator and waits for them to exit. Live events
// are dropped with the process and never paid out.
func (s *Scheduler) Shutdown() {
	s.stop()
	s.users.Range(func(_ string, sl *slot) bool {
		sl.mu.Lock()
		sl.cancel = nil
		sl.mu.Unlock()
		return true
	})
	s.wg.Wait()
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (s *Scheduler) slot(userID string) *slot {
	sl, _ := s.users.LoadOrCompute(userID, func() *slot { return &slot{} })
	return sl
}

// spawnLocked fills the empty slot with a started event.
func (s *Scheduler) spawnLocked(userID string, sl *slot, trigger string) domain.ContextualEvent {
	now := s.now()
	ev := s.factory.New(userID, sl.category, now)
	ev.Phase = domain.PhaseStarted
	ev.StartedAt = now
	sl.active = &ev
	sl.critical = false

	metrics.EventsGenerated.WithLabelValues(string(ev.Kind), trigger).Inc()
	metrics.EventsActive.Inc()
	s.log.Info("event started", "user", userID, "event", ev.ID, "kind", ev.Kind,
		"epic", ev.IsEpic, "trigger", trigger)
	s.publish(userID, domain.PhaseStarted, ev)
	return ev
}

// completeLocked moves the live event to COMPLETED and clears the slot.
func (s *Scheduler) completeLocked(userID string, sl *slot, outcome domain.Outcome) domain.ContextualEvent {
	ev := *sl.active
	now := s.now()
	ev.Phase = domain.PhaseCompleted
	ev.Outcome = outcome
	ev.EndedAt = now

	sl.active = nil
	sl.critical = false
	sl.lastResolved = now

	metrics.EventsResolved.WithLabelValues(string(outcome)).Inc()
	metrics.EventsActive.Dec()
	s.log.Info("event completed", "user", userID, "event", ev.ID, "outcome", outcome)
	s.publish(userID, domain.PhaseCompleted, ev)
	return ev
}

func (s *Scheduler) reward(ctx context.Context, ev domain.ContextualEvent) {
	s.ledger.Grant(ctx, ev.UserID, ledger.Grant{
		XP: ev.XPReward, Coins: ev.CoinReward,
		Source: domain.XPEvent, Reason: "event",
		RefType: "event", RefID: ev.ID,
	})
	s.onVictory(ctx, ev.UserID)
}

func (s *Scheduler) publish(userID string, phase domain.EventPhase, ev domain.ContextualEvent) {
	s.pub.Publish(domain.EventLifecycle{UserID: userID, Phase: phase, Event: ev})
}
