package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/focusquest/focusquest/internal/app/ledger"
	"github.com/focusquest/focusquest/internal/domain"
)

// ─── Test Doubles ───────────────────────────────────────────────────────────

type grantRecorder struct {
	mu     sync.Mutex
	grants []ledger.Grant
}

func (g *grantRecorder) Grant(_ context.Context, _ string, gr ledger.Grant) domain.LevelChange {
	g.mu.Lock()
	g.grants = append(g.grants, gr)
	g.mu.Unlock()
	return domain.LevelChange{}
}

func (g *grantRecorder) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.grants)
}

type lifecycleRecorder struct {
	mu     sync.Mutex
	phases []domain.EventLifecycle
}

func (r *lifecycleRecorder) Publish(n domain.Notification) {
	if ev, ok := n.(domain.EventLifecycle); ok {
		r.mu.Lock()
		r.phases = append(r.phases, ev)
		r.mu.Unlock()
	}
}

func (r *lifecycleRecorder) count(phase domain.EventPhase) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.phases {
		if p.Phase == phase {
			n++
		}
	}
	return n
}

func testScheduler(t *testing.T, cfg Config) (*Scheduler, *grantRecorder, *lifecycleRecorder) {
	t.Helper()
	if cfg.Seed == 0 {
		cfg.Seed = 7
	}
	grants := &grantRecorder{}
	pub := &lifecycleRecorder{}
	s := NewScheduler(cfg, grants, pub, nil)
	t.Cleanup(s.Shutdown)
	return s, grants, pub
}

// install puts ev into the user's slot as a started event.
func install(s *Scheduler, userID string, ev domain.ContextualEvent) {
	sl := s.slot(userID)
	sl.mu.Lock()
	ev.Phase = domain.PhaseStarted
	sl.active = &ev
	sl.critical = false
	sl.mu.Unlock()
}

func bossEvent(userID string) domain.ContextualEvent {
	b := ComputeBudget(domain.EventBossEncounter, false)
	return domain.ContextualEvent{
		ID: "boss-1", UserID: userID, Kind: domain.EventBossEncounter,
		Target: b.Target, XPReward: b.XP, CoinReward: b.Coins,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Factory Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestComputeBudget_Boss(t *testing.T) {
	normal := ComputeBudget(domain.EventBossEncounter, false)
	if normal != (Budget{Target: 200, XP: 350, Coins: 150}) {
		t.Errorf("normal boss = %+v, want 200/350/150", normal)
	}
	epic := ComputeBudget(domain.EventBossEncounter, true)
	if epic != (Budget{Target: 300, XP: 700, Coins: 300}) {
		t.Errorf("epic boss = %+v, want 300/700/300", epic)
	}
}

func TestComputeReward_AllKinds(t *testing.T) {
	for _, kind := range domain.AllEventKinds {
		target := ComputeTarget(kind)
		if target <= 0 {
			t.Errorf("%s: target = %d", kind, target)
			continue
		}
		xp, coins := ComputeReward(kind, target)
		if xp <= 0 || coins <= 0 {
			t.Errorf("%s: reward = %d xp, %d coins", kind, xp, coins)
		}
		// Linear in target plus a flat base.
		xp2, _ := ComputeReward(kind, target*2)
		if xp2 <= xp {
			t.Errorf("%s: reward does not grow with target (%d -> %d)", kind, xp, xp2)
		}
	}
}

func TestSelectKind_CategoryBias(t *testing.T) {
	f := NewFactory(42, 0.15)
	const draws = 10000

	counts := map[domain.EventKind]int{}
	for i := 0; i < draws; i++ {
		counts[f.SelectKind("coding")]++
	}
	coding := counts[domain.EventBugStorm] + counts[domain.EventBossEncounter]
	if coding < draws/2 {
		t.Errorf("coding context drew %d bug_storm/boss of %d", coding, draws)
	}

	counts = map[domain.EventKind]int{}
	for i := 0; i < draws; i++ {
		counts[f.SelectKind("underwater-basket-weaving")]++
	}
	for _, kind := range domain.AllEventKinds {
		if counts[kind] < draws/14 {
			t.Errorf("flat distribution drew %s only %d times", kind, counts[kind])
		}
	}
}

func TestRollRarity_Rate(t *testing.T) {
	f := NewFactory(99, 0.15)
	epic := 0
	for i := 0; i < 10000; i++ {
		if f.RollRarity() {
			epic++
		}
	}
	if epic < 1200 || epic > 1800 {
		t.Errorf("epic draws = %d of 10000, want about 1500", epic)
	}
}

func TestFactory_Deterministic(t *testing.T) {
	a, b := NewFactory(5, 0.15), NewFactory(5, 0.15)
	for i := 0; i < 100; i++ {
		if ka, kb := a.SelectKind("browsing"), b.SelectKind("browsing"); ka != kb {
			t.Fatalf("draw %d differs: %s vs %s", i, ka, kb)
		}
	}
}

func TestFactory_NewPrecomputesReward(t *testing.T) {
	ev := NewFactory(1, 0).New("u1", "coding", time.Now())
	want := ComputeBudget(ev.Kind, false)
	if ev.Target != want.Target || ev.XPReward != want.XP || ev.CoinReward != want.Coins {
		t.Errorf("event budget = %d/%d/%d, want %+v", ev.Target, ev.XPReward, ev.CoinReward, want)
	}
	if ev.ID == "" || ev.Phase != domain.PhaseGenerated || ev.IsEpic {
		t.Errorf("event = %+v", ev)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Trigger Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestMaybeTrigger_OnlyWhenSlotEmpty(t *testing.T) {
	s, _, _ := testScheduler(t, Config{Chance: 1})
	ctx := context.Background()

	ev, ok := s.MaybeTrigger(ctx, "u1", "coding")
	if !ok || ev.Phase != domain.PhaseStarted {
		t.Fatalf("first trigger = %+v, %v", ev, ok)
	}
	if _, ok := s.MaybeTrigger(ctx, "u1", "coding"); ok {
		t.Error("second trigger fired while an event is live")
	}
	active, ok := s.Active("u1")
	if !ok || active.ID != ev.ID {
		t.Errorf("active = %+v, %v", active, ok)
	}
}

func TestMaybeTrigger_ChanceZero(t *testing.T) {
	s, _, _ := testScheduler(t, Config{Chance: 0})
	for i := 0; i < 100; i++ {
		if _, ok := s.MaybeTrigger(context.Background(), "u1", ""); ok {
			t.Fatal("trigger fired with zero chance")
		}
	}
}

func TestMaybeTrigger_Cooldown(t *testing.T) {
	s, _, _ := testScheduler(t, Config{Chance: 1, Cooldown: 300 * time.Second})
	ctx := context.Background()
	clock := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	ev, _ := s.MaybeTrigger(ctx, "u1", "")
	s.Resolve(ctx, "u1", ev.ID, domain.OutcomeFled)

	clock = clock.Add(299 * time.Second)
	if _, ok := s.MaybeTrigger(ctx, "u1", ""); ok {
		t.Error("trigger fired inside the cooldown")
	}
	clock = clock.Add(time.Second)
	if _, ok := s.MaybeTrigger(ctx, "u1", ""); !ok {
		t.Error("trigger should fire once the cooldown has passed")
	}
}

func TestPeriodic_ReplacesWithTimeout(t *testing.T) {
	s, grants, pub := testScheduler(t, Config{Interval: 5 * time.Millisecond})

	s.StartUser("u1")
	deadline := time.Now().Add(2 * time.Second)
	for pub.count(domain.PhaseStarted) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.StopUser("u1")

	started := pub.count(domain.PhaseStarted)
	if started < 3 {
		t.Fatalf("periodic generator started %d events", started)
	}
	if completed := pub.count(domain.PhaseCompleted); completed != started-1 {
		t.Errorf("completed = %d, want %d (every replaced event times out)", completed, started-1)
	}
	if grants.count() != 0 {
		t.Error("timed out events must not pay out")
	}
	if _, ok := s.Active("u1"); !ok {
		t.Error("stopping the generator must leave the live event in place")
	}
}

func TestAtMostOneActiveEvent(t *testing.T) {
	var live, maxLive atomic.Int64
	pub := domain.PublisherFunc(func(n domain.Notification) {
		ev, ok := n.(domain.EventLifecycle)
		if !ok {
			return
		}
		switch ev.Phase {
		case domain.PhaseStarted:
			if v := live.Add(1); v > maxLive.Load() {
				maxLive.Store(v)
			}
		case domain.PhaseCompleted:
			live.Add(-1)
		}
	})
	s := NewScheduler(Config{Interval: time.Millisecond, Chance: 1, Seed: 3}, &grantRecorder{}, pub, nil)
	defer s.Shutdown()

	s.StartUser("u1")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if ev, ok := s.MaybeTrigger(context.Background(), "u1", "coding"); ok && j%3 == 0 {
					s.Resolve(context.Background(), "u1", ev.ID, domain.OutcomeDefeat)
				}
			}
		}()
	}
	wg.Wait()

	if maxLive.Load() > 1 {
		t.Errorf("observed %d live events for one user", maxLive.Load())
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Transition Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestResolve_RewardOnlyOnVictory(t *testing.T) {
	var rechecks atomic.Int64
	grants := &grantRecorder{}
	s := NewScheduler(Config{Seed: 1}, grants, nil, func(context.Context, string) { rechecks.Add(1) })
	defer s.Shutdown()
	ctx := context.Background()

	for _, outcome := range []domain.Outcome{domain.OutcomeDefeat, domain.OutcomeFled, domain.OutcomeTimeout} {
		install(s, "u1", bossEvent("u1"))
		if !s.Resolve(ctx, "u1", "boss-1", outcome) {
			t.Fatalf("resolve %s rejected", outcome)
		}
	}
	if grants.count() != 0 || rechecks.Load() != 0 {
		t.Fatalf("non-victory outcomes paid out: %d grants", grants.count())
	}

	install(s, "u1", bossEvent("u1"))
	if !s.Resolve(ctx, "u1", "boss-1", domain.OutcomeVictory) {
		t.Fatal("victory rejected")
	}
	if s.Resolve(ctx, "u1", "boss-1", domain.OutcomeVictory) {
		t.Error("second resolve of the same event accepted")
	}
	if grants.count() != 1 || rechecks.Load() != 1 {
		t.Fatalf("grants = %d, rechecks = %d; want 1, 1", grants.count(), rechecks.Load())
	}
	g := grants.grants[0]
	if g.XP != 350 || g.Coins != 150 || g.Source != domain.XPEvent {
		t.Errorf("grant = %+v", g)
	}
	if _, ok := s.Active("u1"); ok {
		t.Error("slot must be empty after resolution")
	}
}

func TestResolve_InvalidTransitions(t *testing.T) {
	s, grants, _ := testScheduler(t, Config{})
	ctx := context.Background()

	if s.Resolve(ctx, "nobody", "x", domain.OutcomeVictory) {
		t.Error("resolve for unknown user accepted")
	}
	install(s, "u1", bossEvent("u1"))
	if s.Resolve(ctx, "u1", "other-id", domain.OutcomeVictory) {
		t.Error("resolve for a different event accepted")
	}
	if s.Resolve(ctx, "u1", "boss-1", domain.Outcome("SURRENDER")) {
		t.Error("unknown outcome accepted")
	}
	if grants.count() != 0 {
		t.Error("invalid transitions must not pay out")
	}
}

func TestAdvance_CriticalOnceThenVictory(t *testing.T) {
	s, grants, pub := testScheduler(t, Config{})
	ctx := context.Background()
	install(s, "u1", bossEvent("u1"))

	if s.Advance(ctx, "u1", "wrong", 10) {
		t.Error("advance on a different event accepted")
	}
	if s.Advance(ctx, "u1", "boss-1", 0) {
		t.Error("zero advance accepted")
	}

	s.Advance(ctx, "u1", "boss-1", 100) // 50% left
	if pub.count(domain.PhaseCritical) != 0 {
		t.Error("critical too early")
	}
	s.Advance(ctx, "u1", "boss-1", 70) // 15% left
	s.Advance(ctx, "u1", "boss-1", 10) // 10% left
	if got := pub.count(domain.PhaseCritical); got != 1 {
		t.Errorf("critical published %d times, want 1", got)
	}

	ev, _ := s.Active("u1")
	if ev.Phase != domain.PhaseInProgress || ev.Progress != 180 {
		t.Errorf("stored event = phase %s progress %d", ev.Phase, ev.Progress)
	}

	if !s.Advance(ctx, "u1", "boss-1", 500) {
		t.Fatal("final advance rejected")
	}
	if grants.count() != 1 {
		t.Errorf("grants = %d, want 1", grants.count())
	}
	if s.Advance(ctx, "u1", "boss-1", 1) {
		t.Error("advance after completion accepted")
	}

	pub.mu.Lock()
	last := pub.phases[len(pub.phases)-1]
	pub.mu.Unlock()
	if last.Phase != domain.PhaseCompleted || last.Event.Outcome != domain.OutcomeVictory || last.Event.Progress != 200 {
		t.Errorf("last lifecycle = %+v", last)
	}
}
