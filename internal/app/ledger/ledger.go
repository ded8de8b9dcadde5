// Package ledger implements the XP, level and coin ledger.
// It is the only writer of reward ledgers: every award runs as one
// load-mutate-persist critical section per user. The in-memory copy stays
// authoritative when the durable store is unavailable; failed writes are
// retried with backoff and never surfaced to the tick pipeline.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/focusquest/focusquest/internal/domain"
	"github.com/focusquest/focusquest/internal/infra/metrics"
	"github.com/focusquest/focusquest/internal/infra/scheduler"
)

// Options tunes the ledger service.
type Options struct {
	CacheSize    int
	StoreTimeout time.Duration
	Retry        scheduler.RetryConfig
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		CacheSize:    1024,
		StoreTimeout: 250 * time.Millisecond,
		Retry:        scheduler.DefaultRetryConfig(),
	}
}

// Grant is a combined reward applied in a single critical section.
type Grant struct {
	XP      int64
	Coins   int64 // must be >= 0; debits go through AwardCoins
	Source  domain.XPSource
	Reason  string
	RefType string
	RefID   string
}

// userState serializes one user's ledger and holds what the store has not
// accepted yet.
type userState struct {
	mu       sync.Mutex
	dirty    *domain.RewardLedger // pending durable write, authoritative over the cache
	history  []domain.RewardEntry // pending history lines
	deferred []Grant              // awards received while the ledger could not be loaded
}

// Service manages reward ledgers.
type Service struct {
	store   domain.LedgerStore
	pub     domain.Publisher
	cache   *lru.Cache
	users   *xsync.MapOf[string, *userState]
	retry   *scheduler.RetryQueue
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// NewService creates a ledger service. pub may be nil.
func NewService(store domain.LedgerStore, pub domain.Publisher, opts Options) (*Service, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultOptions().CacheSize
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultOptions().StoreTimeout
	}
	cache, err := lru.New(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("ledger cache: %w", err)
	}
	if pub == nil {
		pub = domain.PublisherFunc(func(domain.Notification) {})
	}
	return &Service{
		store:   store,
		pub:     pub,
		cache:   cache,
		users:   xsync.NewMapOf[string, *userState](),
		retry:   scheduler.NewRetryQueue(opts.Retry),
		timeout: opts.StoreTimeout,
		log:     slog.Default().With("component", "ledger"),
		now:     time.Now,
	}, nil
}

// ─── Awards ─────────────────────────────────────────────────────────────────

// AwardXP adds amount XP with cascading level-ups. Non-positive amounts are
// a no-op returning the unchanged state. One LevelUp is published per level
// gained, before XPChanged.
func (s *Service) AwardXP(ctx context.Context, userID string, amount int64, source domain.XPSource) domain.LevelChange {
	if amount <= 0 {
		l, err := s.Get(ctx, userID)
		if err != nil {
			return domain.LevelChange{}
		}
		return unchanged(l)
	}
	return s.Grant(ctx, userID, Grant{XP: amount, Source: source})
}

// Grant applies XP and coins together. If the ledger cannot be loaded the
// grant is deferred and applied on the next successful load.
func (s *Service) Grant(ctx context.Context, userID string, g Grant) domain.LevelChange {
	if g.Coins < 0 {
		g.Coins = 0
	}
	if g.XP <= 0 && g.Coins == 0 {
		l, err := s.Get(ctx, userID)
		if err != nil {
			return domain.LevelChange{}
		}
		return unchanged(l)
	}

	st := s.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	l, err := s.loadLocked(ctx, userID, st)
	if err != nil {
		st.deferred = append(st.deferred, g)
		s.retry.Fail(userID, err)
		s.updatePending()
		s.log.Warn("award deferred: ledger unavailable", "user", userID, "xp", g.XP, "coins", g.Coins, "err", err)
		return domain.LevelChange{}
	}
	s.replayDeferredLocked(userID, &l, st)

	res := s.applyLocked(userID, &l, st, g)
	s.commitLocked(ctx, userID, l, st)
	return res
}

// AwardCoins changes the coin balance by amount and returns the new balance.
// A debit that would go below zero fails with ErrInsufficientFunds and
// leaves the ledger unchanged.
func (s *Service) AwardCoins(ctx context.Context, userID string, amount int64, reason, refType, refID string) (int64, error) {
	if amount > 0 {
		st := s.state(userID)
		st.mu.Lock()
		defer st.mu.Unlock()

		g := Grant{Coins: amount, Reason: reason, RefType: refType, RefID: refID}
		l, err := s.loadLocked(ctx, userID, st)
		if err != nil {
			st.deferred = append(st.deferred, g)
			s.retry.Fail(userID, err)
			s.updatePending()
			s.log.Warn("coin award deferred: ledger unavailable", "user", userID, "coins", amount, "err", err)
			return 0, nil
		}
		s.replayDeferredLocked(userID, &l, st)
		s.applyLocked(userID, &l, st, g)
		s.commitLocked(ctx, userID, l, st)
		return l.Coins, nil
	}

	st := s.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	l, err := s.loadLocked(ctx, userID, st)
	if err != nil {
		return 0, err
	}
	replayed := s.replayDeferredLocked(userID, &l, st)
	if amount == 0 {
		if replayed {
			s.commitLocked(ctx, userID, l, st)
		}
		return l.Coins, nil
	}

	if l.Coins+amount < 0 {
		if replayed {
			s.commitLocked(ctx, userID, l, st)
		}
		metrics.InsufficientFunds.Inc()
		return l.Coins, fmt.Errorf("debit %d from balance %d: %w", -amount, l.Coins, domain.ErrInsufficientFunds)
	}

	l.Coins += amount
	l.UpdatedAt = s.now()
	st.history = append(st.history, domain.RewardEntry{
		UserID: userID, Currency: domain.CurrencyCoins, Amount: amount,
		Reason: reason, RefType: refType, RefID: refID,
		BalanceAfter: l.Coins, CreatedAt: l.UpdatedAt,
	})
	metrics.CoinsSpent.Add(float64(-amount))
	s.commitLocked(ctx, userID, l, st)
	s.pub.Publish(domain.CoinsChanged{UserID: userID, Amount: amount, Reason: reason, Balance: l.Coins})
	return l.Coins, nil
}

// ─── Reads & Lifecycle ──────────────────────────────────────────────────────

// Create ensures the user has a ledger (level 1, 0 XP) and persists it.
func (s *Service) Create(ctx context.Context, userID string) (domain.RewardLedger, error) {
	return s.Get(ctx, userID)
}

// Get returns the current ledger, creating it on first access.
func (s *Service) Get(ctx context.Context, userID string) (domain.RewardLedger, error) {
	st := s.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	l, err := s.loadLocked(ctx, userID, st)
	if err != nil {
		return domain.RewardLedger{}, err
	}
	if s.replayDeferredLocked(userID, &l, st) || st.dirty != nil {
		s.commitLocked(ctx, userID, l, st)
	}
	return l, nil
}

// History returns the user's persisted reward history, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.RewardEntry, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	entries, err := s.store.ListRewardEntries(sctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w (%w)", domain.ErrTransientStore, err)
	}
	return entries, nil
}

// Flush retries every pending write whose backoff expired. Returns how many
// users were flushed and how many are still pending.
func (s *Service) Flush(ctx context.Context) (flushed, remaining int) {
	for _, userID := range s.retry.DrainReady() {
		st := s.state(userID)
		st.mu.Lock()
		if s.flushLocked(ctx, userID, st) {
			flushed++
		}
		st.mu.Unlock()
	}
	s.updatePending()
	return flushed, s.retry.Len()
}

// Pending returns the number of users with writes the store has not accepted.
func (s *Service) Pending() int {
	return s.retry.Len()
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (s *Service) state(userID string) *userState {
	st, _ := s.users.LoadOrCompute(userID, func() *userState { return &userState{} })
	return st
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// loadLocked resolves the ledger: pending write, then cache, then store.
func (s *Service) loadLocked(ctx context.Context, userID string, st *userState) (domain.RewardLedger, error) {
	if st.dirty != nil {
		return *st.dirty, nil
	}
	if v, ok := s.cache.Get(userID); ok {
		return v.(domain.RewardLedger), nil
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	stored, err := s.store.GetLedger(sctx, userID)
	if err != nil {
		metrics.StoreFailures.WithLabelValues("get_ledger").Inc()
		return domain.RewardLedger{}, fmt.Errorf("load ledger %s: %w (%w)", userID, domain.ErrTransientStore, err)
	}

	var l domain.RewardLedger
	if stored == nil {
		l = domain.NewRewardLedger(userID)
		l.UpdatedAt = s.now()
		cp := l
		st.dirty = &cp
	} else {
		l = *stored
		l.Normalize()
	}
	s.cache.Add(userID, l)
	return l, nil
}

// replayDeferredLocked applies awards that arrived while the ledger was
// unavailable. Returns true if anything was applied.
func (s *Service) replayDeferredLocked(userID string, l *domain.RewardLedger, st *userState) bool {
	if len(st.deferred) == 0 {
		return false
	}
	pending := st.deferred
	st.deferred = nil
	for _, g := range pending {
		s.applyLocked(userID, l, st, g)
	}
	s.log.Info("replayed deferred awards", "user", userID, "count", len(pending))
	return true
}

// applyLocked mutates l, records history and publishes notifications.
func (s *Service) applyLocked(userID string, l *domain.RewardLedger, st *userState, g Grant) domain.LevelChange {
	res := domain.LevelChange{PreviousLevel: l.Level, PreviousXP: l.CurrentXP}
	now := s.now()

	var reached []int
	if g.XP > 0 {
		reached = l.AddXP(g.XP)
		st.history = append(st.history, domain.RewardEntry{
			UserID: userID, Currency: domain.CurrencyXP, Amount: g.XP,
			Reason: string(g.Source), RefType: g.RefType, RefID: g.RefID,
			BalanceAfter: l.LifetimeXP, CreatedAt: now,
		})
		metrics.XPAwarded.WithLabelValues(string(g.Source)).Add(float64(g.XP))
	}
	if g.Coins > 0 {
		l.Coins += g.Coins
		reason := g.Reason
		if reason == "" {
			reason = string(g.Source)
		}
		st.history = append(st.history, domain.RewardEntry{
			UserID: userID, Currency: domain.CurrencyCoins, Amount: g.Coins,
			Reason: reason, RefType: g.RefType, RefID: g.RefID,
			BalanceAfter: l.Coins, CreatedAt: now,
		})
		metrics.CoinsAwarded.Add(float64(g.Coins))
	}
	l.UpdatedAt = now

	res.NewLevel = l.Level
	res.NewXP = l.CurrentXP
	res.LeveledUp = len(reached) > 0

	for _, level := range reached {
		metrics.LevelUps.Inc()
		s.pub.Publish(domain.LevelUp{UserID: userID, NewLevel: level})
	}
	if g.XP > 0 {
		s.pub.Publish(domain.XPChanged{
			UserID: userID, Amount: g.XP, Source: g.Source,
			PreviousLevel: res.PreviousLevel, Level: res.NewLevel, LeveledUp: res.LeveledUp,
			CurrentXP: l.CurrentXP,
			RequiredXP: domain.XPRequired(l.Level), LifetimeXP: l.LifetimeXP,
		})
	}
	if g.Coins > 0 {
		s.pub.Publish(domain.CoinsChanged{UserID: userID, Amount: g.Coins, Reason: g.Reason, Balance: l.Coins})
	}
	return res
}

// commitLocked makes l the cached state and tries to persist it.
func (s *Service) commitLocked(ctx context.Context, userID string, l domain.RewardLedger, st *userState) {
	s.cache.Add(userID, l)
	cp := l
	st.dirty = &cp
	if !s.retry.Due(userID) {
		return // backing off; Flush will pick it up
	}
	s.flushLocked(ctx, userID, st)
}

// flushLocked writes the pending ledger and history. Returns true when
// nothing is left pending for the user.
func (s *Service) flushLocked(ctx context.Context, userID string, st *userState) bool {
	if len(st.deferred) > 0 {
		l, err := s.loadLocked(ctx, userID, st)
		if err != nil {
			s.retry.Fail(userID, err)
			return false
		}
		s.replayDeferredLocked(userID, &l, st)
		s.cache.Add(userID, l)
		cp := l
		st.dirty = &cp
	}
	if st.dirty == nil && len(st.history) == 0 {
		s.retry.Succeed(userID)
		return true
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if st.dirty != nil {
		if err := s.store.SaveLedger(sctx, *st.dirty); err != nil {
			s.writeFailed(userID, "save_ledger", err)
			return false
		}
		st.dirty = nil
	}
	if len(st.history) > 0 {
		if err := s.store.AppendRewardEntries(sctx, st.history); err != nil {
			s.writeFailed(userID, "append_history", err)
			return false
		}
		st.history = nil
	}
	if s.retry.Succeed(userID) {
		s.log.Info("pending ledger write recovered", "user", userID)
		s.updatePending()
	}
	return true
}

func (s *Service) writeFailed(userID, op string, err error) {
	e := s.retry.Fail(userID, err)
	metrics.StoreFailures.WithLabelValues(op).Inc()
	s.updatePending()
	s.log.Warn("store write failed, keeping cache authoritative",
		"user", userID, "op", op, "attempt", e.Attempt, "retry_at", e.NextRetry, "err", err)
}

func (s *Service) updatePending() {
	metrics.PendingWrites.WithLabelValues("ledger").Set(float64(s.retry.Len()))
}

func unchanged(l domain.RewardLedger) domain.LevelChange {
	return domain.LevelChange{
		PreviousLevel: l.Level, NewLevel: l.Level,
		PreviousXP: l.CurrentXP, NewXP: l.CurrentXP,
	}
}
