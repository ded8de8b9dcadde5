package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/focusquest/focusquest/internal/domain"
	"github.com/focusquest/focusquest/internal/infra/metrics"
	"github.com/focusquest/focusquest/internal/infra/scheduler"
)

// MissionTracker owns per-user mission progress and reports each 100%
// crossing exactly once.
type MissionTracker struct {
	store   domain.MissionStore
	catalog *Catalog
	users   *xsync.MapOf[string, *missionUser]
	retry   *scheduler.RetryQueue
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

type missionUser struct {
	mu      sync.Mutex
	loaded  bool
	rows    map[string]*domain.MissionProgress // by mission ID
	order   []string
	dirty   map[string]bool
	pending map[string]int64 // metric deltas received before the rows could be loaded
}

// NewMissionTracker creates a mission tracker over the catalog.
func NewMissionTracker(store domain.MissionStore, catalog *Catalog, storeTimeout time.Duration, retry scheduler.RetryConfig) *MissionTracker {
	if storeTimeout <= 0 {
		storeTimeout = 250 * time.Millisecond
	}
	return &MissionTracker{
		store:   store,
		catalog: catalog,
		users:   xsync.NewMapOf[string, *missionUser](),
		retry:   scheduler.NewRetryQueue(retry),
		timeout: storeTimeout,
		log:     slog.Default().With("component", "missions"),
		now:     time.Now,
	}
}

// Bootstrap inserts a zero-progress row for every catalog mission the user
// is not tracking yet. Safe to repeat.
func (t *MissionTracker) Bootstrap(ctx context.Context, userID string) error {
	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	rows := make([]domain.MissionProgress, 0, len(t.catalog.Missions))
	for _, def := range t.catalog.Missions {
		rows = append(rows, newProgress(userID, def))
	}

	sctx, cancel := context.WithTimeout(ctx, t.timeout)
	inserted, err := t.store.InsertMissionProgress(sctx, rows)
	cancel()
	if err != nil {
		metrics.StoreFailures.WithLabelValues("insert_missions").Inc()
		t.log.Warn("bootstrap insert failed", "user", userID, "err", err)
	}

	if err := t.ensureLoadedLocked(ctx, userID, u); err != nil {
		return err
	}
	// Rows the store did not take are tracked in memory and written later.
	for _, def := range t.catalog.Missions {
		if _, ok := u.rows[def.ID]; !ok {
			t.addRowLocked(u, newProgress(userID, def))
			u.dirty[def.ID] = true
		}
	}
	t.persistLocked(ctx, userID, u)

	if inserted > 0 {
		t.log.Debug("missions bootstrapped", "user", userID, "inserted", inserted)
	}
	return nil
}

// RecordMetric adds delta to every incomplete mission whose metric key
// equals metricKey or is a routing prefix of it. Returns the missions that
// crossed 100% in this call.
func (t *MissionTracker) RecordMetric(ctx context.Context, userID, metricKey string, delta int64) []string {
	if delta <= 0 || metricKey == "" {
		return nil
	}
	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := t.ensureLoadedLocked(ctx, userID, u); err != nil {
		if u.pending == nil {
			u.pending = make(map[string]int64)
		}
		u.pending[metricKey] += delta
		t.retry.Fail(userID, err)
		t.updatePending()
		return nil
	}

	completed := t.replayPendingLocked(u)
	completed = append(completed, t.recordLocked(u, metricKey, delta)...)
	t.persistLocked(ctx, userID, u)
	return completed
}

// Claim forces a mission to 100%. Returns true if this call completed it.
func (t *MissionTracker) Claim(ctx context.Context, userID, missionID string) (bool, error) {
	def, ok := t.catalog.Mission(missionID)
	if !ok {
		t.log.Warn("claim for unknown mission", "user", userID, "mission", missionID)
		return false, fmt.Errorf("claim %s: %w", missionID, domain.ErrUnknownMission)
	}

	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := t.ensureLoadedLocked(ctx, userID, u); err != nil {
		return false, err
	}
	row, ok := u.rows[missionID]
	if !ok {
		row = t.addRowLocked(u, newProgress(userID, def))
	}
	if row.Complete() {
		return false, nil
	}
	row.Current = row.Target
	row.UpdatedAt = t.now()
	u.dirty[missionID] = true
	metrics.MissionsCompleted.WithLabelValues(missionID).Inc()
	t.persistLocked(ctx, userID, u)
	return true, nil
}

// Progress returns a snapshot of the user's tracked missions.
func (t *MissionTracker) Progress(ctx context.Context, userID string) ([]domain.MissionProgress, error) {
	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := t.ensureLoadedLocked(ctx, userID, u); err != nil {
		return nil, err
	}
	out := make([]domain.MissionProgress, 0, len(u.order))
	for _, id := range u.order {
		out = append(out, *u.rows[id])
	}
	return out, nil
}

// CompletedCount returns how many missions the user has completed.
func (t *MissionTracker) CompletedCount(ctx context.Context, userID string) (int, error) {
	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := t.ensureLoadedLocked(ctx, userID, u); err != nil {
		return 0, err
	}
	n := 0
	for _, row := range u.rows {
		if row.Complete() {
			n++
		}
	}
	return n, nil
}

// Flush retries pending writes whose backoff expired. Crossings found while
// replaying deltas are returned per user so the caller can reward them.
func (t *MissionTracker) Flush(ctx context.Context) map[string][]string {
	var completed map[string][]string
	for _, userID := range t.retry.DrainReady() {
		u := t.user(userID)
		u.mu.Lock()
		if err := t.ensureLoadedLocked(ctx, userID, u); err != nil {
			t.retry.Fail(userID, err)
			u.mu.Unlock()
			continue
		}
		if done := t.replayPendingLocked(u); len(done) > 0 {
			if completed == nil {
				completed = make(map[string][]string)
			}
			completed[userID] = done
		}
		if len(u.dirty) == 0 {
			t.retry.Succeed(userID)
		} else {
			t.persistLocked(ctx, userID, u)
		}
		u.mu.Unlock()
	}
	t.updatePending()
	return completed
}

// Pending returns the number of users with unwritten progress.
func (t *MissionTracker) Pending() int {
	return t.retry.Len()
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (t *MissionTracker) user(userID string) *missionUser {
	u, _ := t.users.LoadOrCompute(userID, func() *missionUser {
		return &missionUser{
			rows:  make(map[string]*domain.MissionProgress),
			dirty: make(map[string]bool),
		}
	})
	return u
}

func newProgress(userID string, def domain.MissionDef) domain.MissionProgress {
	return domain.MissionProgress{
		UserID: userID, MissionID: def.ID, MetricKey: def.MetricKey, Target: def.Target,
	}
}

func (t *MissionTracker) addRowLocked(u *missionUser, p domain.MissionProgress) *domain.MissionProgress {
	row := p
	u.rows[p.MissionID] = &row
	u.order = append(u.order, p.MissionID)
	return &row
}

func (t *MissionTracker) ensureLoadedLocked(ctx context.Context, userID string, u *missionUser) error {
	if u.loaded {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	rows, err := t.store.ListMissionProgress(sctx, userID)
	if err != nil {
		metrics.StoreFailures.WithLabelValues("list_missions").Inc()
		t.log.Warn("load mission progress failed", "user", userID, "err", err)
		return fmt.Errorf("load missions %s: %w (%w)", userID, domain.ErrTransientStore, err)
	}
	for _, p := range rows {
		if _, ok := t.catalog.Mission(p.MissionID); !ok {
			t.log.Warn("skipping progress for unknown mission", "user", userID, "mission", p.MissionID)
			continue
		}
		if _, dup := u.rows[p.MissionID]; dup {
			continue
		}
		t.addRowLocked(u, p)
	}
	u.loaded = true
	return nil
}

func (t *MissionTracker) replayPendingLocked(u *missionUser) []string {
	if len(u.pending) == 0 {
		return nil
	}
	pending := u.pending
	u.pending = nil
	var completed []string
	for key, delta := range pending {
		completed = append(completed, t.recordLocked(u, key, delta)...)
	}
	return completed
}

// recordLocked applies delta and returns missions that crossed 100%.
func (t *MissionTracker) recordLocked(u *missionUser, metricKey string, delta int64) []string {
	var completed []string
	now := t.now()
	for _, id := range u.order {
		row := u.rows[id]
		if !domain.MetricMatches(row.MetricKey, metricKey) {
			continue
		}
		before := row.Percentage()
		if before >= 100 {
			continue
		}
		row.Current += delta
		if row.Current > row.Target {
			row.Current = row.Target
		}
		row.UpdatedAt = now
		u.dirty[id] = true
		if row.Percentage() >= 100 {
			completed = append(completed, id)
			metrics.MissionsCompleted.WithLabelValues(id).Inc()
		}
	}
	return completed
}

func (t *MissionTracker) persistLocked(ctx context.Context, userID string, u *missionUser) {
	if len(u.dirty) == 0 || !t.retry.Due(userID) {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	for id := range u.dirty {
		if err := t.store.SaveMissionProgress(sctx, *u.rows[id]); err != nil {
			e := t.retry.Fail(userID, err)
			metrics.StoreFailures.WithLabelValues("save_mission").Inc()
			t.updatePending()
			t.log.Warn("save mission progress failed", "user", userID, "mission", id,
				"attempt", e.Attempt, "err", err)
			return
		}
		delete(u.dirty, id)
	}
	if t.retry.Succeed(userID) {
		t.updatePending()
	}
}

func (t *MissionTracker) updatePending() {
	metrics.PendingWrites.WithLabelValues("missions").Set(float64(t.retry.Len()))
}
