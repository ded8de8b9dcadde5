package reward

import (
	"context"
	"fmt"

	"github.com/focusquest/focusquest/internal/domain"
	"github.com/focusquest/focusquest/internal/infra/metrics"
)

// ─── Sessions ───────────────────────────────────────────────────────────────

// StartSession begins monitoring a user: the ledger and mission rows are
// bootstrapped and the periodic event generator starts.
func (e *Engine) StartSession(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("start session: %w", domain.ErrInvalidTick)
	}
	s := e.session(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e.bootstrapLocked(ctx, userID, s)
	e.events.StartUser(userID)
	if !s.monitoring {
		s.monitoring = true
		metrics.ActiveSessions.Inc()
	}
	e.log.Info("session started", "user", userID)
	return nil
}

// StopSession stops the user's event generator and flushes pending writes.
// A live event is left as it is.
func (e *Engine) StopSession(ctx context.Context, userID string) {
	s := e.session(userID)
	s.mu.Lock()
	e.events.StopUser(userID)
	if s.monitoring {
		s.monitoring = false
		metrics.ActiveSessions.Dec()
	}
	s.mu.Unlock()

	stats := e.Flush(ctx)
	e.log.Info("session stopped", "user", userID, "pending", stats.Pending)
}

// ─── UI Commands ────────────────────────────────────────────────────────────

// ClaimMission completes a manual mission. Returns false if it was already
// complete.
func (e *Engine) ClaimMission(ctx context.Context, userID, missionID string) (bool, error) {
	def, ok := e.catalog.Mission(missionID)
	if !ok {
		e.log.Warn("claim for unknown mission", "user", userID, "mission", missionID)
		return false, fmt.Errorf("claim %s: %w", missionID, domain.ErrUnknownMission)
	}
	if !def.Manual {
		return false, fmt.Errorf("claim %s: %w", missionID, domain.ErrMissionNotClaimable)
	}

	s := e.session(userID)
	s.mu.Lock()
	e.bootstrapLocked(ctx, userID, s)
	s.mu.Unlock()

	done, err := e.missions.Claim(ctx, userID, missionID)
	if err != nil || !done {
		return false, err
	}
	defs := e.announceMissions(userID, []string{missionID})
	e.rewardMissions(ctx, userID, defs)
	e.achievements.CheckAll(ctx, userID)
	return true, nil
}

// AdvanceEvent adds progress to the user's live event.
func (e *Engine) AdvanceEvent(ctx context.Context, userID, eventID string, delta int64) bool {
	return e.events.Advance(ctx, userID, eventID, delta)
}

// ResolveEvent ends the user's live event with outcome.
func (e *Engine) ResolveEvent(ctx context.Context, userID, eventID string, outcome domain.Outcome) bool {
	return e.events.Resolve(ctx, userID, eventID, outcome)
}

// ActiveEvent returns the user's live event.
func (e *Engine) ActiveEvent(userID string) (domain.ContextualEvent, bool) {
	return e.events.Active(userID)
}

// ActivateBoost starts an owned XP boost.
func (e *Engine) ActivateBoost(ctx context.Context, userID, itemID string) (domain.Boost, error) {
	return e.shop.ActivateBoost(ctx, userID, itemID)
}

// Purchase buys a shop offer with coins.
func (e *Engine) Purchase(ctx context.Context, userID, offerID string) (domain.Receipt, error) {
	return e.shop.Purchase(ctx, userID, offerID)
}
