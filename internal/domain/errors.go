package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure: no infrastructure dependency.

var (
	// Store errors. Transient failures are logged and retried, never surfaced
	// to the tick pipeline.
	ErrTransientStore = errors.New("durable store temporarily unavailable")
	ErrNotFound       = errors.New("not found")

	// Input errors
	ErrInvalidTick = errors.New("invalid tick")

	// Ledger errors
	ErrInsufficientFunds = errors.New("insufficient coins")

	// Event errors
	ErrInvalidEventTransition = errors.New("invalid event transition")
	ErrInvalidOutcome         = errors.New("invalid event outcome")

	// Catalog errors
	ErrUnknownMission      = errors.New("unknown mission")
	ErrUnknownAchievement  = errors.New("unknown achievement")
	ErrMissionNotClaimable = errors.New("mission cannot be claimed manually")

	// Shop errors
	ErrUnknownOffer = errors.New("unknown shop offer")
	ErrUnknownItem  = errors.New("unknown item")
	ErrItemNotOwned = errors.New("item not owned")
	ErrNotABoost    = errors.New("item is not an activatable boost")
)
