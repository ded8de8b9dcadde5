package domain

import "time"

// ─── Contextual Event Types ─────────────────────────────────────────────────

// EventKind is the flavor of a contextual event.
type EventKind string

const (
	EventTypingChallenge EventKind = "typing_challenge"
	EventClickRush       EventKind = "click_rush"
	EventBossEncounter   EventKind = "boss_encounter"
	EventBugStorm        EventKind = "bug_storm"
	EventBreak           EventKind = "break"
	EventStretch         EventKind = "stretch"
	EventTrivia          EventKind = "trivia"
)

// AllEventKinds lists every kind in a stable order.
var AllEventKinds = []EventKind{
	EventTypingChallenge, EventClickRush, EventBossEncounter, EventBugStorm,
	EventBreak, EventStretch, EventTrivia,
}

// EventPhase is a lifecycle state. PhaseCritical is broadcast only: the
// stored phase of a critical event stays PhaseInProgress.
type EventPhase string

const (
	PhaseGenerated  EventPhase = "GENERATED"
	PhaseStarted    EventPhase = "STARTED"
	PhaseInProgress EventPhase = "IN_PROGRESS"
	PhaseCritical   EventPhase = "CRITICAL"
	PhaseCompleted  EventPhase = "COMPLETED"
)

// Outcome is the terminal result of an event.
type Outcome string

const (
	OutcomeVictory Outcome = "VICTORY"
	OutcomeDefeat  Outcome = "DEFEAT"
	OutcomeFled    Outcome = "FLED"
	OutcomeTimeout Outcome = "TIMEOUT"
)

// ParseOutcome validates a caller supplied outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeVictory, OutcomeDefeat, OutcomeFled, OutcomeTimeout:
		return o, nil
	}
	return "", ErrInvalidOutcome
}

// ContextualEvent is a short-lived challenge. At most one is live per user.
type ContextualEvent struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Kind       EventKind  `json:"kind"`
	Category   string     `json:"category,omitempty"`
	IsEpic     bool       `json:"is_epic"`
	Target     int64      `json:"target"`
	Progress   int64      `json:"progress"`
	XPReward   int64      `json:"xp_reward"`
	CoinReward int64      `json:"coin_reward"`
	Phase      EventPhase `json:"phase"`
	Outcome    Outcome    `json:"outcome,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	EndedAt    time.Time  `json:"ended_at,omitempty"`
}

// Terminal reports whether the event reached COMPLETED.
func (e ContextualEvent) Terminal() bool {
	return e.Phase == PhaseCompleted
}
