package events

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/focusquest/focusquest/internal/domain"
)

// ─── Kind Table ─────────────────────────────────────────────────────────────

// kindSpec holds the pure per-kind formulas. Rewards are
// base + target*num/den for both XP and coins.
type kindSpec struct {
	target int64

	xpBase, xpNum, xpDen       int64
	coinBase, coinNum, coinDen int64

	// criticalRemaining is the percent of target left at which the event
	// turns critical (boss HP below 20%).
	criticalRemaining int64
}

var kinds = map[domain.EventKind]kindSpec{
	domain.EventTypingChallenge: {target: 50, xpBase: 50, xpNum: 2, xpDen: 1, coinBase: 10, coinNum: 1, coinDen: 5, criticalRemaining: 10},
	domain.EventClickRush:       {target: 100, xpBase: 40, xpNum: 1, xpDen: 1, coinBase: 10, coinNum: 1, coinDen: 10, criticalRemaining: 10},
	domain.EventBossEncounter:   {target: 200, xpBase: 150, xpNum: 1, xpDen: 1, coinBase: 50, coinNum: 1, coinDen: 2, criticalRemaining: 20},
	domain.EventBugStorm:        {target: 30, xpBase: 60, xpNum: 4, xpDen: 1, coinBase: 20, coinNum: 1, coinDen: 1, criticalRemaining: 25},
	domain.EventBreak:           {target: 300, xpBase: 30, xpNum: 1, xpDen: 10, coinBase: 5, coinNum: 1, coinDen: 60, criticalRemaining: 20},
	domain.EventStretch:         {target: 60, xpBase: 20, xpNum: 1, xpDen: 2, coinBase: 5, coinNum: 1, coinDen: 12, criticalRemaining: 20},
	domain.EventTrivia:          {target: 5, xpBase: 40, xpNum: 20, xpDen: 1, coinBase: 10, coinNum: 4, coinDen: 1, criticalRemaining: 20},
}

// categoryWeights biases kind selection by activity category. Categories
// missing here draw from a flat distribution.
var categoryWeights = map[string]map[domain.EventKind]int{
	"coding": {
		domain.EventBugStorm: 30, domain.EventBossEncounter: 30, domain.EventTypingChallenge: 10,
		domain.EventClickRush: 5, domain.EventBreak: 10, domain.EventStretch: 10, domain.EventTrivia: 5,
	},
	"browsing": {
		domain.EventClickRush: 30, domain.EventTrivia: 30, domain.EventTypingChallenge: 10,
		domain.EventBossEncounter: 10, domain.EventBugStorm: 5, domain.EventBreak: 10, domain.EventStretch: 5,
	},
	"communication": {
		domain.EventTypingChallenge: 35, domain.EventClickRush: 15, domain.EventTrivia: 15,
		domain.EventBreak: 15, domain.EventStretch: 10, domain.EventBossEncounter: 5, domain.EventBugStorm: 5,
	},
	"design": {
		domain.EventStretch: 30, domain.EventBreak: 30, domain.EventClickRush: 15,
		domain.EventTrivia: 10, domain.EventTypingChallenge: 5, domain.EventBossEncounter: 5, domain.EventBugStorm: 5,
	},
	"writing": {
		domain.EventTypingChallenge: 40, domain.EventTrivia: 15, domain.EventBreak: 15,
		domain.EventStretch: 15, domain.EventBossEncounter: 10, domain.EventClickRush: 5,
	},
	"media": {
		domain.EventBreak: 25, domain.EventStretch: 25, domain.EventTrivia: 25,
		domain.EventClickRush: 15, domain.EventBossEncounter: 10,
	},
}

// ─── Pure Formulas ──────────────────────────────────────────────────────────

// ComputeTarget returns the base target of a kind.
func ComputeTarget(kind domain.EventKind) int64 {
	return kinds[kind].target
}

// ComputeReward returns the XP and coin reward for a target.
func ComputeReward(kind domain.EventKind, target int64) (xp, coins int64) {
	k, ok := kinds[kind]
	if !ok {
		return 0, 0
	}
	return k.xpBase + target*k.xpNum/k.xpDen, k.coinBase + target*k.coinNum/k.coinDen
}

// Budget is the difficulty and payout of one event.
type Budget struct {
	Target int64
	XP     int64
	Coins  int64
}

// ComputeBudget runs the base formulas, then applies the epic multipliers:
// target x1.5, both rewards x2.
func ComputeBudget(kind domain.EventKind, epic bool) Budget {
	target := ComputeTarget(kind)
	xp, coins := ComputeReward(kind, target)
	if epic {
		target = target * 3 / 2
		xp *= 2
		coins *= 2
	}
	return Budget{Target: target, XP: xp, Coins: coins}
}

// isCritical reports whether progress left less than the kind's critical
// share of the target.
func isCritical(kind domain.EventKind, progress, target int64) bool {
	pct := kinds[kind].criticalRemaining
	if pct <= 0 || target <= 0 {
		return false
	}
	return (target-progress)*100 < target*pct
}

// ─── Factory ────────────────────────────────────────────────────────────────

// Factory draws event kinds and rarities from a seeded source.
type Factory struct {
	mu         sync.Mutex
	rng        *rand.Rand
	epicChance float64
}

// NewFactory creates a factory. Equal seeds give equal draw sequences.
func NewFactory(seed uint64, epicChance float64) *Factory {
	return &Factory{
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		epicChance: epicChance,
	}
}

// SelectKind draws a kind weighted by the activity category.
func (f *Factory) SelectKind(category string) domain.EventKind {
	weights, ok := categoryWeights[category]

	f.mu.Lock()
	defer f.mu.Unlock()

	if !ok {
		return domain.AllEventKinds[f.rng.IntN(len(domain.AllEventKinds))]
	}
	total := 0
	for _, k := range domain.AllEventKinds {
		total += weights[k]
	}
	n := f.rng.IntN(total)
	for _, k := range domain.AllEventKinds {
		if n < weights[k] {
			return k
		}
		n -= weights[k]
	}
	return domain.AllEventKinds[len(domain.AllEventKinds)-1]
}

// RollRarity reports whether the next event is epic.
func (f *Factory) RollRarity() bool {
	return f.Roll(f.epicChance)
}

// Roll succeeds with probability p.
func (f *Factory) Roll(p float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64() < p
}

// New builds a GENERATED event with its reward precomputed.
func (f *Factory) New(userID, category string, now time.Time) domain.ContextualEvent {
	kind := f.SelectKind(category)
	epic := f.RollRarity()
	b := ComputeBudget(kind, epic)
	return domain.ContextualEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		Kind:       kind,
		Category:   category,
		IsEpic:     epic,
		Target:     b.Target,
		XPReward:   b.XP,
		CoinReward: b.Coins,
		Phase:      domain.PhaseGenerated,
		CreatedAt:  now,
	}
}
