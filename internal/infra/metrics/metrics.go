// Package metrics provides Prometheus metrics for FocusQuest.
// Counters, gauges and histograms for the tick pipeline, the ledger,
// missions, achievements, contextual events and the durable store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Tick Pipeline ──────────────────────────────────────────────────────────

// TicksProcessed counts handled ticks by productivity.
var TicksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "ticks_processed_total",
	Help:      "Total activity ticks handled by the reward engine.",
}, []string{"productive"})

// TickLatency tracks end-to-end tick handling time.
var TickLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "focusquest",
	Name:      "tick_latency_seconds",
	Help:      "Time to run one tick through the reward pipeline.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
})

// TickAnomalies counts ticks flagged by the pace detector, by anomaly type.
var TickAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "tick_anomalies_total",
	Help:      "Ticks whose timing or earnings looked unlike real activity.",
}, []string{"type"})

// ActiveSessions tracks users with a running session.
var ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "focusquest",
	Name:      "active_sessions",
	Help:      "Number of users currently monitored.",
})

// ─── Ledger ─────────────────────────────────────────────────────────────────

// XPAwarded counts XP granted by source.
var XPAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "xp_awarded_total",
	Help:      "Total XP awarded.",
}, []string{"source"})

// CoinsAwarded counts coins granted (positive awards only).
var CoinsAwarded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "coins_awarded_total",
	Help:      "Total coins awarded.",
})

// CoinsSpent counts coins debited.
var CoinsSpent = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "coins_spent_total",
	Help:      "Total coins spent.",
})

// LevelUps counts level transitions.
var LevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "level_ups_total",
	Help:      "Total level-ups across all users.",
})

// InsufficientFunds counts rejected debits.
var InsufficientFunds = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "insufficient_funds_total",
	Help:      "Coin debits rejected for insufficient balance.",
})

// ─── Missions & Achievements ────────────────────────────────────────────────

// MissionsCompleted counts mission completions by mission ID.
var MissionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "missions_completed_total",
	Help:      "Total mission completions.",
}, []string{"mission"})

// AchievementsUnlocked counts unlocks by achievement ID.
var AchievementsUnlocked = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "achievements_unlocked_total",
	Help:      "Total achievement unlocks.",
}, []string{"achievement"})

// ─── Contextual Events ──────────────────────────────────────────────────────

// EventsGenerated counts generated events by kind and trigger.
var EventsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "events_generated_total",
	Help:      "Total contextual events generated.",
}, []string{"kind", "trigger"})

// EventsResolved counts terminal transitions by outcome.
var EventsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "events_resolved_total",
	Help:      "Total contextual events resolved.",
}, []string{"outcome"})

// EventsActive tracks live events.
var EventsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "focusquest",
	Name:      "events_active",
	Help:      "Number of currently active contextual events.",
})

// ─── Store ──────────────────────────────────────────────────────────────────

// StoreFailures counts transient store failures by operation.
var StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "store_failures_total",
	Help:      "Durable store operations that failed and fell back to cache.",
}, []string{"op"})

// PendingWrites tracks entities waiting for a durable write.
var PendingWrites = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "focusquest",
	Name:      "pending_writes",
	Help:      "Entities held in memory until the store accepts them.",
}, []string{"component"})

// ─── Notifications ──────────────────────────────────────────────────────────

// NotificationsPublished counts dispatched notifications by type.
var NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "notifications_published_total",
	Help:      "Total notifications dispatched.",
}, []string{"type"})

// NotificationsDropped counts notifications dropped because the dispatcher
// queue stayed full.
var NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "notifications_dropped_total",
	Help:      "Notifications dropped on a full dispatcher queue, by type.",
}, []string{"type"})

// FeedClients tracks connected live feed clients.
var FeedClients = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "focusquest",
	Name:      "feed_clients",
	Help:      "Number of connected live notification clients.",
})

// FeedDropped counts clients disconnected for being too slow.
var FeedDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "feed_clients_dropped_total",
	Help:      "Live feed clients disconnected because they could not keep up.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "focusquest",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "focusquest",
	Name:      "health_recoveries_total",
	Help:      "Auto-recovery attempts per component.",
}, []string{"check"})
