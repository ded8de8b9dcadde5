// Package anomaly flags activity ticks that do not look like a real person
// working in real time.
//
// Each user has a pace profile built from their tick stream. Three checks
// run per tick:
//
//   - clock rewind: a tick stamped well before the previous one
//   - burst: more ticks inside one second than a tracker can produce
//   - earning spike: a minute whose XP total sits beyond 3σ of the user's
//     running per-minute mean (Welford's online algorithm)
//
// Detection only observes. Callers decide what to do with a result; the
// reward engine logs it and counts it.
package anomaly

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// SigmaThreshold is the number of standard deviations for an outlier minute.
	SigmaThreshold = 3.0

	// MinSamplesForProfile is how many closed minutes before spike checks kick in.
	MinSamplesForProfile = 5

	// MaxTicksPerSecond is the most ticks one tracker emits per wall second.
	MaxTicksPerSecond = 2

	// RewindTolerance absorbs small clock jitter between producers.
	RewindTolerance = 2 * time.Second

	// MaxConsecutiveAnomalies before escalation.
	MaxConsecutiveAnomalies = 3
)

// ─── Types ──────────────────────────────────────────────────────────────────

// AnomalyType identifies what kind of anomaly was detected.
type AnomalyType int

const (
	AnomalyNone         AnomalyType = iota
	AnomalyClockRewind              // tick stamped before the previous one
	AnomalyTickBurst                // too many ticks in one second
	AnomalyEarningSpike             // minute XP far above the user's norm
)

// String returns a human-readable anomaly type.
func (a AnomalyType) String() string {
	switch a {
	case AnomalyNone:
		return "NONE"
	case AnomalyClockRewind:
		return "CLOCK_REWIND"
	case AnomalyTickBurst:
		return "TICK_BURST"
	case AnomalyEarningSpike:
		return "EARNING_SPIKE"
	default:
		return "UNKNOWN"
	}
}

// Severity indicates how serious an anomaly is.
type Severity int

const (
	SevInfo Severity = iota
	SevWarning
	SevCritical
)

// String returns the severity label.
func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "INFO"
	case SevWarning:
		return "WARNING"
	case SevCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// TickSample is one handled tick as the detector sees it.
type TickSample struct {
	UserID string
	At     time.Time
	XP     int64 // XP the tick earned after boosts
}

// Result is the outcome of analyzing a tick.
type Result struct {
	IsAnomaly   bool        `json:"is_anomaly"`
	Type        AnomalyType `json:"type"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	UserID      string      `json:"user_id"`
}

// PaceProfile holds a user's tick statistics.
type PaceProfile struct {
	UserID string `json:"user_id"`

	LastTick    time.Time `json:"last_tick"`
	secondStart time.Time
	secondTicks int

	// Per-minute XP (Welford's online algorithm over closed minutes)
	minuteStart time.Time
	minuteXP    int64
	MinuteCount int     `json:"minute_count"`
	MinuteMean  float64 `json:"minute_mean"`
	MinuteM2    float64 `json:"minute_m2"`

	ConsecutiveAnomalies int `json:"consecutive_anomalies"`
	TotalAnomalies       int `json:"total_anomalies"`
}

// MinuteStddev returns the standard deviation of per-minute XP.
func (p *PaceProfile) MinuteStddev() float64 {
	if p.MinuteCount < 2 {
		return 0
	}
	return math.Sqrt(p.MinuteM2 / float64(p.MinuteCount-1))
}

// Stats is an overview of the detector's state.
type Stats struct {
	ProfileCount   int `json:"profile_count"`
	TotalAnomalies int `json:"total_anomalies"`
}

// ─── Detector ───────────────────────────────────────────────────────────────

// Config tunes the detector.
type Config struct {
	SigmaThreshold        float64
	MinSamples            int
	MaxTicksPerSecond     int
	RewindTolerance       time.Duration
	MaxConsecutiveAnomaly int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SigmaThreshold:        SigmaThreshold,
		MinSamples:            MinSamplesForProfile,
		MaxTicksPerSecond:     MaxTicksPerSecond,
		RewindTolerance:       RewindTolerance,
		MaxConsecutiveAnomaly: MaxConsecutiveAnomalies,
	}
}

// Detector keeps pace profiles for every user it has seen. Safe for
// concurrent use.
type Detector struct {
	mu       sync.Mutex
	config   Config
	profiles map[string]*PaceProfile
}

// NewDetector creates a detector. Zero config fields take defaults.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.SigmaThreshold <= 0 {
		cfg.SigmaThreshold = def.SigmaThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.MaxTicksPerSecond <= 0 {
		cfg.MaxTicksPerSecond = def.MaxTicksPerSecond
	}
	if cfg.RewindTolerance <= 0 {
		cfg.RewindTolerance = def.RewindTolerance
	}
	if cfg.MaxConsecutiveAnomaly <= 0 {
		cfg.MaxConsecutiveAnomaly = def.MaxConsecutiveAnomaly
	}
	return &Detector{config: cfg, profiles: make(map[string]*PaceProfile)}
}

// Analyze folds one tick into the user's profile and reports the first
// check it trips.
func (d *Detector) Analyze(s TickSample) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.getOrCreateProfile(s.UserID)
	result := Result{UserID: s.UserID}

	// Check 1: clock rewind
	if !p.LastTick.IsZero() && p.LastTick.Sub(s.At) > d.config.RewindTolerance {
		result = Result{
			IsAnomaly:   true,
			Type:        AnomalyClockRewind,
			Severity:    SevWarning,
			UserID:      s.UserID,
			Description: fmt.Sprintf("tick at %s is %s before the previous one", s.At.Format(time.RFC3339), p.LastTick.Sub(s.At)),
		}
	}

	// Check 2: burst within one second
	if !result.IsAnomaly {
		if !p.secondStart.IsZero() && s.At.Sub(p.secondStart) < time.Second && !s.At.Before(p.secondStart) {
			p.secondTicks++
		} else {
			p.secondStart = s.At
			p.secondTicks = 1
		}
		if p.secondTicks > d.config.MaxTicksPerSecond {
			result = Result{
				IsAnomaly:   true,
				Type:        AnomalyTickBurst,
				Severity:    SevWarning,
				UserID:      s.UserID,
				Description: fmt.Sprintf("%d ticks within one second (max %d)", p.secondTicks, d.config.MaxTicksPerSecond),
			}
		}
	}

	// Check 3: a minute just closed with outlier XP
	if closed, xp := d.rollMinute(p, s); closed && !result.IsAnomaly && p.MinuteCount >= d.config.MinSamples {
		if stddev := p.MinuteStddev(); stddev > 0 {
			z := (float64(xp) - p.MinuteMean) / stddev
			if z > d.config.SigmaThreshold {
				result = Result{
					IsAnomaly:   true,
					Type:        AnomalyEarningSpike,
					Severity:    SevWarning,
					UserID:      s.UserID,
					Description: fmt.Sprintf("minute XP %d is %.1fσ above mean %.1f (stddev=%.1f)", xp, z, p.MinuteMean, stddev),
				}
			}
		}
		d.addMinute(p, xp)
	} else if closed {
		d.addMinute(p, xp)
	}

	if s.At.After(p.LastTick) {
		p.LastTick = s.At
	}

	if result.IsAnomaly {
		p.ConsecutiveAnomalies++
		p.TotalAnomalies++
		if p.ConsecutiveAnomalies >= d.config.MaxConsecutiveAnomaly {
			result.Severity = SevCritical
			result.Description += fmt.Sprintf(" [ESCALATED: %d consecutive anomalies]", p.ConsecutiveAnomalies)
		}
	} else {
		p.ConsecutiveAnomalies = 0
	}
	return result
}

// rollMinute adds s to the open minute bucket. When s falls in a later
// minute the old bucket closes and its total is returned.
func (d *Detector) rollMinute(p *PaceProfile, s TickSample) (bool, int64) {
	minute := s.At.Truncate(time.Minute)
	if p.minuteStart.IsZero() {
		p.minuteStart = minute
	}
	if !minute.After(p.minuteStart) {
		p.minuteXP += s.XP
		return false, 0
	}
	closed := p.minuteXP
	p.minuteStart = minute
	p.minuteXP = s.XP
	return true, closed
}

// addMinute folds a closed minute into the running mean and variance.
func (d *Detector) addMinute(p *PaceProfile, xp int64) {
	p.MinuteCount++
	delta := float64(xp) - p.MinuteMean
	p.MinuteMean += delta / float64(p.MinuteCount)
	p.MinuteM2 += delta * (float64(xp) - p.MinuteMean)
}

func (d *Detector) getOrCreateProfile(userID string) *PaceProfile {
	if p, ok := d.profiles[userID]; ok {
		return p
	}
	p := &PaceProfile{UserID: userID}
	d.profiles[userID] = p
	return p
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Profile returns a copy of a user's pace profile.
func (d *Detector) Profile(userID string) (PaceProfile, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[userID]
	if !ok {
		return PaceProfile{}, false
	}
	return *p, true
}

// Forget drops a user's profile.
func (d *Detector) Forget(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.profiles, userID)
}

// Stats returns aggregate detector state.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := Stats{ProfileCount: len(d.profiles)}
	for _, p := range d.profiles {
		stats.TotalAnomalies += p.TotalAnomalies
	}
	return stats
}
