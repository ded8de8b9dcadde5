// Package scheduler schedules retries of durable writes that failed.
// Entries are keyed (one per user and component) and retried with
// exponential backoff. Nothing is ever dropped: the in-memory state the
// entry stands for stays authoritative until a retry succeeds.
package scheduler

import (
	"sort"
	"sync"
	"time"
)

// ─── Retry Queue ────────────────────────────────────────────────────────────

// RetryConfig configures the retry queue behavior.
type RetryConfig struct {
	BaseDelay time.Duration // Initial backoff delay (doubles each retry)
	MaxDelay  time.Duration // Cap on backoff delay
}

// DefaultRetryConfig returns production retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BaseDelay: 1 * time.Second,
		MaxDelay:  60 * time.Second,
	}
}

// RetryEntry tracks a failed write's retry state.
type RetryEntry struct {
	Key       string
	Attempt   int       // Failures so far
	NextRetry time.Time // Earliest time this can be retried
	FailedAt  time.Time // When the last failure occurred
	Error     string    // Last failure reason
}

// RetryQueue schedules keyed retries with exponential backoff.
type RetryQueue struct {
	mu      sync.Mutex
	config  RetryConfig
	entries map[string]*RetryEntry
	now     func() time.Time

	// Stats
	totalRetries   int64
	totalRecovered int64
}

// NewRetryQueue creates an empty retry queue.
func NewRetryQueue(cfg RetryConfig) *RetryQueue {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &RetryQueue{
		config:  cfg,
		entries: make(map[string]*RetryEntry),
		now:     time.Now,
	}
}

// Fail records a failure for key and schedules its next retry.
// Exponential backoff: baseDelay * 2^(attempt-1), capped at maxDelay.
func (rq *RetryQueue) Fail(key string, err error) RetryEntry {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	e, ok := rq.entries[key]
	if !ok {
		e = &RetryEntry{Key: key}
		rq.entries[key] = e
	}
	e.Attempt++
	rq.totalRetries++

	delay := rq.config.BaseDelay
	for i := 1; i < e.Attempt; i++ {
		delay *= 2
		if delay > rq.config.MaxDelay {
			delay = rq.config.MaxDelay
			break
		}
	}

	now := rq.now()
	e.FailedAt = now
	e.NextRetry = now.Add(delay)
	if err != nil {
		e.Error = err.Error()
	}
	return *e
}

// Succeed clears key. Returns true if key had been failing.
func (rq *RetryQueue) Succeed(key string) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if _, ok := rq.entries[key]; !ok {
		return false
	}
	delete(rq.entries, key)
	rq.totalRecovered++
	return true
}

// Due reports whether a write for key may be attempted now: either the key
// is not failing or its backoff has expired.
func (rq *RetryQueue) Due(key string) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	e, ok := rq.entries[key]
	return !ok || !rq.now().Before(e.NextRetry)
}

// DrainReady returns the keys whose backoff has expired, oldest failure
// first. Entries stay queued until Succeed is called.
func (rq *RetryQueue) DrainReady() []string {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	now := rq.now()
	var ready []*RetryEntry
	for _, e := range rq.entries {
		if !now.Before(e.NextRetry) {
			ready = append(ready, e)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].FailedAt.Before(ready[j].FailedAt) })

	keys := make([]string, len(ready))
	for i, e := range ready {
		keys[i] = e.Key
	}
	return keys
}

// Len returns the number of failing keys.
func (rq *RetryQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return len(rq.entries)
}

// RetryStats summarizes retry queue activity.
type RetryStats struct {
	Pending        int   `json:"pending"`
	TotalRetries   int64 `json:"total_retries"`
	TotalRecovered int64 `json:"total_recovered"`
}

// Stats returns a snapshot of the queue counters.
func (rq *RetryQueue) Stats() RetryStats {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return RetryStats{
		Pending:        len(rq.entries),
		TotalRetries:   rq.totalRetries,
		TotalRecovered: rq.totalRecovered,
	}
}
