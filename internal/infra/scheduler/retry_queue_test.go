package scheduler

import (
	"errors"
	"testing"
	"time"
)

// ─── Retry Queue Tests ──────────────────────────────────────────────────────

func newTestQueue(cfg RetryConfig) (*RetryQueue, *time.Time) {
	rq := NewRetryQueue(cfg)
	clock := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	rq.now = func() time.Time { return clock }
	return rq, &clock
}

func TestRetryQueue_ExponentialBackoff(t *testing.T) {
	rq, _ := newTestQueue(RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second})

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		e := rq.Fail("ledger:u1", errors.New("disk I/O error"))
		if got := e.NextRetry.Sub(e.FailedAt); got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
		if e.Attempt != i+1 {
			t.Errorf("attempt = %d, want %d", e.Attempt, i+1)
		}
	}
}

func TestRetryQueue_DueAndDrain(t *testing.T) {
	rq, clock := newTestQueue(RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute})

	if !rq.Due("ledger:u1") {
		t.Error("unknown key should be due")
	}

	rq.Fail("ledger:u1", nil)
	*clock = clock.Add(10 * time.Millisecond)
	rq.Fail("ledger:u2", nil)

	if rq.Due("ledger:u1") {
		t.Error("key inside backoff window should not be due")
	}
	if ready := rq.DrainReady(); len(ready) != 0 {
		t.Fatalf("expected nothing ready, got %v", ready)
	}

	*clock = clock.Add(2 * time.Second)
	ready := rq.DrainReady()
	if len(ready) != 2 || ready[0] != "ledger:u1" || ready[1] != "ledger:u2" {
		t.Fatalf("DrainReady() = %v, want oldest failure first", ready)
	}
	if rq.Len() != 2 {
		t.Error("drain must not remove entries")
	}
}

func TestRetryQueue_Succeed(t *testing.T) {
	rq, _ := newTestQueue(DefaultRetryConfig())

	if rq.Succeed("missing") {
		t.Error("Succeed on unknown key should return false")
	}
	rq.Fail("missions:u1", errors.New("locked"))
	if !rq.Succeed("missions:u1") {
		t.Error("Succeed on failing key should return true")
	}
	stats := rq.Stats()
	if stats.Pending != 0 || stats.TotalRetries != 1 || stats.TotalRecovered != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestRetryQueue_ConfigDefaults(t *testing.T) {
	rq := NewRetryQueue(RetryConfig{})
	if rq.config.BaseDelay != time.Second || rq.config.MaxDelay != time.Second {
		t.Errorf("config = %+v", rq.config)
	}
}
