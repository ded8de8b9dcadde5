package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/focusquest/focusquest/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeWrites struct {
	pending int
	flushes int
	drain   bool
}

func (f *fakeWrites) Pending() int { return f.pending }

func (f *fakeWrites) Flush(ctx context.Context) int {
	f.flushes++
	if f.drain {
		f.pending = 0
	}
	return f.pending
}

type deadStore struct{}

func (deadStore) Ping(ctx context.Context) error { return errors.New("database is locked") }

func newChecker(t *testing.T, store Pinger, w *fakeWrites, dataDir string) *Checker {
	t.Helper()
	return NewChecker(Deps{
		Store:      store,
		Pending:    w.Pending,
		Flush:      w.Flush,
		Backlog:    func() int { return 0 },
		DataDir:    dataDir,
		MaxPending: 10,
	}, 0)
}

func statusOf(t *testing.T, statuses []Status, name string) Status {
	t.Helper()
	for _, s := range statuses {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no status for check %q", name)
	return Status{}
}

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestNewChecker(t *testing.T) {
	c := newChecker(t, newTestDB(t), &fakeWrites{}, t.TempDir())
	if len(c.checks) != 4 {
		t.Errorf("checks = %d, want 4", len(c.checks))
	}

	noBacklog := NewChecker(Deps{Store: newTestDB(t), Pending: func() int { return 0 }}, 0)
	if len(noBacklog.checks) != 3 {
		t.Errorf("checks without backlog probe = %d, want 3", len(noBacklog.checks))
	}
}

func TestChecker_RunAllHealthy(t *testing.T) {
	c := newChecker(t, newTestDB(t), &fakeWrites{pending: 3}, t.TempDir())
	statuses := c.RunOnce(context.Background())

	if len(statuses) != 4 {
		t.Fatalf("Statuses() = %d, want 4", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() = false, want true")
	}
}

func TestChecker_StoreDown(t *testing.T) {
	c := newChecker(t, deadStore{}, &fakeWrites{}, t.TempDir())
	statuses := c.RunOnce(context.Background())

	if s := statusOf(t, statuses, "sqlite"); s.Healthy || s.Error == "" {
		t.Errorf("sqlite status = %+v, want unhealthy with error", s)
	}
	if c.IsHealthy() {
		t.Error("IsHealthy() = true with a dead store")
	}
}

func TestChecker_PendingWritesTriggerFlush(t *testing.T) {
	tests := []struct {
		name    string
		pending int
		drain   bool
		flushes int
	}{
		{"below limit", 10, false, 0},
		{"over limit drained", 11, true, 1},
		{"over limit stuck", 50, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWrites{pending: tt.pending, drain: tt.drain}
			c := newChecker(t, newTestDB(t), w, t.TempDir())
			s := statusOf(t, c.RunOnce(context.Background()), "pending_writes")

			if w.flushes != tt.flushes {
				t.Errorf("flushes = %d, want %d", w.flushes, tt.flushes)
			}
			if s.Healthy != (tt.pending <= 10) {
				t.Errorf("healthy = %v with %d pending", s.Healthy, tt.pending)
			}
		})
	}
}

func TestChecker_DataDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "state")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		dir     string
		healthy bool
	}{
		{"directory", t.TempDir(), true},
		{"missing", filepath.Join(t.TempDir(), "gone"), false},
		{"not a directory", file, false},
		{"unset", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := checkDataDir(tt.dir); (err == nil) != tt.healthy {
				t.Errorf("checkDataDir(%q) = %v, healthy want %v", tt.dir, err, tt.healthy)
			}
		})
	}
}

func TestChecker_NotificationBacklog(t *testing.T) {
	c := NewChecker(Deps{
		Store:      newTestDB(t),
		Pending:    func() int { return 0 },
		Flush:      func(context.Context) int { return 0 },
		Backlog:    func() int { return 600 },
		MaxBacklog: 512,
	}, 0)
	if s := statusOf(t, c.RunOnce(context.Background()), "notification_backlog"); s.Healthy {
		t.Error("backlog of 600 reported healthy")
	}
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	c := newChecker(t, newTestDB(t), &fakeWrites{}, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if len(c.Statuses()) == 0 {
		t.Error("Run did not perform the initial check")
	}
}
