package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/focusquest/focusquest/internal/app/engagement"
	"github.com/focusquest/focusquest/internal/app/notify"
	"github.com/focusquest/focusquest/internal/app/reward"
	"github.com/focusquest/focusquest/internal/domain"
	"github.com/focusquest/focusquest/internal/health"
	"github.com/focusquest/focusquest/internal/infra/sqlite"
)

type testRig struct {
	srv    *Server
	engine *reward.Engine
	feed   *FeedHub
	db     *sqlite.DB
}

func newTestServer(t *testing.T) *testRig {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	catalog, err := engagement.DefaultCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	inbox := notify.NewInbox(db, domain.NotificationPolicy{MaxPerDay: 100}, time.Second)
	feed := NewFeedHub()
	t.Cleanup(feed.Close)
	pub := domain.PublisherFunc(func(n domain.Notification) {
		inbox.Notify(n)
		feed.Notify(n)
	})

	opts := reward.DefaultOptions()
	opts.StoreTimeout = time.Second
	opts.Events.Chance = 0
	engine, err := reward.New(db, catalog, pub, opts)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(engine.Shutdown)

	srv := NewServer(engine, inbox)
	srv.SetFeed(feed)
	srv.EnableMetrics()
	return &testRig{srv: srv, engine: engine, feed: feed, db: db}
}

func (rig *testRig) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	rig.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

// ─── Health & Metadata ──────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	rig := newTestServer(t)
	w := rig.do(t, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

type deadStore struct{}

func (deadStore) Ping(context.Context) error { return errors.New("disk I/O error") }

func TestHealth_Degraded(t *testing.T) {
	rig := newTestServer(t)
	checker := health.NewChecker(health.Deps{
		Store:   deadStore{},
		Pending: rig.engine.Pending,
		Flush:   func(context.Context) int { return 0 },
	}, 0)
	checker.RunOnce(context.Background())
	rig.srv.SetHealth(checker)

	w := rig.do(t, "GET", "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	var body struct {
		Status string          `json:"status"`
		Checks []health.Status `json:"checks"`
	}
	decode(t, w, &body)
	if body.Status != "degraded" || len(body.Checks) == 0 {
		t.Errorf("body = %+v", body)
	}
}

func TestVersionAndMetrics(t *testing.T) {
	rig := newTestServer(t)
	if w := rig.do(t, "GET", "/api/version", ""); !strings.Contains(w.Body.String(), Version) {
		t.Errorf("version body = %s", w.Body.String())
	}

	rig.do(t, "POST", "/api/v1/ticks", `{"user_id":"u1","app_name":"Code","productive":true}`)
	w := rig.do(t, "GET", "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "focusquest_ticks_processed_total") {
		t.Errorf("metrics missing tick counter (status %d)", w.Code)
	}
}

func TestCatalog_HidesHiddenAchievements(t *testing.T) {
	rig := newTestServer(t)
	w := rig.do(t, "GET", "/api/v1/catalog", "")
	var body struct {
		Missions     []domain.MissionDef     `json:"missions"`
		Achievements []domain.AchievementDef `json:"achievements"`
	}
	decode(t, w, &body)
	if len(body.Missions) != 6 || len(body.Achievements) != 8 {
		t.Errorf("missions %d achievements %d, want 6/8", len(body.Missions), len(body.Achievements))
	}
}

// ─── Ticks ──────────────────────────────────────────────────────────────────

func TestTick(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"productive", `{"user_id":"u1","app_name":"Visual Studio Code","productive":true}`, http.StatusOK},
		{"missing user", `{"app_name":"Code"}`, http.StatusBadRequest},
		{"bad json", `{"user_id":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestServer(t)
			w := rig.do(t, "POST", "/api/v1/ticks", tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var res reward.TickResult
			decode(t, w, &res)
			if res.Category != "coding" || len(res.Metrics) != 1 || res.Metrics[0] != "time-coding" {
				t.Errorf("result = %+v", res)
			}
			if res.XP.NewXP != 1 {
				t.Errorf("xp = %+v, want 1 XP", res.XP)
			}
		})
	}
}

// ─── Commands ───────────────────────────────────────────────────────────────

func TestClaimMission(t *testing.T) {
	tests := []struct {
		mission string
		status  int
	}{
		{"daily_checkin", http.StatusOK},
		{"deep_work", http.StatusConflict},
		{"no_such_mission", http.StatusNotFound},
	}
	rig := newTestServer(t)
	for _, tt := range tests {
		w := rig.do(t, "POST", "/api/v1/users/u1/missions/"+tt.mission+"/claim", "")
		if w.Code != tt.status {
			t.Errorf("claim %s: status = %d, want %d", tt.mission, w.Code, tt.status)
		}
	}

	var again struct {
		Completed bool `json:"completed"`
	}
	decode(t, rig.do(t, "POST", "/api/v1/users/u1/missions/daily_checkin/claim", ""), &again)
	if again.Completed {
		t.Error("second claim reported completion")
	}
}

func TestPurchase(t *testing.T) {
	rig := newTestServer(t)

	if w := rig.do(t, "POST", "/api/v1/users/u1/purchases", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty body: status = %d, want 400", w.Code)
	}
	if w := rig.do(t, "POST", "/api/v1/users/u1/purchases", `{"offer_id":"nope"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown offer: status = %d, want 404", w.Code)
	}
	if w := rig.do(t, "POST", "/api/v1/users/u1/purchases", `{"offer_id":"offer_boost_2x"}`); w.Code != http.StatusPaymentRequired {
		t.Errorf("broke user: status = %d, want 402", w.Code)
	}

	if _, err := rig.engine.Ledger().AwardCoins(context.Background(), "u1", 200, "test", "", ""); err != nil {
		t.Fatalf("fund: %v", err)
	}
	w := rig.do(t, "POST", "/api/v1/users/u1/purchases", `{"offer_id":"offer_boost_2x"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("purchase: status = %d: %s", w.Code, w.Body.String())
	}
	var receipt domain.Receipt
	decode(t, w, &receipt)
	if receipt.Balance != 50 || receipt.Owned != 1 {
		t.Errorf("receipt = %+v", receipt)
	}

	if w := rig.do(t, "POST", "/api/v1/users/u1/boosts/boost_2x/activate", ""); w.Code != http.StatusOK {
		t.Errorf("activate: status = %d", w.Code)
	}
	if w := rig.do(t, "POST", "/api/v1/users/u1/boosts/boost_2x/activate", ""); w.Code != http.StatusConflict {
		t.Errorf("activate without stock: status = %d, want 409", w.Code)
	}
	if w := rig.do(t, "POST", "/api/v1/users/u1/boosts/nope/activate", ""); w.Code != http.StatusNotFound {
		t.Errorf("activate unknown: status = %d, want 404", w.Code)
	}
}

func TestEvents_NoActiveEvent(t *testing.T) {
	rig := newTestServer(t)

	if w := rig.do(t, "GET", "/api/v1/users/u1/events/active", ""); w.Code != http.StatusNotFound {
		t.Errorf("active: status = %d, want 404", w.Code)
	}
	if w := rig.do(t, "POST", "/api/v1/users/u1/events/ev1/resolve", `{"outcome":"WON"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad outcome: status = %d, want 400", w.Code)
	}
	if w := rig.do(t, "POST", "/api/v1/users/u1/events/ev1/resolve", `{"outcome":"VICTORY"}`); w.Code != http.StatusConflict {
		t.Errorf("stale event: status = %d, want 409", w.Code)
	}
	if w := rig.do(t, "POST", "/api/v1/users/u1/events/ev1/advance", `{"delta":0}`); w.Code != http.StatusBadRequest {
		t.Errorf("zero delta: status = %d, want 400", w.Code)
	}
}

func TestSessionAndProfile(t *testing.T) {
	rig := newTestServer(t)
	if w := rig.do(t, "POST", "/api/v1/users/u1/session", ""); w.Code != http.StatusOK {
		t.Fatalf("start session: status = %d", w.Code)
	}
	defer rig.do(t, "DELETE", "/api/v1/users/u1/session", "")

	w := rig.do(t, "GET", "/api/v1/users/u1/profile", "")
	if w.Code != http.StatusOK {
		t.Fatalf("profile: status = %d", w.Code)
	}
	var p reward.Profile
	decode(t, w, &p)
	if p.Level != 1 || p.RequiredXP != 1000 || len(p.Missions) != 6 {
		t.Errorf("profile = level %d required %d missions %d", p.Level, p.RequiredXP, len(p.Missions))
	}
}

func TestNotificationsInbox(t *testing.T) {
	rig := newTestServer(t)
	rig.do(t, "POST", "/api/v1/users/u1/missions/daily_checkin/claim", "")

	var body struct {
		Notifications []domain.InboxNotification `json:"notifications"`
	}
	decode(t, rig.do(t, "GET", "/api/v1/users/u1/notifications", ""), &body)
	if len(body.Notifications) == 0 {
		t.Fatal("no toasts after completing a mission")
	}

	id := body.Notifications[0].ID
	if w := rig.do(t, "POST", fmt.Sprintf("/api/v1/users/u1/notifications/%d/shown", id), ""); w.Code != http.StatusOK {
		t.Errorf("mark shown: status = %d", w.Code)
	}
	if w := rig.do(t, "POST", "/api/v1/users/u1/notifications/99999/shown", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", w.Code)
	}
	if w := rig.do(t, "POST", "/api/v1/users/u1/notifications/abc/shown", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", w.Code)
	}
}

// ─── Live Feed ──────────────────────────────────────────────────────────────

func TestFeed_DeliversOnlyOwnNotifications(t *testing.T) {
	rig := newTestServer(t)
	ts := httptest.NewServer(rig.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/users/u1/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for rig.feed.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	rig.feed.Notify(domain.XPChanged{UserID: "u2", Amount: 5})
	rig.feed.Notify(domain.LevelUp{UserID: "u1", NewLevel: 2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env struct {
		Type    domain.NotificationKind `json:"type"`
		Payload domain.LevelUp          `json:"payload"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
	if env.Type != domain.KindLevelUp || env.Payload.NewLevel != 2 {
		t.Errorf("envelope = %+v", env)
	}
}

// ─── Error Mapping ──────────────────────────────────────────────────────────

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInsufficientFunds, http.StatusPaymentRequired},
		{fmt.Errorf("claim x: %w", domain.ErrUnknownMission), http.StatusNotFound},
		{domain.ErrUnknownOffer, http.StatusNotFound},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrMissionNotClaimable, http.StatusConflict},
		{domain.ErrItemNotOwned, http.StatusConflict},
		{domain.ErrInvalidEventTransition, http.StatusConflict},
		{domain.ErrInvalidTick, http.StatusBadRequest},
		{domain.ErrInvalidOutcome, http.StatusBadRequest},
		{domain.ErrTransientStore, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
