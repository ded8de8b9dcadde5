package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/focusquest/focusquest/internal/domain"
	"github.com/focusquest/focusquest/internal/infra/metrics"
)

const (
	feedSendBuffer = 64
	feedWriteWait  = 10 * time.Second
)

type feedClient struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

func (c *feedClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// FeedHub pushes notifications to WebSocket clients, each subscribed to a
// single user. It is a notify.Listener. Clients that cannot keep up are
// disconnected.
type FeedHub struct {
	mu       sync.RWMutex
	clients  map[*feedClient]struct{}
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewFeedHub creates an empty hub.
func NewFeedHub() *FeedHub {
	return &FeedHub{
		clients: make(map[*feedClient]struct{}),
		upgrader: websocket.Upgrader{
			// Desktop overlays connect from file:// and localhost origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: slog.Default().With("component", "feed"),
	}
}

// HandleFeed upgrades GET /users/{userID}/feed to a WebSocket.
func (h *FeedHub) HandleFeed(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("feed upgrade failed", "user", userID, "err", err)
		return
	}

	c := h.add(userID, conn)
	h.log.Debug("feed client connected", "user", userID, "remote", r.RemoteAddr)

	go func() {
		defer func() {
			h.remove(c)
			h.log.Debug("feed client disconnected", "user", userID)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Notify implements notify.Listener.
func (h *FeedHub) Notify(n domain.Notification) {
	data, err := domain.MarshalNotification(n)
	if err != nil {
		h.log.Error("feed marshal failed", "type", n.Kind(), "err", err)
		return
	}

	// Sends never block, so they run under the read lock; remove closes
	// send channels under the write lock.
	var slow []*feedClient
	h.mu.RLock()
	for c := range h.clients {
		if c.userID != n.User() {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("feed client too slow, disconnecting", "user", c.userID)
		metrics.FeedDropped.Inc()
		h.remove(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *FeedHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *FeedHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	metrics.FeedClients.Set(0)
}

func (h *FeedHub) add(userID string, conn *websocket.Conn) *feedClient {
	c := &feedClient{userID: userID, conn: conn, send: make(chan []byte, feedSendBuffer)}
	go c.writePump()

	h.mu.Lock()
	h.clients[c] = struct{}{}
	metrics.FeedClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
	return c
}

func (h *FeedHub) remove(c *feedClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	metrics.FeedClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
}
