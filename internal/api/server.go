// Package api provides the HTTP server for FocusQuest.
// It exposes tick ingestion, the UI commands, read models, and a WebSocket
// live notification feed.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/focusquest/focusquest/internal/app/notify"
	"github.com/focusquest/focusquest/internal/app/reward"
	"github.com/focusquest/focusquest/internal/domain"
	"github.com/focusquest/focusquest/internal/health"
)

// Version is reported by /api/version.
var Version = "0.1.0"

// Server is the FocusQuest HTTP API server.
type Server struct {
	engine         *reward.Engine
	inbox          *notify.Inbox
	feed           *FeedHub        // live notification feed (nil if not set)
	health         *health.Checker // nil means /health always reports ok
	metricsEnabled bool
	log            *slog.Logger
}

// NewServer creates a new API server.
func NewServer(engine *reward.Engine, inbox *notify.Inbox) *Server {
	return &Server{
		engine: engine,
		inbox:  inbox,
		log:    slog.Default().With("component", "api"),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetFeed sets the live notification hub.
func (s *Server) SetFeed(h *FeedHub) { s.feed = h }

// SetHealth sets the checker behind /health.
func (s *Server) SetHealth(c *health.Checker) { s.health = c }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": Version})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.Timeout(30*time.Second)).Post("/ticks", s.handleTick)
		r.Get("/catalog", s.handleCatalog)

		r.Route("/users/{userID}", func(r chi.Router) {
			// The feed hijacks the connection, so it stays outside the timeout.
			if s.feed != nil {
				r.Get("/feed", s.feed.HandleFeed)
			}

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Post("/session", s.handleStartSession)
				r.Delete("/session", s.handleStopSession)
				r.Get("/profile", s.handleProfile)
				r.Get("/history", s.handleHistory)
				r.Get("/notifications", s.handleNotifications)
				r.Post("/notifications/{id}/shown", s.handleNotificationShown)
				r.Post("/missions/{missionID}/claim", s.handleClaimMission)
				r.Post("/purchases", s.handlePurchase)
				r.Post("/boosts/{itemID}/activate", s.handleActivateBoost)
				r.Get("/events/active", s.handleActiveEvent)
				r.Post("/events/{eventID}/advance", s.handleAdvanceEvent)
				r.Post("/events/{eventID}/resolve", s.handleResolveEvent)
			})
		})
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps a domain error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrUnknownMission),
		errors.Is(err, domain.ErrUnknownAchievement),
		errors.Is(err, domain.ErrUnknownOffer),
		errors.Is(err, domain.ErrUnknownItem),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMissionNotClaimable),
		errors.Is(err, domain.ErrItemNotOwned),
		errors.Is(err, domain.ErrNotABoost),
		errors.Is(err, domain.ErrInvalidEventTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTick),
		errors.Is(err, domain.ErrInvalidOutcome):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTransientStore):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
