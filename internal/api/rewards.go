package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/focusquest/focusquest/internal/domain"
)

// ─── Reward API (/api/v1/*) ─────────────────────────────────────────────────

// --- POST /ticks ---

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var tick domain.Tick
	if err := json.NewDecoder(r.Body).Decode(&tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.engine.HandleTick(r.Context(), tick)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- GET /catalog ---

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	c := s.engine.Catalog()
	visible := make([]domain.AchievementDef, 0, len(c.Achievements))
	for _, a := range c.Achievements {
		if !a.Hidden {
			visible = append(visible, a)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"missions":     c.Missions,
		"achievements": visible,
		"items":        c.Items,
		"offers":       c.Offers,
	})
}

// --- /users/{userID}/session ---

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.StartSession(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "monitoring"})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	s.engine.StopSession(r.Context(), chi.URLParam(r, "userID"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// --- Read models ---

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Profile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.Ledger().History(r.Context(), chi.URLParam(r, "userID"), queryLimit(r, 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.RewardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	notifs, err := s.inbox.Pending(r.Context(), chi.URLParam(r, "userID"), queryLimit(r, 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if notifs == nil {
		notifs = []domain.InboxNotification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": notifs})
}

func (s *Server) handleNotificationShown(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := s.inbox.MarkShown(r.Context(), chi.URLParam(r, "userID"), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- UI commands ---

func (s *Server) handleClaimMission(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "missionID")
	completed, err := s.engine.ClaimMission(r.Context(), chi.URLParam(r, "userID"), missionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mission_id": missionID,
		"completed":  completed,
	})
}

type purchaseRequest struct {
	OfferID string `json:"offer_id"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OfferID == "" {
		writeError(w, http.StatusBadRequest, "offer_id is required")
		return
	}
	receipt, err := s.engine.Purchase(r.Context(), chi.URLParam(r, "userID"), req.OfferID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleActivateBoost(w http.ResponseWriter, r *http.Request) {
	boost, err := s.engine.ActivateBoost(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "itemID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, boost)
}

func (s *Server) handleActiveEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.engine.ActiveEvent(chi.URLParam(r, "userID"))
	if !ok {
		writeError(w, http.StatusNotFound, "no active event")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type advanceRequest struct {
	Delta int64 `json:"delta"`
}

func (s *Server) handleAdvanceEvent(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Delta <= 0 {
		writeError(w, http.StatusBadRequest, "delta must be a positive integer")
		return
	}
	userID, eventID := chi.URLParam(r, "userID"), chi.URLParam(r, "eventID")
	if !s.engine.AdvanceEvent(r.Context(), userID, eventID, req.Delta) {
		writeDomainError(w, fmt.Errorf("advance %s: %w", eventID, domain.ErrInvalidEventTransition))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

func (s *Server) handleResolveEvent(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		writeDomainError(w, fmt.Errorf("resolve: %q: %w", req.Outcome, err))
		return
	}
	userID, eventID := chi.URLParam(r, "userID"), chi.URLParam(r, "eventID")
	if !s.engine.ResolveEvent(r.Context(), userID, eventID, outcome) {
		writeDomainError(w, fmt.Errorf("resolve %s: %w", eventID, domain.ErrInvalidEventTransition))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "outcome": string(outcome)})
}

func queryLimit(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 500 {
		return n
	}
	return def
}
