// Package handler serves security event diagnostics. Routes are mounted only in debug mode.
package handler

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/repository"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/server/respond"
)

const (
	defaultWindow = 5 * time.Minute
	defaultLimit  = 100
	maxLimit      = 1000
)

// EventSource is the in-memory security event buffer.
type EventSource interface {
	Query(kind domain.Kind, window time.Duration) []domain.SecurityEvent
	Recent(window time.Duration) []domain.SecurityEvent
}

// History reads persisted security events.
type History interface {
	ListByKind(ctx context.Context, kind domain.Kind, since time.Time, limit int32) ([]*repository.StoredEvent, error)
}

// Server serves GET /api/security/events.
type Server struct {
	events  EventSource
	history History
	nowF    func() time.Time
}

// NewServer returns a diagnostics server. history may be nil when no database is configured.
func NewServer(events EventSource, history History) *Server {
	return &Server{events: events, history: history, nowF: time.Now}
}

type eventsResponse struct {
	Window string `json:"window"`
	Count  int    `json:"count"`
	Events any    `json:"events"`
}

// Events handles GET /api/security/events?type=&window=&source=&limit=.
// source=store reads persisted history instead of the in-memory buffer.
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window := defaultWindow
	if v := q.Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			respond.Error(w, http.StatusBadRequest, "INVALID_WINDOW", "window must be a non-negative duration", false)
			return
		}
		window = d
	}
	kind := domain.Kind(q.Get("type"))

	if q.Get("source") == "store" {
		s.fromHistory(w, r, kind, window)
		return
	}
	var events []domain.SecurityEvent
	if kind == "" {
		events = s.events.Recent(window)
	} else {
		events = s.events.Query(kind, window)
	}
	if events == nil {
		events = []domain.SecurityEvent{}
	}
	respond.JSON(w, http.StatusOK, eventsResponse{Window: window.String(), Count: len(events), Events: events})
}

func (s *Server) fromHistory(w http.ResponseWriter, r *http.Request, kind domain.Kind, window time.Duration) {
	if s.history == nil {
		respond.Error(w, http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "event history not configured", false)
		return
	}
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respond.Error(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false)
			return
		}
		limit = min(n, maxLimit)
	}
	var since time.Time
	if window > 0 {
		since = s.nowF().UTC().Add(-window)
	}
	events, err := s.history.ListByKind(r.Context(), kind, since, int32(limit))
	if err != nil {
		log.Printf("audit: list security events: %v", err)
		respond.Error(w, http.StatusInternalServerError, "UNEXPECTED_ERROR", "could not load events", true)
		return
	}
	if events == nil {
		events = []*repository.StoredEvent{}
	}
	respond.JSON(w, http.StatusOK, eventsResponse{Window: window.String(), Count: len(events), Events: events})
}
