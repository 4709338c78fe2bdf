// Package handler exposes the session refresh coordinator over HTTP.
package handler

import (
	"context"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/security"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/server/interceptors"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/server/respond"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/session"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/session/client"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/session/domain"
)

// RefreshCookieName is the cookie that carries the refresh credential.
const RefreshCookieName = "refresh_token"

// Server serves session routes. All routes expect the auth middleware to have set an identity.
type Server struct {
	registry *session.Registry
	cooldown time.Duration
}

// NewServer returns a session HTTP server backed by registry.
func NewServer(registry *session.Registry, cooldown time.Duration) *Server {
	return &Server{registry: registry, cooldown: cooldown}
}

// Refresh handles POST /api/session/refresh. The caller's token is returned unchanged while it
// is outside the refresh buffer. A session that must re-authenticate is dropped from the registry.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	id, ok := interceptors.GetIdentity(r.Context())
	if !ok || id.SessionID == "" {
		respond.Error(w, http.StatusUnauthorized, "AUTH_REQUIRED", "session required", false)
		return
	}
	ctx := r.Context()
	if c, err := r.Cookie(RefreshCookieName); err == nil {
		ctx = client.WithCredential(ctx, c)
	}

	sess, err := s.registry.Get(id.SessionID).EnsureFresh(ctx, currentSession(r, id))
	if err != nil {
		// The attempt cap stays in force until the idle sweep evicts the coordinator.
		if errors.Is(err, session.ErrReauthRequired) && !errors.Is(err, session.ErrMaxAttemptsExceeded) {
			s.registry.Remove(id.SessionID)
		}
		s.writeRefreshError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, sess)
}

// currentSession describes the verified token the request was authenticated with.
func currentSession(r *http.Request, id *security.Identity) *domain.Session {
	return &domain.Session{
		ID:          id.SessionID,
		AccessToken: interceptors.BearerToken(r),
		ExpiresAt:   id.ExpiresAt,
		User:        domain.User{ID: id.UserID, Email: id.Email},
	}
}

func (s *Server) writeRefreshError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrRateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(s.cooldown.Seconds()))))
		respond.Error(w, http.StatusTooManyRequests, "RATE_LIMITED", "refresh requested too soon", true)
	case errors.Is(err, session.ErrMaxAttemptsExceeded):
		respond.Error(w, http.StatusUnauthorized, "MAX_ATTEMPTS_EXCEEDED", "too many refresh attempts; sign in again", false)
	case errors.Is(err, session.ErrReauthRequired):
		respond.Error(w, http.StatusUnauthorized, "REAUTH_REQUIRED", "session expired; sign in again", false)
	case errors.Is(err, session.ErrRefreshFailed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Error(w, http.StatusServiceUnavailable, "REFRESH_FAILED", "could not refresh session", true)
	default:
		log.Printf("session: unexpected refresh error: %v", err)
		respond.Error(w, http.StatusInternalServerError, "UNEXPECTED_ERROR", "unexpected error", false)
	}
}

// Metrics handles GET /api/session/metrics for the caller's session.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := interceptors.GetSessionID(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "AUTH_REQUIRED", "session required", false)
		return
	}
	var m session.Metrics
	if c, ok := s.registry.Lookup(sessionID); ok {
		m = c.Metrics()
	}
	respond.JSON(w, http.StatusOK, m)
}
