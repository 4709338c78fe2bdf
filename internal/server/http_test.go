package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	auditdomain "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/security"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/server/interceptors"
)

// stubRoutes answers every route with 200 and records the last one hit.
type stubRoutes struct {
	hit    string
	userID string
	pathID string
}

func (s *stubRoutes) handle(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.hit = name
		s.userID, _ = interceptors.GetUserID(r.Context())
		s.pathID = r.PathValue("id")
		w.WriteHeader(http.StatusOK)
	}
}

func (s *stubRoutes) Refresh(w http.ResponseWriter, r *http.Request) { s.handle("refresh")(w, r) }
func (s *stubRoutes) Metrics(w http.ResponseWriter, r *http.Request) { s.handle("metrics")(w, r) }
func (s *stubRoutes) Submit(w http.ResponseWriter, r *http.Request)  { s.handle("submit")(w, r) }
func (s *stubRoutes) Get(w http.ResponseWriter, r *http.Request)     { s.handle("get")(w, r) }
func (s *stubRoutes) Retry(w http.ResponseWriter, r *http.Request)   { s.handle("retry")(w, r) }
func (s *stubRoutes) Webhook(w http.ResponseWriter, r *http.Request) { s.handle("webhook")(w, r) }
func (s *stubRoutes) Live(w http.ResponseWriter, r *http.Request)    { s.handle("live")(w, r) }
func (s *stubRoutes) Ready(w http.ResponseWriter, r *http.Request)   { s.handle("ready")(w, r) }
func (s *stubRoutes) Events(w http.ResponseWriter, r *http.Request)  { s.handle("events")(w, r) }

func newTestHandler(t *testing.T, debug bool) (http.Handler, *stubRoutes, string) {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, err := tokens.IssueAccess("sess-1", "user-1", "ada@example.com")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	routes := &stubRoutes{}
	deps := HTTPDeps{
		Tokens:      tokens,
		Structure:   security.NewTokenValidator(time.Minute),
		Session:     routes,
		Permits:     routes,
		Health:      routes,
		CORSOrigins: []string{"https://portal.almaroof.ng"},
	}
	if debug {
		deps.Events = routes
	}
	return NewHTTPHandler(deps), routes, token
}

func TestHTTPHandler_Routes(t *testing.T) {
	h, routes, token := newTestHandler(t, true)

	tests := []struct {
		method string
		path   string
		auth   bool
		want   string
	}{
		{http.MethodGet, "/healthz", false, "live"},
		{http.MethodGet, "/readyz", false, "ready"},
		{http.MethodPost, "/api/payments/webhook", false, "webhook"},
		{http.MethodPost, "/api/session/refresh", true, "refresh"},
		{http.MethodGet, "/api/session/metrics", true, "metrics"},
		{http.MethodPost, "/api/permits/applications", true, "submit"},
		{http.MethodGet, "/api/permits/applications/p-1", true, "get"},
		{http.MethodPost, "/api/permits/applications/p-1/retry", true, "retry"},
		{http.MethodGet, "/api/security/events", true, "events"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			routes.hit = ""
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != http.StatusOK || routes.hit != tt.want {
				t.Errorf("status = %d, hit = %q; want 200, %q", w.Code, routes.hit, tt.want)
			}
			if tt.auth && routes.userID != "user-1" {
				t.Errorf("identity user = %q, want user-1", routes.userID)
			}
		})
	}
	if routes.pathID != "" {
		t.Errorf("events route saw path id %q", routes.pathID)
	}
}

func TestHTTPHandler_PrivateRoutesRequireToken(t *testing.T) {
	h, routes, _ := newTestHandler(t, true)
	for _, path := range []string{"/api/permits/applications", "/api/session/refresh"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, w.Code)
		}
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/permits/applications", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("malformed token status = %d, want 401", w.Code)
	}
	if routes.hit != "" {
		t.Errorf("handler %q ran without a valid token", routes.hit)
	}
}

func TestHTTPHandler_EventsOnlyInDebug(t *testing.T) {
	h, _, token := newTestHandler(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/security/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 outside debug mode", w.Code)
	}
}

func TestHTTPHandler_PathID(t *testing.T) {
	h, routes, token := newTestHandler(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/permits/applications/p-42/retry", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if routes.pathID != "p-42" {
		t.Errorf("path id = %q, want p-42", routes.pathID)
	}
}

func TestHTTPHandler_CORS(t *testing.T) {
	h, _, _ := newTestHandler(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/permits/applications", nil)
	req.Header.Set("Origin", "https://portal.almaroof.ng")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Idempotency-Key")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://portal.almaroof.ng" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/permits/applications", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unknown origin allowed: %q", got)
	}
}

type actionRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (a *actionRecorder) Record(_ context.Context, kind auditdomain.Kind, details auditdomain.Details) {
	if kind != auditdomain.KindRequestAudited {
		return
	}
	a.mu.Lock()
	a.actions = append(a.actions, details.(auditdomain.RequestDetails).Action)
	a.mu.Unlock()
}

func TestHTTPHandler_AuditsAuthenticatedWrites(t *testing.T) {
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, err := tokens.IssueAccess("sess-1", "user-1", "ada@example.com")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	rec := &actionRecorder{}
	routes := &stubRoutes{}
	h := NewHTTPHandler(HTTPDeps{Tokens: tokens, Recorder: rec, Session: routes, Permits: routes, Health: routes})

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/permits/applications"},
		{http.MethodGet, "/api/permits/applications/p-1"},
		{http.MethodPost, "/api/permits/applications/p-1/retry"},
		{http.MethodPost, "/api/session/refresh"},
		{http.MethodGet, "/api/session/metrics"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	want := []string{"create", "retry", "refresh"}
	if len(rec.actions) != len(want) {
		t.Fatalf("audited actions = %v, want %v", rec.actions, want)
	}
	for i := range want {
		if rec.actions[i] != want[i] {
			t.Errorf("audited actions = %v, want %v", rec.actions, want)
		}
	}
}
