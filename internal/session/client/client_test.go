package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/security"
)

func issueToken(t *testing.T) (string, time.Time) {
	t.Helper()
	p, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, exp, err := p.IssueAccess("sess-1", "user-1", "a@example.com")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	return token, exp
}

func TestHTTPRefresher_Success(t *testing.T) {
	token, exp := issueToken(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.ContentLength > 0 {
			t.Error("refresh request should have no body")
		}
		c, err := r.Cookie("refresh_token")
		if err != nil || c.Value != "rt-1" {
			t.Errorf("refresh cookie = %v, %v", c, err)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"user":  map[string]string{"id": "user-1", "email": "a@example.com"},
			"token": token,
		})
	}))
	defer srv.Close()

	r := NewHTTPRefresher(srv.URL, nil, security.NewTokenValidator(15*time.Minute))
	ctx := WithCredential(context.Background(), &http.Cookie{Name: "refresh_token", Value: "rt-1"})
	sess, err := r.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if sess.AccessToken != token || sess.User.ID != "user-1" || sess.ID != "sess-1" {
		t.Errorf("session = %+v", sess)
	}
	if sess.ExpiresAt.Unix() != exp.Unix() {
		t.Errorf("expiry from claims = %v, want %v", sess.ExpiresAt, exp)
	}
	if sess.Provider != "refresh" {
		t.Errorf("provider = %q", sess.Provider)
	}
}

func TestHTTPRefresher_StatusClassification(t *testing.T) {
	testCases := []struct {
		code     int
		terminal bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusBadRequest, true},
		{http.StatusForbidden, true},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tc := range testCases {
		t.Run(http.StatusText(tc.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.code)
			}))
			defer srv.Close()

			_, err := NewHTTPRefresher(srv.URL, nil, nil).Refresh(context.Background())
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *StatusError", err)
			}
			if se.StatusCode() != tc.code || se.Terminal() != tc.terminal {
				t.Errorf("status %d terminal = %v, want %v", se.Code, se.Terminal(), tc.terminal)
			}
		})
	}
}

func TestHTTPRefresher_MalformedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"user":{"id":"u"},"token":"not.a-token"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPRefresher(srv.URL, nil, security.NewTokenValidator(time.Minute)).Refresh(context.Background())
	if !errors.Is(err, security.ErrMalformedToken) {
		t.Fatalf("err = %v, want ErrMalformedToken", err)
	}
}

func TestHTTPRefresher_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPRefresher(url, nil, nil).Refresh(context.Background())
	if err == nil {
		t.Fatal("expected network error")
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Error("network errors must not be status errors")
	}
}

func TestLocalIssuer_Refresh(t *testing.T) {
	p, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatal(err)
	}
	identity := func(context.Context) (*security.Identity, bool) {
		return &security.Identity{UserID: "user-1", Email: "a@example.com", SessionID: "sess-1"}, true
	}
	sess, err := NewLocalIssuer(p, identity).Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	id, err := p.ValidateAccess(sess.AccessToken)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if id.SessionID != "sess-1" || id.UserID != "user-1" {
		t.Errorf("identity = %+v", id)
	}
}

func TestLocalIssuer_NoIdentityIsTerminal(t *testing.T) {
	p, _ := security.NewTestTokenProvider()
	none := func(context.Context) (*security.Identity, bool) { return nil, false }
	_, err := NewLocalIssuer(p, none).Refresh(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || !se.Terminal() {
		t.Fatalf("err = %v, want terminal StatusError", err)
	}
}
