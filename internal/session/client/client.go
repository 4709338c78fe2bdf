// Package client implements session refreshers: an HTTP client for an upstream refresh endpoint
// and a local issuer that re-signs a still-valid access token.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/security"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/session/domain"
)

const maxErrorBody = 512

// StatusError is a non-2xx response from the refresh endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("refresh endpoint returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("refresh endpoint returned %d: %s", e.Code, e.Body)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

// Terminal reports whether the status means the refresh credential itself was rejected.
// 5xx and 429 are transient.
func (e *StatusError) Terminal() bool {
	switch e.Code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

type credentialKey struct{}

// WithCredential attaches the caller's refresh cookie to ctx. The refresh call carries no body;
// the credential travels only as this cookie.
func WithCredential(ctx context.Context, cookie *http.Cookie) context.Context {
	return context.WithValue(ctx, credentialKey{}, cookie)
}

func credentialFrom(ctx context.Context) *http.Cookie {
	c, _ := ctx.Value(credentialKey{}).(*http.Cookie)
	return c
}

type refreshResponse struct {
	User        domain.User `json:"user"`
	Token       string      `json:"token"`
	TokenExpiry time.Time   `json:"tokenExpiry"`
	Provider    string      `json:"provider"`
}

// HTTPRefresher calls an upstream refresh endpoint.
type HTTPRefresher struct {
	url       string
	http      *http.Client
	validator *security.TokenValidator
	nowF      func() time.Time
}

// NewHTTPRefresher returns a refresher for url. httpClient may be nil; the coordinator bounds each call with its own timeout.
func NewHTTPRefresher(url string, httpClient *http.Client, validator *security.TokenValidator) *HTTPRefresher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPRefresher{url: url, http: httpClient, validator: validator, nowF: time.Now}
}

// Refresh POSTs to the refresh endpoint and returns the new session. A returned token that is not
// structurally valid is an error.
func (r *HTTPRefresher) Refresh(ctx context.Context) (*domain.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c := credentialFrom(ctx); c != nil {
		req.AddCookie(c)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var out refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	sess := &domain.Session{
		AccessToken: out.Token,
		ExpiresAt:   out.TokenExpiry,
		Provider:    out.Provider,
		LastLoginAt: r.nowF().UTC(),
		User:        out.User,
	}
	if sess.Provider == "" {
		sess.Provider = domain.ProviderRefresh
	}
	if r.validator != nil {
		claims, err := r.validator.ValidateStructure(out.Token)
		if err != nil {
			return nil, fmt.Errorf("refresh response token: %w", err)
		}
		if sess.ExpiresAt.IsZero() {
			sess.ExpiresAt = claims.ExpiresAt
		}
		if sess.User.ID == "" {
			sess.User.ID = claims.Subject
		}
		sess.ID = claims.SessionID
	}
	return sess, nil
}

// IdentityFunc returns the verified identity of the caller in ctx.
type IdentityFunc func(ctx context.Context) (*security.Identity, bool)

// LocalIssuer refreshes by issuing a new access token for the caller's verified identity.
type LocalIssuer struct {
	provider *security.TokenProvider
	identity IdentityFunc
}

// NewLocalIssuer returns a refresher that signs with provider.
func NewLocalIssuer(provider *security.TokenProvider, identity IdentityFunc) *LocalIssuer {
	return &LocalIssuer{provider: provider, identity: identity}
}

// Refresh issues a new token for the identity in ctx. A missing identity is a terminal 401.
func (l *LocalIssuer) Refresh(ctx context.Context) (*domain.Session, error) {
	id, ok := l.identity(ctx)
	if !ok || id == nil {
		return nil, &StatusError{Code: http.StatusUnauthorized, Body: "no verified identity"}
	}
	token, exp, err := l.provider.IssueAccess(id.SessionID, id.UserID, id.Email)
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		ID:          id.SessionID,
		AccessToken: token,
		ExpiresAt:   exp,
		Provider:    domain.ProviderRefresh,
		LastLoginAt: time.Now().UTC(),
		User:        domain.User{ID: id.UserID, Email: id.Email},
	}, nil
}
