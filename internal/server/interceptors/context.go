package interceptors

import (
	"context"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/security"
)

type contextKey struct{ name string }

var (
	identityKey = contextKey{"identity"}
	clientKey   = contextKey{"client"}
)

// Client describes where a request came from.
type Client struct {
	IP          string
	UserAgent   string
	ContextHash string
}

// WithIdentity returns a context carrying the verified identity.
// Handlers read it via GetIdentity, GetUserID and GetSessionID.
func WithIdentity(ctx context.Context, id *security.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the identity from context and true if set; otherwise nil, false.
func GetIdentity(ctx context.Context) (*security.Identity, bool) {
	v, ok := ctx.Value(identityKey).(*security.Identity)
	return v, ok && v != nil
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := GetIdentity(ctx)
	if !ok {
		return "", false
	}
	return id.UserID, true
}

// GetSessionID returns the session_id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	id, ok := GetIdentity(ctx)
	if !ok || id.SessionID == "" {
		return "", false
	}
	return id.SessionID, true
}

// WithClient returns a context carrying client info. ContextHash is derived from IP and user agent.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey, Client{
		IP:          ip,
		UserAgent:   userAgent,
		ContextHash: security.ContextHash(ip, userAgent),
	})
}

// GetClient returns the client info from context and true if set.
func GetClient(ctx context.Context) (Client, bool) {
	v, ok := ctx.Value(clientKey).(Client)
	return v, ok
}

// AuditContext returns the session ID and context hash for security events. Both may be empty.
func AuditContext(ctx context.Context) (sessionID, contextHash string) {
	sessionID, _ = GetSessionID(ctx)
	if c, ok := GetClient(ctx); ok {
		contextHash = c.ContextHash
	}
	return sessionID, contextHash
}
