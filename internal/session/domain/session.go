package domain

import "time"

// Provider tags for how a session was authenticated.
const (
	ProviderPassword = "password"
	ProviderRefresh  = "refresh"
)

// User is the subject a session belongs to.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Session is an authenticated session as seen by the caller. The refresh coordinator returns
// new Sessions but never stores them.
type Session struct {
	ID          string    `json:"sessionId,omitempty"`
	AccessToken string    `json:"token"`
	ExpiresAt   time.Time `json:"tokenExpiry"`
	Provider    string    `json:"provider,omitempty"`
	LastLoginAt time.Time `json:"lastLoginAt,omitempty"`
	User        User      `json:"user"`
}
