package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is matched by ValidationError when the token cannot be decoded.
	ErrMalformedToken = errors.New("malformed token")
	// ErrMissingClaims is matched by ValidationError when required claims are absent.
	ErrMissingClaims = errors.New("missing required claims")
)

// Required claim names checked by ValidateStructure.
const (
	ClaimSubject   = "sub"
	ClaimIssuedAt  = "iat"
	ClaimExpiresAt = "exp"
)

// ValidationError is the typed failure returned by ValidateStructure.
// Use errors.Is with ErrMalformedToken or ErrMissingClaims to branch on the kind.
type ValidationError struct {
	Kind    error
	Missing []string
	Err     error
}

func (e *ValidationError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("%v: %s", e.Kind, strings.Join(e.Missing, ", "))
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

// Is reports whether target is the kind of this error.
func (e *ValidationError) Is(target error) bool { return target == e.Kind }

func (e *ValidationError) Unwrap() error { return e.Err }

// Claims is the decoded, unverified view of an access token used for expiry decisions.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	SessionID string
	Email     string
}

// TokenValidator performs stateless structural and expiry checks on access tokens.
// It does not verify signatures; that is TokenProvider's job.
type TokenValidator struct {
	refreshBuffer time.Duration
	parser        *jwt.Parser
	nowF          func() time.Time
}

// NewTokenValidator returns a validator that asks for a refresh once a token is within
// refreshBuffer of its expiry.
func NewTokenValidator(refreshBuffer time.Duration) *TokenValidator {
	return &TokenValidator{
		refreshBuffer: refreshBuffer,
		parser:        jwt.NewParser(),
		nowF:          time.Now,
	}
}

// ShouldRefresh is true iff expiry - now <= refresh buffer.
func (v *TokenValidator) ShouldRefresh(expiry time.Time) bool {
	return expiry.Sub(v.nowF()) <= v.refreshBuffer
}

// IsExpired is true iff now >= expiry.
func (v *TokenValidator) IsExpired(expiry time.Time) bool {
	return !v.nowF().Before(expiry)
}

// ValidateStructure decodes a three-part signed token without verifying it and checks
// that sub, iat and exp are present. It never panics on bad input; every failure is a
// *ValidationError.
func (v *TokenValidator) ValidateStructure(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if parts := strings.Split(token, "."); len(parts) != 3 {
		return nil, &ValidationError{
			Kind: ErrMalformedToken,
			Err:  fmt.Errorf("expected 3 parts, got %d", len(parts)),
		}
	}
	mc := jwt.MapClaims{}
	if _, _, err := v.parser.ParseUnverified(token, mc); err != nil {
		return nil, &ValidationError{Kind: ErrMalformedToken, Err: err}
	}

	var missing []string
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		missing = append(missing, ClaimSubject)
	}
	iat, err := mc.GetIssuedAt()
	if err != nil || iat == nil {
		missing = append(missing, ClaimIssuedAt)
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		missing = append(missing, ClaimExpiresAt)
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Kind: ErrMissingClaims, Missing: missing}
	}

	claims := &Claims{
		Subject:   sub,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
	}
	if s, ok := mc["session_id"].(string); ok {
		claims.SessionID = s
	}
	if s, ok := mc["email"].(string); ok {
		claims.Email = s
	}
	return claims, nil
}
