package interceptors

import (
	"errors"
	"net/http"
	"strings"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit"
	auditdomain "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/security"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/server/respond"
)

const bearerPrefix = "bearer "

// AccessValidator verifies an access token's signature and claims.
type AccessValidator interface {
	ValidateAccess(token string) (*security.Identity, error)
}

// Auth returns middleware that requires a valid Bearer access token and stores the identity in context.
// Structurally broken tokens are recorded as token_malformed; missing or rejected tokens as auth_required.
func Auth(tokens AccessValidator, structure *security.TokenValidator, recorder audit.Recorder) func(http.Handler) http.Handler {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := BearerToken(r)
			if token == "" {
				recorder.Record(ctx, auditdomain.KindAuthRequired, auditdomain.TokenDetails{Reason: "missing bearer token"})
				respond.Error(w, http.StatusUnauthorized, "AUTH_REQUIRED", "missing or invalid authorization", false)
				return
			}
			if structure != nil {
				if _, err := structure.ValidateStructure(token); err != nil {
					details := auditdomain.TokenDetails{Reason: err.Error()}
					var ve *security.ValidationError
					if errors.As(err, &ve) {
						details.Missing = ve.Missing
					}
					recorder.Record(ctx, auditdomain.KindTokenMalformed, details)
					respond.Error(w, http.StatusUnauthorized, "AUTH_REQUIRED", "missing or invalid authorization", false)
					return
				}
			}
			id, err := tokens.ValidateAccess(token)
			if err != nil {
				recorder.Record(ctx, auditdomain.KindAuthRequired, auditdomain.TokenDetails{Reason: err.Error()})
				respond.Error(w, http.StatusUnauthorized, "AUTH_REQUIRED", "missing or invalid authorization", false)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

// BearerToken returns the Bearer token from the Authorization header, or "" if missing or malformed.
func BearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
