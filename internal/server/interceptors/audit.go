package interceptors

import (
	"net/http"
	"time"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit"
	auditdomain "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
)

// Audit returns middleware that records a request_audited event after each request to route.
// Action and resource come from audit.ParseRoute. Requests without an identity are not recorded;
// mount it inside Auth. Recording is best-effort and never changes the response.
func Audit(recorder audit.Recorder, route string) func(http.Handler) http.Handler {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	ar := audit.ParseRoute(route)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			userID, ok := GetUserID(r.Context())
			if !ok {
				return
			}
			recorder.Record(r.Context(), auditdomain.KindRequestAudited, auditdomain.RequestDetails{
				Method:   r.Method,
				Route:    route,
				Action:   ar.Action,
				Resource: ar.Resource,
				UserID:   userID,
				Status:   rec.status,
				Duration: time.Since(start),
			})
		})
	}
}
