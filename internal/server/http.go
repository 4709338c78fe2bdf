// Package server builds the HTTP router and gRPC server for the permit portal backend.
package server

import (
	"net/http"

	"github.com/rs/cors"
	"go.opentelemetry.io/otel/metric"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/security"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/server/interceptors"
)

// SessionRoutes serves the session refresh endpoints.
type SessionRoutes interface {
	Refresh(w http.ResponseWriter, r *http.Request)
	Metrics(w http.ResponseWriter, r *http.Request)
}

// PermitRoutes serves permit submission and the payment webhook.
type PermitRoutes interface {
	Submit(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
	Retry(w http.ResponseWriter, r *http.Request)
	Webhook(w http.ResponseWriter, r *http.Request)
}

// HealthRoutes serves liveness and readiness checks.
type HealthRoutes interface {
	Live(w http.ResponseWriter, r *http.Request)
	Ready(w http.ResponseWriter, r *http.Request)
}

// EventRoutes serves security event diagnostics.
type EventRoutes interface {
	Events(w http.ResponseWriter, r *http.Request)
}

// HTTPDeps holds the handlers and middleware dependencies for the HTTP API.
type HTTPDeps struct {
	// Tokens verifies bearer tokens. Required.
	Tokens interceptors.AccessValidator
	// Structure rejects malformed tokens before signature verification. May be nil.
	Structure *security.TokenValidator
	Recorder  audit.Recorder
	// Meter records per-route request durations. May be nil.
	Meter metric.Meter

	Session SessionRoutes
	Permits PermitRoutes
	Health  HealthRoutes
	// Events is mounted only when non-nil; set it in debug mode only.
	Events EventRoutes

	CORSOrigins []string
}

// NewHTTPHandler returns the API router wrapped in CORS and client-info middleware.
//
//	GET  /healthz, /readyz                           public
//	POST /api/payments/webhook                       public, signature checked by the handler
//	POST /api/session/refresh, GET /api/session/metrics   bearer token
//	POST /api/permits/applications                   bearer token
//	GET  /api/permits/applications/{id}              bearer token
//	POST /api/permits/applications/{id}/retry        bearer token
//	GET  /api/security/events                        bearer token, debug only
//
// Authenticated POST routes also record a request_audited security event.
func NewHTTPHandler(d HTTPDeps) http.Handler {
	mux := http.NewServeMux()
	auth := interceptors.Auth(d.Tokens, d.Structure, d.Recorder)

	public := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, interceptors.Telemetry(d.Meter, pattern)(h))
	}
	private := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, interceptors.Telemetry(d.Meter, pattern)(auth(h)))
	}
	audited := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, interceptors.Telemetry(d.Meter, pattern)(auth(interceptors.Audit(d.Recorder, pattern)(h))))
	}

	if d.Health != nil {
		mux.HandleFunc("GET /healthz", d.Health.Live)
		mux.HandleFunc("GET /readyz", d.Health.Ready)
	}
	if d.Session != nil {
		audited("POST /api/session/refresh", d.Session.Refresh)
		private("GET /api/session/metrics", d.Session.Metrics)
	}
	if d.Permits != nil {
		audited("POST /api/permits/applications", d.Permits.Submit)
		private("GET /api/permits/applications/{id}", d.Permits.Get)
		audited("POST /api/permits/applications/{id}/retry", d.Permits.Retry)
		public("POST /api/payments/webhook", d.Permits.Webhook)
	}
	if d.Events != nil {
		private("GET /api/security/events", d.Events.Events)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	})
	return c.Handler(interceptors.ClientInfo(mux))
}
