// Package health tracks readiness of the database, idempotency store and pattern policy, and
// publishes it through the standard gRPC health service and HTTP endpoints.
package health

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/server/respond"
)

// ServiceName is the gRPC health service name reported alongside the overall ("") status.
const ServiceName = "almaroof.permits"

const checkTimeout = 2 * time.Second

// Pinger checks connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the pattern policy evaluates.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// KeyStoreChecker checks the shared idempotency key store.
type KeyStoreChecker interface {
	Ping(ctx context.Context) error
}

// Report is the outcome of one readiness check. Failed lists the dependencies that did not answer.
type Report struct {
	Ready     bool      `json:"ready"`
	Failed    []string  `json:"failed,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Monitor runs readiness checks and mirrors the result into a gRPC health server.
// Nil dependencies are skipped.
type Monitor struct {
	db     Pinger
	policy PolicyChecker
	keys   KeyStoreChecker
	grpc   *health.Server
	nowF   func() time.Time

	mu   sync.RWMutex
	last Report
}

// NewMonitor returns a Monitor. Any dependency may be nil.
func NewMonitor(db Pinger, policy PolicyChecker, keys KeyStoreChecker) *Monitor {
	return &Monitor{
		db:     db,
		policy: policy,
		keys:   keys,
		grpc:   health.NewServer(),
		nowF:   time.Now,
	}
}

// GRPCServer returns the health server to register with grpc_health_v1.RegisterHealthServer.
func (m *Monitor) GRPCServer() *health.Server {
	return m.grpc
}

// Check pings every configured dependency and updates the serving status.
func (m *Monitor) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var failed []string
	if m.db != nil {
		if err := m.db.PingContext(ctx); err != nil {
			log.Printf("health: database ping failed: %v", err)
			failed = append(failed, "database")
		}
	}
	if m.keys != nil {
		if err := m.keys.Ping(ctx); err != nil {
			log.Printf("health: idempotency store ping failed: %v", err)
			failed = append(failed, "idempotency_store")
		}
	}
	if m.policy != nil {
		if err := m.policy.HealthCheck(ctx); err != nil {
			log.Printf("health: security policy check failed: %v", err)
			failed = append(failed, "security_policy")
		}
	}

	rep := Report{Ready: len(failed) == 0, Failed: failed, CheckedAt: m.nowF().UTC()}
	status := healthpb.HealthCheckResponse_SERVING
	if !rep.Ready {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.grpc.SetServingStatus("", status)
	m.grpc.SetServingStatus(ServiceName, status)

	m.mu.Lock()
	m.last = rep
	m.mu.Unlock()
	return rep
}

// Last returns the most recent report.
func (m *Monitor) Last() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Run checks immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING so load balancers drain before the listeners close.
func (m *Monitor) Shutdown() {
	m.grpc.Shutdown()
}

// Live handles GET /healthz. It reports process liveness only.
func (m *Monitor) Live(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /readyz with a fresh check.
func (m *Monitor) Ready(w http.ResponseWriter, r *http.Request) {
	rep := m.Check(r.Context())
	status := http.StatusOK
	if !rep.Ready {
		status = http.StatusServiceUnavailable
	}
	respond.JSON(w, status, rep)
}
