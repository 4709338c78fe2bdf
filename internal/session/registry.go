package session

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultIdleTTL is how long an unused session coordinator is kept.
const DefaultIdleTTL = 30 * time.Minute

// Factory builds the coordinator for a new session.
type Factory func(sessionID string) *Coordinator

type registryEntry struct {
	coord    *Coordinator
	lastUsed time.Time
}

// Registry holds one Coordinator per session ID so refresh state is isolated between tenants.
// Idle coordinators are evicted by Sweep; one with a refresh in flight is never evicted.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	factory Factory
	idleTTL time.Duration
	nowF    func() time.Time
}

// NewRegistry returns a Registry that creates coordinators with factory.
func NewRegistry(factory Factory, idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Registry{
		entries: make(map[string]*registryEntry),
		factory: factory,
		idleTTL: idleTTL,
		nowF:    time.Now,
	}
}

// Get returns the coordinator for sessionID, creating it on first use.
func (r *Registry) Get(sessionID string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		e = &registryEntry{coord: r.factory(sessionID)}
		r.entries[sessionID] = e
	}
	e.lastUsed = r.nowF()
	return e.coord
}

// Lookup returns the coordinator for sessionID without creating one.
func (r *Registry) Lookup(sessionID string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	return e.coord, true
}

// Remove drops the coordinator for sessionID, e.g. after the session is invalidated.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	delete(r.entries, sessionID)
	r.mu.Unlock()
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts coordinators idle for longer than the idle TTL and returns how many were evicted.
func (r *Registry) Sweep() int {
	cutoff := r.nowF().Add(-r.idleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if e.lastUsed.Before(cutoff) && !e.coord.busy() {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				log.Printf("session: evicted %d idle refresh coordinators", n)
			}
		}
	}
}

// Aggregate sums coordinator metrics across tracked sessions.
type Aggregate struct {
	Sessions    int
	Attempts    int
	Failures    int
	RateLimited int
	Suspicious  int
}

// Aggregate returns the current totals.
func (r *Registry) Aggregate() Aggregate {
	r.mu.Lock()
	coords := make([]*Coordinator, 0, len(r.entries))
	for _, e := range r.entries {
		coords = append(coords, e.coord)
	}
	r.mu.Unlock()

	agg := Aggregate{Sessions: len(coords)}
	for _, c := range coords {
		m := c.Metrics()
		agg.Attempts += m.AttemptCount
		agg.Failures += m.FailureCount
		if m.RateLimited {
			agg.RateLimited++
		}
		if m.Suspicious {
			agg.Suspicious++
		}
	}
	return agg
}
