// Package idempotency holds the active set of submission idempotency keys. A key present in the
// set blocks any other submission carrying it until it is released or its TTL elapses.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Store is the active idempotency key set.
type Store interface {
	// Acquire registers key for ttl. It returns false when key is already active.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release removes key. Releasing a missing key is not an error.
	Release(ctx context.Context, key string) error
}

type entry struct {
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Check and set happen under one lock.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns an empty in-memory key set.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: time.Now,
	}
}

// Acquire registers key until now+ttl unless an unexpired registration exists.
func (s *MemoryStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	if e, ok := s.m[key]; ok && e.expiresAt.After(now) {
		return false, nil
	}
	s.m[key] = entry{expiresAt: now.Add(ttl)}
	return true, nil
}

// Release removes key.
func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

// Active reports whether key is registered and unexpired.
func (s *MemoryStore) Active(key string) bool {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	return ok && e.expiresAt.After(s.nowF())
}

// Sweep drops expired keys and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	n := 0
	for k, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, k)
			n++
		}
	}
	return n
}

// Len returns the number of registrations, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Run sweeps every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}
