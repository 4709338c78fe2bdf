package session

import (
	"errors"
	"testing"
	"time"
)

func TestRegistry_GetCreatesOncePerSession(t *testing.T) {
	created := 0
	r := NewRegistry(func(string) *Coordinator {
		created++
		return NewCoordinator(&fakeRefresher{}, nil, nil, Config{})
	}, time.Minute)

	a := r.Get("s1")
	if r.Get("s1") != a {
		t.Error("same session should reuse its coordinator")
	}
	if r.Get("s2") == a {
		t.Error("different sessions must not share a coordinator")
	}
	if created != 2 || r.Len() != 2 {
		t.Errorf("created = %d, len = %d", created, r.Len())
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("Lookup should not create")
	}
}

func TestRegistry_SweepEvictsIdle(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := NewRegistry(func(string) *Coordinator {
		return NewCoordinator(&fakeRefresher{}, nil, nil, Config{})
	}, time.Minute)
	r.nowF = clock.Now

	r.Get("old")
	clock.Advance(2 * time.Minute)
	r.Get("new")

	if n := r.Sweep(); n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}
	if _, ok := r.Lookup("old"); ok {
		t.Error("idle session should be evicted")
	}
	if _, ok := r.Lookup("new"); !ok {
		t.Error("recent session should be kept")
	}
}

func TestRegistry_SweepKeepsInFlight(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	ref := &fakeRefresher{release: make(chan struct{})}
	r := NewRegistry(func(string) *Coordinator {
		return NewCoordinator(ref, nil, nil, Config{})
	}, time.Minute)
	r.nowF = clock.Now

	c := r.Get("busy")
	done := make(chan struct{})
	go func() {
		_, _ = c.Refresh(t.Context())
		close(done)
	}()
	for ref.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	clock.Advance(time.Hour)
	if n := r.Sweep(); n != 0 {
		t.Errorf("in-flight coordinator evicted")
	}
	close(ref.release)
	<-done
}

func TestRegistry_Aggregate(t *testing.T) {
	r := NewRegistry(func(id string) *Coordinator {
		ref := &fakeRefresher{}
		if id == "bad" {
			ref.err = errors.New("down")
		}
		return NewCoordinator(ref, nil, nil, Config{})
	}, time.Minute)

	_, _ = r.Get("good").Refresh(t.Context())
	_, _ = r.Get("bad").Refresh(t.Context())

	agg := r.Aggregate()
	if agg.Sessions != 2 || agg.Failures != 1 || agg.Attempts != 1 || agg.RateLimited != 2 {
		t.Errorf("aggregate = %+v", agg)
	}
}
