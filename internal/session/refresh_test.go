package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	auditdomain "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/security"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/session/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingRecorder captures recorded kinds.
type recordingRecorder struct {
	mu    sync.Mutex
	kinds []auditdomain.Kind
}

func (r *recordingRecorder) Record(_ context.Context, kind auditdomain.Kind, _ auditdomain.Details) {
	r.mu.Lock()
	r.kinds = append(r.kinds, kind)
	r.mu.Unlock()
}

func (r *recordingRecorder) count(kind auditdomain.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// fakeRefresher counts calls and optionally blocks until release is closed.
type fakeRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *fakeRefresher) Refresh(ctx context.Context) (*domain.Session, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Session{AccessToken: "new-token", ExpiresAt: time.Now().Add(time.Hour), User: domain.User{ID: "u1"}}, nil
}

type statusErr int

func (s statusErr) Error() string   { return "status" }
func (s statusErr) StatusCode() int { return int(s) }
func (s statusErr) Terminal() bool  { return s == 401 }

func newTestCoordinator(r Refresher, rec *recordingRecorder, cfg Config) (*Coordinator, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCoordinator(r, rec, security.NewTokenValidator(15*time.Minute), cfg)
	c.nowF = clock.Now
	return c, clock
}

func TestCoordinator_Refresh_SingleFlight(t *testing.T) {
	const n = 10
	ref := &fakeRefresher{release: make(chan struct{})}
	rec := &recordingRecorder{}
	c, _ := newTestCoordinator(ref, rec, Config{})

	results := make([]*domain.Session, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Refresh(context.Background())
		}(i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.count(auditdomain.KindRaceConditionPrevented) < n-1 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d followers joined", rec.count(auditdomain.KindRaceConditionPrevented))
		}
		time.Sleep(time.Millisecond)
	}
	close(ref.release)
	wg.Wait()

	if got := ref.calls.Load(); got != 1 {
		t.Fatalf("network refresh calls = %d, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("caller %d got a different session object", i)
		}
	}
	if rec.count(auditdomain.KindTokenRefreshInitiated) != 1 || rec.count(auditdomain.KindTokenRefreshSuccessful) != 1 {
		t.Errorf("events = %v", rec.kinds)
	}
}

func TestCoordinator_Refresh_SharedFailure(t *testing.T) {
	ref := &fakeRefresher{release: make(chan struct{}), err: statusErr(503)}
	rec := &recordingRecorder{}
	c, _ := newTestCoordinator(ref, rec, Config{})

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := c.Refresh(context.Background())
			errs <- err
		}()
	}
	for rec.count(auditdomain.KindRaceConditionPrevented) < 2 {
		time.Sleep(time.Millisecond)
	}
	close(ref.release)
	for i := 0; i < 3; i++ {
		if err := <-errs; !errors.Is(err, ErrRefreshFailed) {
			t.Errorf("err = %v, want ErrRefreshFailed", err)
		}
	}
	if ref.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", ref.calls.Load())
	}
}

func TestCoordinator_Refresh_RateLimited(t *testing.T) {
	ref := &fakeRefresher{}
	rec := &recordingRecorder{}
	c, clock := newTestCoordinator(ref, rec, Config{})

	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	clock.Advance(4999 * time.Millisecond)
	if _, err := c.Refresh(context.Background()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if ref.calls.Load() != 1 {
		t.Errorf("rate-limited call reached the network: calls = %d", ref.calls.Load())
	}
	if rec.count(auditdomain.KindRefreshRateLimitHit) != 1 {
		t.Error("rate limit hit should be recorded")
	}
	if !c.Metrics().RateLimited {
		t.Error("metrics should report rate limited")
	}

	clock.Advance(time.Millisecond)
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh after cooldown: %v", err)
	}
}

func TestCoordinator_Refresh_AttemptExhaustion(t *testing.T) {
	ref := &fakeRefresher{err: errors.New("connection reset")}
	rec := &recordingRecorder{}
	c, clock := newTestCoordinator(ref, rec, Config{MaxAttempts: 3})

	for i := 0; i < 3; i++ {
		if _, err := c.Refresh(context.Background()); !errors.Is(err, ErrRefreshFailed) {
			t.Fatalf("attempt %d: err = %v", i+1, err)
		}
		clock.Advance(6 * time.Second)
	}
	_, err := c.Refresh(context.Background())
	if !errors.Is(err, ErrMaxAttemptsExceeded) || !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("err = %v, want ErrMaxAttemptsExceeded and ErrReauthRequired", err)
	}
	if ref.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", ref.calls.Load())
	}
	m := c.Metrics()
	if m.AttemptCount != 3 || m.FailureCount != 4 {
		t.Errorf("metrics = %+v", m)
	}
	if rec.count(auditdomain.KindMaxRefreshAttemptsExceeded) != 1 || rec.count(auditdomain.KindTokenRefreshError) != 3 {
		t.Errorf("events = %v", rec.kinds)
	}
}

func TestCoordinator_Refresh_TerminalFailureRequiresReauth(t *testing.T) {
	ref := &fakeRefresher{err: statusErr(401)}
	rec := &recordingRecorder{}
	c, _ := newTestCoordinator(ref, rec, Config{})

	_, err := c.Refresh(context.Background())
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("err = %v, want ErrReauthRequired", err)
	}
	if errors.Is(err, ErrRefreshFailed) {
		t.Error("terminal failure must not be reported as transient")
	}
	if rec.count(auditdomain.KindTokenRefreshFailed) != 1 || rec.count(auditdomain.KindSessionInvalidated) != 1 {
		t.Errorf("events = %v", rec.kinds)
	}
}

func TestCoordinator_Refresh_SuccessResetsCounters(t *testing.T) {
	ref := &fakeRefresher{err: errors.New("timeout")}
	c, clock := newTestCoordinator(ref, &recordingRecorder{}, Config{})

	_, _ = c.Refresh(context.Background())
	clock.Advance(6 * time.Second)
	_, _ = c.Refresh(context.Background())
	if m := c.Metrics(); m.AttemptCount != 2 || m.FailureCount != 2 {
		t.Fatalf("metrics = %+v", m)
	}

	ref.err = nil
	clock.Advance(6 * time.Second)
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if m := c.Metrics(); m.AttemptCount != 0 || m.FailureCount != 0 || m.InFlight {
		t.Errorf("metrics after success = %+v", m)
	}
}

func TestCoordinator_Refresh_SuspiciousFlag(t *testing.T) {
	ref := &fakeRefresher{err: errors.New("boom")}
	c, clock := newTestCoordinator(ref, &recordingRecorder{}, Config{MaxAttempts: 2, SuspiciousThreshold: 4})

	for i := 0; i < 4; i++ {
		_, _ = c.Refresh(context.Background())
		clock.Advance(6 * time.Second)
	}
	if m := c.Metrics(); !m.Suspicious || m.FailureCount != 4 {
		t.Errorf("metrics = %+v, want suspicious at 4 failures", m)
	}
}

func TestCoordinator_Refresh_CallerCancelDoesNotCancelRefresh(t *testing.T) {
	ref := &fakeRefresher{release: make(chan struct{})}
	c, _ := newTestCoordinator(ref, &recordingRecorder{}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx)
		done <- err
	}()
	for ref.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !c.Metrics().InFlight {
		t.Fatal("refresh should still be in flight after the caller left")
	}
	close(ref.release)
	deadline := time.Now().Add(2 * time.Second)
	for c.Metrics().InFlight {
		if time.Now().After(deadline) {
			t.Fatal("refresh never completed")
		}
		time.Sleep(time.Millisecond)
	}
	if m := c.Metrics(); m.AttemptCount != 0 {
		t.Errorf("completed refresh should reset attempts, got %+v", m)
	}
}

func TestCoordinator_Refresh_Timeout(t *testing.T) {
	ref := &fakeRefresher{release: make(chan struct{})}
	c, _ := newTestCoordinator(ref, &recordingRecorder{}, Config{RefreshTimeout: 20 * time.Millisecond})

	_, err := c.Refresh(context.Background())
	if !errors.Is(err, ErrRefreshFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want ErrRefreshFailed wrapping DeadlineExceeded", err)
	}
}

func TestCoordinator_EnsureFresh(t *testing.T) {
	ref := &fakeRefresher{}
	c, _ := newTestCoordinator(ref, &recordingRecorder{}, Config{})

	fresh := &domain.Session{AccessToken: "t", ExpiresAt: time.Now().Add(time.Hour)}
	got, err := c.EnsureFresh(context.Background(), fresh)
	if err != nil || got != fresh {
		t.Fatalf("fresh session should be returned unchanged: %v", err)
	}
	if ref.calls.Load() != 0 {
		t.Error("fresh session should not refresh")
	}

	stale := &domain.Session{AccessToken: "t", ExpiresAt: time.Now().Add(10 * time.Minute)}
	got, err = c.EnsureFresh(context.Background(), stale)
	if err != nil || got.AccessToken != "new-token" {
		t.Fatalf("stale session should refresh: %v", err)
	}

	got, err = c.EnsureFresh(context.Background(), stale)
	if err != nil || got != stale {
		t.Errorf("rate-limited refresh of a still valid session = %v, %v; want the session back", got, err)
	}
	expired := &domain.Session{AccessToken: "t", ExpiresAt: time.Now().Add(-time.Minute)}
	if _, err := c.EnsureFresh(context.Background(), expired); !errors.Is(err, ErrRateLimited) {
		t.Errorf("rate-limited refresh of an expired session err = %v, want ErrRateLimited", err)
	}
	if ref.calls.Load() != 1 {
		t.Errorf("refresher calls = %d, want 1", ref.calls.Load())
	}
}

func TestSaturatingInc(t *testing.T) {
	if saturatingInc(math.MaxInt) != math.MaxInt {
		t.Error("counter should saturate at MaxInt")
	}
	if saturatingInc(2) != 3 {
		t.Error("saturatingInc(2) != 3")
	}
}
