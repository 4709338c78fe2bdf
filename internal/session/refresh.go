// Package session coordinates access-token refreshes: one in-flight refresh per session,
// a cooldown between refreshes and a cap on consecutive attempts.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit"
	auditdomain "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/security"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/session/domain"
)

const (
	DefaultCooldown            = 5 * time.Second
	DefaultMaxAttempts         = 3
	DefaultSuspiciousThreshold = 5
	DefaultRefreshTimeout      = 10 * time.Second
)

var (
	// ErrRateLimited is returned when a refresh is requested within the cooldown of the previous one.
	ErrRateLimited = errors.New("session: refresh rate limited")
	// ErrMaxAttemptsExceeded is returned once consecutive attempts reach the cap. It also matches ErrReauthRequired.
	ErrMaxAttemptsExceeded = errors.New("session: max refresh attempts exceeded")
	// ErrReauthRequired means the caller must drop the session and log in again.
	ErrReauthRequired = errors.New("session: re-authentication required")
	// ErrRefreshFailed wraps transient refresh failures (network, 5xx, timeout).
	ErrRefreshFailed = errors.New("session: refresh failed")
)

// Refresher performs the network refresh. Errors that implement Terminal() bool and report true
// are treated as authorization failures.
type Refresher interface {
	Refresh(ctx context.Context) (*domain.Session, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) (*domain.Session, error)

func (f RefresherFunc) Refresh(ctx context.Context) (*domain.Session, error) { return f(ctx) }

// Config bounds refresh behaviour. Zero values fall back to the defaults above.
type Config struct {
	Cooldown            time.Duration
	MaxAttempts         int
	SuspiciousThreshold int
	RefreshTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.SuspiciousThreshold <= 0 {
		c.SuspiciousThreshold = DefaultSuspiciousThreshold
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	return c
}

// Metrics is a snapshot of coordinator state.
type Metrics struct {
	AttemptCount  int       `json:"attemptCount"`
	FailureCount  int       `json:"failureCount"`
	RateLimited   bool      `json:"rateLimited"`
	Suspicious    bool      `json:"isSuspicious"`
	InFlight      bool      `json:"inFlight"`
	LastRefreshAt time.Time `json:"lastRefreshAt,omitempty"`
}

// Coordinator is a single-flight, rate-limited, attempt-bounded refresher for one session.
// All state is guarded by mu; the check-then-set of inFlight happens under one lock hold.
type Coordinator struct {
	refresher Refresher
	recorder  audit.Recorder
	validator *security.TokenValidator
	cfg       Config
	nowF      func() time.Time

	group singleflight.Group

	mu            sync.Mutex
	gen           uint64
	inFlight      bool
	lastRefreshAt time.Time
	attemptCount  int
	failureCount  int
}

// NewCoordinator returns a Coordinator. recorder and validator may be nil.
func NewCoordinator(refresher Refresher, recorder audit.Recorder, validator *security.TokenValidator, cfg Config) *Coordinator {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Coordinator{
		refresher: refresher,
		recorder:  recorder,
		validator: validator,
		cfg:       cfg.withDefaults(),
		nowF:      time.Now,
	}
}

// Refresh returns a refreshed session. Concurrent callers while a refresh is outstanding share its
// outcome, including the same *domain.Session. ctx cancellation stops the caller from waiting but
// does not cancel the shared refresh, which runs under its own timeout.
func (c *Coordinator) Refresh(ctx context.Context) (*domain.Session, error) {
	c.mu.Lock()
	if c.inFlight {
		ch := c.group.DoChan(c.key(), c.orphan)
		attempt := c.attemptCount
		c.mu.Unlock()
		c.recorder.Record(ctx, auditdomain.KindRaceConditionPrevented, auditdomain.RefreshDetails{Attempt: attempt})
		return c.wait(ctx, ch)
	}

	now := c.nowF()
	if !c.lastRefreshAt.IsZero() && now.Sub(c.lastRefreshAt) < c.cfg.Cooldown {
		since := now.Sub(c.lastRefreshAt)
		c.mu.Unlock()
		c.recorder.Record(ctx, auditdomain.KindRefreshRateLimitHit, auditdomain.RateLimitDetails{
			SinceLast: since,
			Cooldown:  c.cfg.Cooldown,
		})
		return nil, ErrRateLimited
	}

	if c.attemptCount >= c.cfg.MaxAttempts {
		c.failureCount = saturatingInc(c.failureCount)
		details := auditdomain.RefreshDetails{Attempt: c.attemptCount, FailureCount: c.failureCount}
		c.mu.Unlock()
		c.recorder.Record(ctx, auditdomain.KindMaxRefreshAttemptsExceeded, details)
		return nil, fmt.Errorf("%w: %w", ErrMaxAttemptsExceeded, ErrReauthRequired)
	}

	c.gen++
	c.inFlight = true
	c.attemptCount = saturatingInc(c.attemptCount)
	c.lastRefreshAt = now
	attempt := c.attemptCount
	runCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(c.key(), func() (interface{}, error) {
		return c.run(runCtx, attempt)
	})
	c.mu.Unlock()

	c.recorder.Record(ctx, auditdomain.KindTokenRefreshInitiated, auditdomain.RefreshDetails{Attempt: attempt})
	return c.wait(ctx, ch)
}

// key scopes each refresh to its generation so a late joiner never attaches to a finished call.
// Caller holds mu.
func (c *Coordinator) key() string {
	return "refresh-" + strconv.FormatUint(c.gen, 10)
}

// orphan runs only if a joiner finds no call under the current key, which the locking rules out.
func (c *Coordinator) orphan() (interface{}, error) {
	return nil, fmt.Errorf("%w: no refresh in flight", ErrRefreshFailed)
}

func (c *Coordinator) run(ctx context.Context, attempt int) (interface{}, error) {
	refreshCtx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout)
	defer cancel()
	sess, err := c.refresher.Refresh(refreshCtx)
	if err == nil && sess == nil {
		err = errors.New("refresher returned no session")
	}

	c.mu.Lock()
	c.inFlight = false
	if err == nil {
		c.attemptCount = 0
		c.failureCount = 0
	} else {
		c.failureCount = saturatingInc(c.failureCount)
	}
	failures := c.failureCount
	c.mu.Unlock()

	if err == nil {
		c.recorder.Record(ctx, auditdomain.KindTokenRefreshSuccessful, auditdomain.RefreshDetails{
			Attempt:   attempt,
			ExpiresAt: sess.ExpiresAt,
		})
		return sess, nil
	}

	details := auditdomain.RefreshDetails{
		Attempt:      attempt,
		FailureCount: failures,
		StatusCode:   statusCode(err),
		Error:        err.Error(),
	}
	if isTerminal(err) {
		c.recorder.Record(ctx, auditdomain.KindTokenRefreshFailed, details)
		c.recorder.Record(ctx, auditdomain.KindSessionInvalidated, details)
		return nil, fmt.Errorf("%w: %w", ErrReauthRequired, err)
	}
	c.recorder.Record(ctx, auditdomain.KindTokenRefreshError, details)
	return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
}

func (c *Coordinator) wait(ctx context.Context, ch <-chan singleflight.Result) (*domain.Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Session), nil
	}
}

// EnsureFresh returns sess unchanged while it is outside the refresh buffer, otherwise refreshes it.
// A rate-limited refresh also returns sess while its token has not expired.
func (c *Coordinator) EnsureFresh(ctx context.Context, sess *domain.Session) (*domain.Session, error) {
	if sess == nil || c.validator == nil || sess.ExpiresAt.IsZero() {
		return c.Refresh(ctx)
	}
	if !c.validator.ShouldRefresh(sess.ExpiresAt) {
		return sess, nil
	}
	fresh, err := c.Refresh(ctx)
	if errors.Is(err, ErrRateLimited) && !c.validator.IsExpired(sess.ExpiresAt) {
		return sess, nil
	}
	return fresh, err
}

// Metrics returns a snapshot of the coordinator counters.
func (c *Coordinator) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Metrics{
		AttemptCount:  c.attemptCount,
		FailureCount:  c.failureCount,
		RateLimited:   !c.lastRefreshAt.IsZero() && c.nowF().Sub(c.lastRefreshAt) < c.cfg.Cooldown,
		Suspicious:    c.failureCount >= c.cfg.SuspiciousThreshold,
		InFlight:      c.inFlight,
		LastRefreshAt: c.lastRefreshAt,
	}
}

// busy reports whether a refresh is outstanding.
func (c *Coordinator) busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func saturatingInc(n int) int {
	if n == math.MaxInt {
		return n
	}
	return n + 1
}

func isTerminal(err error) bool {
	var t interface{ Terminal() bool }
	return errors.As(err, &t) && t.Terminal()
}

func statusCode(err error) int {
	var s interface{ StatusCode() int }
	if errors.As(err, &s) {
		return s.StatusCode()
	}
	return 0
}
