// Package audit records security events into a bounded in-memory log, analyses a trailing window
// for anomalous patterns and forwards events to the configured sinks.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/telemetry"
)

const (
	DefaultCapacity = 1000
	DefaultWindow   = 5 * time.Minute
)

// ContextExtractor returns the session ID and client context hash for the request in ctx.
// Either may be empty.
type ContextExtractor func(context.Context) (sessionID, contextHash string)

// Recorder records security events. Record is best-effort and never fails the caller.
type Recorder interface {
	Record(ctx context.Context, kind domain.Kind, details domain.Details)
}

// Options configures a Logger. Zero values fall back to defaults.
type Options struct {
	Capacity  int
	Window    time.Duration
	DebugMode bool
	// Emitter receives every event asynchronously outside debug mode. May be nil.
	Emitter   telemetry.EventEmitter
	Detector  Detector
	Extractor ContextExtractor
	Now       func() time.Time
}

// Logger implements Recorder over a fixed-capacity ring buffer.
type Logger struct {
	mu        sync.Mutex
	events    *ring[domain.SecurityEvent]
	window    time.Duration
	debug     bool
	emitter   telemetry.EventEmitter
	detector  Detector
	extractor ContextExtractor
	nowF      func() time.Time
	// fired holds when each scope/trigger pair last produced a pattern event.
	fired map[string]time.Time
}

// NewLogger returns a Logger configured by opts.
func NewLogger(opts Options) *Logger {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Detector == nil {
		opts.Detector = ThresholdDetector{Thresholds: DefaultThresholds}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Logger{
		events:    newRing[domain.SecurityEvent](opts.Capacity),
		window:    opts.Window,
		debug:     opts.DebugMode,
		emitter:   opts.Emitter,
		detector:  opts.Detector,
		extractor: opts.Extractor,
		nowF:      opts.Now,
		fired:     make(map[string]time.Time),
	}
}

// Record appends an event tagged with the session and context from ctx, forwards it, and
// runs pattern analysis unless the event is itself a pattern detection.
func (l *Logger) Record(ctx context.Context, kind domain.Kind, details domain.Details) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("audit: record %s panicked: %v", kind, r)
		}
	}()
	ev := l.newEvent(ctx, kind, details)
	l.append(ev)
	if kind == domain.KindSecurityPatternDetected {
		return
	}
	l.analyze(ctx, ev)
}

func (l *Logger) newEvent(ctx context.Context, kind domain.Kind, details domain.Details) domain.SecurityEvent {
	ev := domain.SecurityEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: l.nowF().UTC(),
		Details:   details,
	}
	if l.extractor != nil {
		ev.SessionID, ev.ContextHash = l.extractor(ctx)
	}
	return ev
}

func (l *Logger) append(ev domain.SecurityEvent) {
	l.mu.Lock()
	l.events.push(ev)
	l.mu.Unlock()
	l.forward(ev)
}

func (l *Logger) forward(ev domain.SecurityEvent) {
	if l.debug {
		body, _ := json.Marshal(ev.Details)
		log.Printf("audit: [debug] %s session=%s context=%s details=%s", ev.Kind, ev.SessionID, ev.ContextHash, body)
		return
	}
	telemetry.EmitAsync(l.emitter, &ev)
}

// analyze computes window stats for ev's scope and emits one pattern event for triggers that
// have not already fired in that scope within the window.
func (l *Logger) analyze(ctx context.Context, ev domain.SecurityEvent) {
	scope := scopeOf(ev)
	l.mu.Lock()
	stats := windowStats(l.events, scope, ev.Timestamp.Add(-l.window), l.window)
	l.mu.Unlock()

	det, err := l.detector.Detect(ctx, stats)
	if err != nil {
		log.Printf("audit: pattern detection failed: %v", err)
		return
	}
	if len(det.Triggers) == 0 {
		return
	}
	triggers := l.claim(scope, det.Triggers, ev.Timestamp)
	if len(triggers) == 0 {
		return
	}
	pattern := l.newEvent(ctx, domain.KindSecurityPatternDetected, domain.PatternDetails{
		Window:           stats.Window,
		Failures:         stats.Failures,
		DistinctContexts: stats.DistinctContexts,
		RateLimitHits:    stats.RateLimitHits,
		Triggers:         triggers,
		Source:           ev.Kind,
	})
	l.append(pattern)
}

// claim returns the triggers not fired in scope during the window before now and marks them fired.
func (l *Logger) claim(scope string, triggers []string, now time.Time) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, at := range l.fired {
		if now.Sub(at) >= l.window {
			delete(l.fired, k)
		}
	}
	var out []string
	for _, t := range triggers {
		k := scope + "|" + t
		if _, ok := l.fired[k]; ok {
			continue
		}
		l.fired[k] = now
		out = append(out, t)
	}
	return out
}

// Query returns events of kind recorded within the trailing window, oldest first.
// A non-positive window returns every buffered event of kind.
func (l *Logger) Query(kind domain.Kind, window time.Duration) []domain.SecurityEvent {
	return l.filter(window, func(ev domain.SecurityEvent) bool { return ev.Kind == kind })
}

// Recent returns all events recorded within the trailing window, oldest first.
func (l *Logger) Recent(window time.Duration) []domain.SecurityEvent {
	return l.filter(window, func(domain.SecurityEvent) bool { return true })
}

// Len returns the number of buffered events.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events.len()
}

func (l *Logger) filter(window time.Duration, keep func(domain.SecurityEvent) bool) []domain.SecurityEvent {
	var since time.Time
	if window > 0 {
		since = l.nowF().UTC().Add(-window)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.SecurityEvent
	l.events.each(func(ev domain.SecurityEvent) bool {
		if !ev.Timestamp.Before(since) && keep(ev) {
			out = append(out, ev)
		}
		return true
	})
	return out
}

// Nop is a Recorder that discards events.
type Nop struct{}

func (Nop) Record(context.Context, domain.Kind, domain.Details) {}
