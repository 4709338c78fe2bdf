package audit

import (
	"context"
	"time"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
)

// Trigger names reported in PatternDetails.Triggers.
const (
	TriggerFailures   = "failures"
	TriggerContexts   = "distinct_contexts"
	TriggerRateLimits = "rate_limit_hits"
)

// WindowStats are the counts over the trailing analysis window. Pattern events are never counted.
type WindowStats struct {
	Window           time.Duration
	Failures         int
	DistinctContexts int
	RateLimitHits    int
}

// Detection is the outcome of analysing a window. Empty Triggers means nothing anomalous.
type Detection struct {
	Triggers []string
}

// Detector decides whether window counts indicate an anomalous pattern.
type Detector interface {
	Detect(ctx context.Context, stats WindowStats) (Detection, error)
}

// Thresholds are the exclusive upper bounds for each count; exceeding any one triggers a pattern.
type Thresholds struct {
	Failures   int
	Contexts   int
	RateLimits int
}

// DefaultThresholds flag more than 10 failures, more than 3 distinct contexts or more than 5 rate-limit hits.
var DefaultThresholds = Thresholds{Failures: 10, Contexts: 3, RateLimits: 5}

// ThresholdDetector compares window counts against fixed thresholds.
type ThresholdDetector struct {
	Thresholds Thresholds
}

// Detect reports every threshold the stats exceed.
func (d ThresholdDetector) Detect(_ context.Context, s WindowStats) (Detection, error) {
	var det Detection
	if s.Failures > d.Thresholds.Failures {
		det.Triggers = append(det.Triggers, TriggerFailures)
	}
	if s.DistinctContexts > d.Thresholds.Contexts {
		det.Triggers = append(det.Triggers, TriggerContexts)
	}
	if s.RateLimitHits > d.Thresholds.RateLimits {
		det.Triggers = append(det.Triggers, TriggerRateLimits)
	}
	return det, nil
}

// scopeOf groups events by session, or by client context when no session is known.
func scopeOf(ev domain.SecurityEvent) string {
	if ev.SessionID != "" {
		return "session:" + ev.SessionID
	}
	if ev.ContextHash != "" {
		return "context:" + ev.ContextHash
	}
	return ""
}

// windowStats counts events in scope with Timestamp >= since.
func windowStats(events *ring[domain.SecurityEvent], scope string, since time.Time, window time.Duration) WindowStats {
	stats := WindowStats{Window: window}
	contexts := make(map[string]struct{})
	events.each(func(ev domain.SecurityEvent) bool {
		if ev.Kind == domain.KindSecurityPatternDetected || ev.Timestamp.Before(since) || scopeOf(ev) != scope {
			return true
		}
		if ev.Kind.IsFailure() {
			stats.Failures++
		}
		if ev.Kind.IsRateLimit() {
			stats.RateLimitHits++
		}
		if ev.ContextHash != "" {
			contexts[ev.ContextHash] = struct{}{}
		}
		return true
	})
	stats.DistinctContexts = len(contexts)
	return stats
}
