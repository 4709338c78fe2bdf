package otel

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// SessionStats is an aggregate snapshot of refresh coordinator state across live sessions.
type SessionStats struct {
	Sessions    int64
	Attempts    int64
	Failures    int64
	RateLimited int64
	Suspicious  int64
}

// RegisterSessionGauges registers observable gauges that read snapshot on every collection.
// The returned registration must be unregistered on shutdown.
func RegisterSessionGauges(meter metric.Meter, snapshot func() SessionStats) (metric.Registration, error) {
	sessions, err := meter.Int64ObservableGauge("almaroof.session.active",
		metric.WithDescription("Sessions with a live refresh coordinator."))
	if err != nil {
		return nil, err
	}
	attempts, err := meter.Int64ObservableGauge("almaroof.session.refresh_attempts",
		metric.WithDescription("Sum of current refresh attempt counters."))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64ObservableGauge("almaroof.session.refresh_failures",
		metric.WithDescription("Sum of current refresh failure counters."))
	if err != nil {
		return nil, err
	}
	rateLimited, err := meter.Int64ObservableGauge("almaroof.session.rate_limited",
		metric.WithDescription("Sessions whose last refresh request was rate limited."))
	if err != nil {
		return nil, err
	}
	suspicious, err := meter.Int64ObservableGauge("almaroof.session.suspicious",
		metric.WithDescription("Sessions flagged for suspicious refresh activity."))
	if err != nil {
		return nil, err
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := snapshot()
		o.ObserveInt64(sessions, s.Sessions)
		o.ObserveInt64(attempts, s.Attempts)
		o.ObserveInt64(failures, s.Failures)
		o.ObserveInt64(rateLimited, s.RateLimited)
		o.ObserveInt64(suspicious, s.Suspicious)
		return nil
	}, sessions, attempts, failures, rateLimited, suspicious)
}
