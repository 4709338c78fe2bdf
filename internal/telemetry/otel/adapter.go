package otel

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/telemetry"
)

const instrumentationName = "almaroof.security"

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider
// and counts them on meter. If provider is nil, returns a no-op emitter. meter may be nil.
func NewEventEmitter(provider *sdklog.LoggerProvider, meter metric.Meter) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	em := NewEventEmitterWithLogger(provider.Logger(instrumentationName))
	if meter != nil {
		if c, err := meter.Int64Counter("almaroof.security.events",
			metric.WithDescription("Security events recorded, by kind."),
		); err == nil {
			em.counter = c
		}
	}
	return em
}

// NewEventEmitterWithLogger returns an emitter that writes to logger directly. Used by tests.
func NewEventEmitterWithLogger(logger otellog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.SecurityEvent) error { return nil }

// LogEmitter maps security events to OTel log records.
type LogEmitter struct {
	logger  otellog.Logger
	counter metric.Int64Counter
}

// Emit converts the event to an OTel log record and emits it. The details payload becomes the JSON body.
func (e *LogEmitter) Emit(ctx context.Context, event *domain.SecurityEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.Timestamp.IsZero() {
		rec.SetTimestamp(event.Timestamp)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetEventName(string(event.Kind))
	rec.SetSeverity(severityFor(event.Kind))
	rec.SetSeverityText(severityFor(event.Kind).String())
	if event.Details != nil {
		body, err := json.Marshal(event.Details)
		if err != nil {
			return err
		}
		rec.SetBody(otellog.BytesValue(body))
	}
	rec.AddAttributes(otellog.String("kind", string(event.Kind)))
	if event.ID != "" {
		rec.AddAttributes(otellog.String("event_id", event.ID))
	}
	if event.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", event.SessionID))
	}
	if event.ContextHash != "" {
		rec.AddAttributes(otellog.String("context_hash", event.ContextHash))
	}
	e.logger.Emit(ctx, rec)
	if e.counter != nil {
		e.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(event.Kind))))
	}
	return nil
}

func severityFor(k domain.Kind) otellog.Severity {
	switch {
	case k == domain.KindSecurityPatternDetected:
		return otellog.SeverityError
	case k.IsFailure(), k.IsRateLimit():
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}
