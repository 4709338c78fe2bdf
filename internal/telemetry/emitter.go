package telemetry

import (
	"context"
	"errors"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
)

// EventEmitter forwards security events to an external sink (OTel logs, Kafka, Postgres).
// Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.SecurityEvent) error
}

// Fanout emits to every non-nil emitter and joins their errors.
type Fanout []EventEmitter

// Emit sends event to each emitter in order. One failing sink does not stop the others.
func (f Fanout) Emit(ctx context.Context, event *domain.SecurityEvent) error {
	var errs []error
	for _, e := range f {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
