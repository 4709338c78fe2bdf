package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long Drain should wait after the listeners stop before OTel providers
// and the Kafka writer are shut down. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// inflight counts EmitAsync goroutines that have not finished.
var inflight sync.WaitGroup

// Drain blocks until every in-flight EmitAsync call has finished or timeout elapses.
// It reports whether all emits finished.
func Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// Errors and panics from the emitter are logged locally and never reach the caller.
//
// emitter and event may be nil; EmitAsync returns immediately without starting a goroutine.
// The goroutine uses context.Background() so request cancellation does not abort an in-flight emit.
func EmitAsync(emitter EventEmitter, event *domain.SecurityEvent) {
	if emitter == nil || event == nil {
		return
	}
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("telemetry: async emit of %s panicked: %v", event.Kind, r)
			}
		}()
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Printf("telemetry: async emit of %s failed: %v", event.Kind, err)
		}
	}()
}
