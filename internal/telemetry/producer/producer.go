// Package producer defines the interface for publishing security events to a broker (e.g. Kafka).
package producer

import (
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/telemetry"
)

// Producer publishes security events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	telemetry.EventEmitter
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
