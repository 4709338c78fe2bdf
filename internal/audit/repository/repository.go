// Package repository persists security events for retention beyond the in-memory window.
package repository

import (
	"context"
	"time"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
)

// Repository stores security events and serves history queries over them.
type Repository interface {
	Emit(ctx context.Context, event *domain.SecurityEvent) error
	ListByKind(ctx context.Context, kind domain.Kind, since time.Time, limit int32) ([]*StoredEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ Repository = (*PostgresRepository)(nil)
