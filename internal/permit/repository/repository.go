// Package repository is the permit record store. Create is idempotent on the idempotency key, and a
// user holds at most one active permit per permit type and application type.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/domain"
)

// ErrNotFound is returned by updates that address a missing permit.
var ErrNotFound = errors.New("permit not found")

// CreateResult is the outcome of Create. IsDuplicate is set when a permit with the same
// idempotency key, or an active permit for the same user, permit type and application type,
// already existed; Permit is then the existing record.
type CreateResult struct {
	Permit      *domain.Permit
	IsDuplicate bool
}

// Active reports whether p blocks another submission of the same kind by the same user.
// Only the stored status is considered; callers expire stale permits explicitly.
func Active(p *domain.Permit) bool {
	return !p.Status.Terminal()
}

// Repository defines persistence for permit applications.
type Repository interface {
	// Create stores a new PENDING_PAYMENT permit for app, or returns the existing one for key or
	// the user's active permit of the same kind.
	Create(ctx context.Context, app *domain.Application, key string, expiresAt time.Time) (*CreateResult, error)
	// GetByID returns the permit for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Permit, error)
	// RecordPaymentRound increments paymentAttempts, moves the permit to status, and stores
	// reference as the latest payment reference.
	RecordPaymentRound(ctx context.Context, id string, status domain.Status, reference string) (*domain.Permit, error)
	// UpdateStatus moves the permit to status without touching paymentAttempts.
	UpdateStatus(ctx context.Context, id string, status domain.Status) (*domain.Permit, error)
	// UpdateStatusByReference moves the permit whose latest reference is reference to status.
	UpdateStatusByReference(ctx context.Context, reference string, status domain.Status) (*domain.Permit, error)
}
