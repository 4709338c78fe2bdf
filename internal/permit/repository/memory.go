package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/domain"
)

// MemoryRepository is an in-process Repository used when no database is configured.
// Returned permits are copies.
type MemoryRepository struct {
	mu    sync.Mutex
	byID  map[string]*domain.Permit
	byKey map[string]string
	nowF  func() time.Time
}

// NewMemoryRepository returns an empty in-memory permit store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:  make(map[string]*domain.Permit),
		byKey: make(map[string]string),
		nowF:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) Create(ctx context.Context, app *domain.Application, key string, expiresAt time.Time) (*CreateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[key]; ok {
		return &CreateResult{Permit: clone(r.byID[id]), IsDuplicate: true}, nil
	}
	for _, p := range r.byID {
		if p.UserID == app.UserID && p.PermitType == app.PermitType &&
			p.ApplicationType == app.ApplicationType && Active(p) {
			return &CreateResult{Permit: clone(p), IsDuplicate: true}, nil
		}
	}
	now := r.nowF()
	p := &domain.Permit{
		ID:              uuid.New().String(),
		UserID:          app.UserID,
		Email:           app.Email,
		PermitType:      app.PermitType,
		ApplicationType: app.ApplicationType,
		ApplicantName:   app.ApplicantName,
		BusinessName:    app.BusinessName,
		Address:         app.Address,
		Amount:          app.Amount,
		Status:          domain.StatusPendingPayment,
		IdempotencyKey:  key,
		ExpiresAt:       expiresAt.UTC(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.byID[p.ID] = p
	r.byKey[key] = p.ID
	return &CreateResult{Permit: clone(p)}, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Permit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return clone(p), nil
}

func (r *MemoryRepository) RecordPaymentRound(ctx context.Context, id string, status domain.Status, reference string) (*domain.Permit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := r.apply(p, status); err != nil {
		return clone(p), err
	}
	p.PaymentAttempts++
	if reference != "" {
		p.PaymentReference = reference
	}
	return clone(p), nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) (*domain.Permit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := r.apply(p, status); err != nil {
		return clone(p), err
	}
	return clone(p), nil
}

func (r *MemoryRepository) UpdateStatusByReference(ctx context.Context, reference string, status domain.Status) (*domain.Permit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reference == "" {
		return nil, ErrNotFound
	}
	for _, p := range r.byID {
		if p.PaymentReference != reference {
			continue
		}
		if err := r.apply(p, status); err != nil {
			return clone(p), err
		}
		return clone(p), nil
	}
	return nil, ErrNotFound
}

// Put stores p as is, replacing any permit with the same ID. Intended for seeding.
func (r *MemoryRepository) Put(p *domain.Permit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := clone(p)
	r.byID[c.ID] = c
	if c.IdempotencyKey != "" {
		r.byKey[c.IdempotencyKey] = c.ID
	}
}

// Len returns the number of stored permits.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *MemoryRepository) apply(p *domain.Permit, to domain.Status) error {
	if !domain.CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = r.nowF()
	return nil
}

func clone(p *domain.Permit) *domain.Permit {
	c := *p
	return &c
}
