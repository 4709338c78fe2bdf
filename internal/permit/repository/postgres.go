package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/domain"
)

const permitColumns = `id, user_id, email, permit_type, application_type, applicant_name, business_name, address,
	amount, status, payment_attempts, payment_reference, idempotency_key, expires_at, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a permit repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermit(row rowScanner) (*domain.Permit, error) {
	var p domain.Permit
	var status string
	err := row.Scan(&p.ID, &p.UserID, &p.Email, &p.PermitType, &p.ApplicationType, &p.ApplicantName,
		&p.BusinessName, &p.Address, &p.Amount, &status, &p.PaymentAttempts, &p.PaymentReference,
		&p.IdempotencyKey, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = domain.Status(status)
	return &p, nil
}

// Create inserts the permit. When the idempotency key or the active-permit index conflicts it
// returns the existing row with IsDuplicate set.
func (r *PostgresRepository) Create(ctx context.Context, app *domain.Application, key string, expiresAt time.Time) (*CreateResult, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO permits (id, user_id, email, permit_type, application_type, applicant_name, business_name,
			address, amount, status, idempotency_key, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING
		RETURNING `+permitColumns,
		uuid.New().String(), app.UserID, app.Email, app.PermitType, app.ApplicationType, app.ApplicantName,
		app.BusinessName, app.Address, app.Amount, string(domain.StatusPendingPayment), key, expiresAt.UTC(),
	)
	p, err := scanPermit(row)
	if err == nil {
		return &CreateResult{Permit: p}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	existing, err := scanPermit(r.db.QueryRowContext(ctx, `
		SELECT `+permitColumns+` FROM permits
		WHERE idempotency_key = $1
			OR (user_id = $2 AND permit_type = $3 AND application_type = $4
				AND status NOT IN ('PAID', 'EXPIRED'))
		ORDER BY (idempotency_key = $1) DESC
		LIMIT 1`, key, app.UserID, app.PermitType, app.ApplicationType))
	if err != nil {
		return nil, fmt.Errorf("loading permit for duplicate submission: %w", err)
	}
	return &CreateResult{Permit: existing, IsDuplicate: true}, nil
}

// GetByID returns the permit for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Permit, error) {
	p, err := scanPermit(r.db.QueryRowContext(ctx, `SELECT `+permitColumns+` FROM permits WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// RecordPaymentRound locks the row, checks the transition, then bumps attempts and stores the reference.
func (r *PostgresRepository) RecordPaymentRound(ctx context.Context, id string, status domain.Status, reference string) (*domain.Permit, error) {
	return r.transition(ctx, `id = $1`, id, status, func(tx *sql.Tx, p *domain.Permit) (*domain.Permit, error) {
		return scanPermit(tx.QueryRowContext(ctx, `
			UPDATE permits
			SET status = $2, payment_attempts = payment_attempts + 1,
				payment_reference = CASE WHEN $3 = '' THEN payment_reference ELSE $3 END,
				updated_at = now()
			WHERE id = $1
			RETURNING `+permitColumns, p.ID, string(status), reference))
	})
}

// UpdateStatus moves the permit to status.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) (*domain.Permit, error) {
	return r.transition(ctx, `id = $1`, id, status, r.setStatus(ctx, status))
}

// UpdateStatusByReference moves the permit whose latest reference is reference to status.
func (r *PostgresRepository) UpdateStatusByReference(ctx context.Context, reference string, status domain.Status) (*domain.Permit, error) {
	if reference == "" {
		return nil, ErrNotFound
	}
	return r.transition(ctx, `payment_reference = $1`, reference, status, r.setStatus(ctx, status))
}

func (r *PostgresRepository) setStatus(ctx context.Context, status domain.Status) func(*sql.Tx, *domain.Permit) (*domain.Permit, error) {
	return func(tx *sql.Tx, p *domain.Permit) (*domain.Permit, error) {
		return scanPermit(tx.QueryRowContext(ctx, `
			UPDATE permits SET status = $2, updated_at = now() WHERE id = $1
			RETURNING `+permitColumns, p.ID, string(status)))
	}
}

func (r *PostgresRepository) transition(ctx context.Context, where string, arg any, to domain.Status, apply func(*sql.Tx, *domain.Permit) (*domain.Permit, error)) (*domain.Permit, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanPermit(tx.QueryRowContext(ctx,
		`SELECT `+permitColumns+` FROM permits WHERE `+where+` FOR UPDATE`, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !domain.CanTransition(current.Status, to) {
		return current, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, to)
	}
	updated, err := apply(tx, current)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}
