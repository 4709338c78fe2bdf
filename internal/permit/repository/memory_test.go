package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/domain"
)

func testApplication() *domain.Application {
	return &domain.Application{
		UserID:          "user-1",
		Email:           "ada@example.com",
		PermitType:      domain.PermitBusinessPremises,
		ApplicationType: domain.ApplicationNew,
		ApplicantName:   "Ada Obi",
		Address:         "12 Marina Road",
		Amount:          1500000,
	}
}

func TestMemoryRepository_CreateIsIdempotentOnKey(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	first, err := repo.Create(ctx, testApplication(), "key-1", expires)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.IsDuplicate {
		t.Fatal("first Create should not be a duplicate")
	}
	if first.Permit.Status != domain.StatusPendingPayment || first.Permit.ID == "" {
		t.Errorf("permit = %+v", first.Permit)
	}

	second, err := repo.Create(ctx, testApplication(), "key-1", expires)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if !second.IsDuplicate || second.Permit.ID != first.Permit.ID {
		t.Errorf("second = %+v, want duplicate of %s", second, first.Permit.ID)
	}
	if repo.Len() != 1 {
		t.Errorf("Len = %d, want 1", repo.Len())
	}
}

func TestMemoryRepository_CreateReturnsActivePermitOfSameKind(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	first, err := repo.Create(ctx, testApplication(), "key-1", expires)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := repo.Create(ctx, testApplication(), "key-2", expires)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if !second.IsDuplicate || second.Permit.ID != first.Permit.ID {
		t.Errorf("second = %+v, want duplicate of %s", second, first.Permit.ID)
	}

	other := testApplication()
	other.PermitType = domain.PermitSignage
	if res, err := repo.Create(ctx, other, "key-3", expires); err != nil || res.IsDuplicate {
		t.Errorf("other permit type = %+v, %v; want a new record", res, err)
	}

	if _, err := repo.UpdateStatus(ctx, first.Permit.ID, domain.StatusPaid); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	third, err := repo.Create(ctx, testApplication(), "key-4", expires)
	if err != nil || third.IsDuplicate {
		t.Errorf("after PAID = %+v, %v; want a new record", third, err)
	}
	if repo.Len() != 3 {
		t.Errorf("Len = %d, want 3", repo.Len())
	}
}

func TestMemoryRepository_GetByIDMissing(t *testing.T) {
	repo := NewMemoryRepository()
	p, err := repo.GetByID(context.Background(), "nope")
	if err != nil || p != nil {
		t.Errorf("GetByID = %v, %v; want nil, nil", p, err)
	}
}

func TestMemoryRepository_RecordPaymentRound(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	res, _ := repo.Create(ctx, testApplication(), "key-1", time.Now().Add(time.Hour))
	id := res.Permit.ID

	p, err := repo.RecordPaymentRound(ctx, id, domain.StatusPaymentFailed, "PRM-1")
	if err != nil {
		t.Fatalf("RecordPaymentRound: %v", err)
	}
	if p.PaymentAttempts != 1 || p.PaymentReference != "PRM-1" || p.Status != domain.StatusPaymentFailed {
		t.Errorf("after failed round = %+v", p)
	}
	p, err = repo.RecordPaymentRound(ctx, id, domain.StatusPaymentProcessing, "PRM-2")
	if err != nil {
		t.Fatalf("RecordPaymentRound: %v", err)
	}
	if p.PaymentAttempts != 2 || p.PaymentReference != "PRM-2" {
		t.Errorf("after second round = %+v", p)
	}

	if _, err := repo.RecordPaymentRound(ctx, "nope", domain.StatusPaymentFailed, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing permit err = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepository_RejectsInvalidTransition(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	res, _ := repo.Create(ctx, testApplication(), "key-1", time.Now().Add(time.Hour))
	if _, err := repo.UpdateStatus(ctx, res.Permit.ID, domain.StatusPaid); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	p, err := repo.RecordPaymentRound(ctx, res.Permit.ID, domain.StatusPaymentFailed, "PRM-x")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if p.PaymentAttempts != 0 || p.Status != domain.StatusPaid {
		t.Errorf("rejected round mutated permit: %+v", p)
	}
}

func TestMemoryRepository_UpdateStatusByReference(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	res, _ := repo.Create(ctx, testApplication(), "key-1", time.Now().Add(time.Hour))
	_, _ = repo.RecordPaymentRound(ctx, res.Permit.ID, domain.StatusPaymentProcessing, "PRM-1")

	p, err := repo.UpdateStatusByReference(ctx, "PRM-1", domain.StatusPaid)
	if err != nil {
		t.Fatalf("UpdateStatusByReference: %v", err)
	}
	if p.Status != domain.StatusPaid {
		t.Errorf("status = %s, want PAID", p.Status)
	}
	if _, err := repo.UpdateStatusByReference(ctx, "unknown", domain.StatusPaid); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown reference err = %v", err)
	}
	if _, err := repo.UpdateStatusByReference(ctx, "", domain.StatusPaid); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty reference err = %v", err)
	}
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	res, _ := repo.Create(ctx, testApplication(), "key-1", time.Now().Add(time.Hour))
	res.Permit.Status = domain.StatusPaid

	p, _ := repo.GetByID(ctx, res.Permit.ID)
	if p.Status != domain.StatusPendingPayment {
		t.Errorf("stored status = %s, caller mutation leaked", p.Status)
	}
}
