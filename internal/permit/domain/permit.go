// Package domain holds the permit application record and its payment status state machine.
package domain

import (
	"errors"
	"time"
)

// Status is the payment lifecycle state of a permit application.
type Status string

const (
	StatusPendingPayment    Status = "PENDING_PAYMENT"
	StatusPaymentProcessing Status = "PAYMENT_PROCESSING"
	StatusPaid              Status = "PAID"
	StatusPaymentFailed     Status = "PAYMENT_FAILED"
	StatusExpired           Status = "EXPIRED"
)

// ErrInvalidTransition is returned when a status change is not allowed by the state machine.
var ErrInvalidTransition = errors.New("invalid permit status transition")

var transitions = map[Status][]Status{
	StatusPendingPayment:    {StatusPaymentProcessing, StatusPaymentFailed, StatusPaid, StatusExpired},
	StatusPaymentProcessing: {StatusPaid, StatusPaymentFailed, StatusExpired},
	StatusPaymentFailed:     {StatusPaymentProcessing, StatusPaymentFailed, StatusPaid, StatusExpired},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusPaymentProcessing, StatusPaid, StatusPaymentFailed, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusExpired
}

// CanTransition reports whether a permit in from may move to to.
// PAYMENT_FAILED may move to itself so a failed retry round can be recorded.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Application is the validated input for a new permit record.
type Application struct {
	UserID          string
	Email           string
	PermitType      string
	ApplicationType string
	ApplicantName   string
	BusinessName    string
	Address         string
	Amount          int64
}

// Permit is a stored permit application. Amount is in kobo.
type Permit struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Email            string    `json:"email"`
	PermitType       string    `json:"permitType"`
	ApplicationType  string    `json:"applicationType"`
	ApplicantName    string    `json:"applicantName"`
	BusinessName     string    `json:"businessName,omitempty"`
	Address          string    `json:"address,omitempty"`
	Amount           int64     `json:"amount"`
	Status           Status    `json:"status"`
	PaymentAttempts  int       `json:"paymentAttempts"`
	PaymentReference string    `json:"paymentReference,omitempty"`
	IdempotencyKey   string    `json:"-"`
	ExpiresAt        time.Time `json:"expiresAt"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// EffectiveStatus returns EXPIRED for a non-terminal permit whose payment window has closed,
// otherwise the stored status.
func (p *Permit) EffectiveStatus(now time.Time) Status {
	if !p.Status.Terminal() && !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt) {
		return StatusExpired
	}
	return p.Status
}
