package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/segmentio/ksuid"
)

// Form is a permit application as submitted by the portal.
type Form struct {
	PermitType      string `json:"permitType" validate:"required,oneof=business_premises building signage event market_stall"`
	ApplicationType string `json:"applicationType" validate:"required,oneof=new renewal"`
	ApplicantName   string `json:"applicantName" validate:"required,min=2,max=120"`
	BusinessName    string `json:"businessName" validate:"omitempty,max=160"`
	Address         string `json:"address" validate:"required,max=255"`
	Email           string `json:"email" validate:"omitempty,email"`
	IdempotencyKey  string `json:"idempotencyKey" validate:"omitempty,max=128,printascii"`
}

// Auth is the authenticated caller.
type Auth struct {
	UserID    string
	Email     string
	SessionID string
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// invalidFields returns the json names of fields that failed validation.
func invalidFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field())
	}
	return out
}

// DeriveKey builds the idempotency key for a submission without a client key. Submissions of the
// same permit and application type by one user inside the same ttl-sized bucket share a key.
func DeriveKey(userID, permitType, applicationType string, now time.Time, ttl time.Duration) string {
	bucket := int64(0)
	if ttl > 0 {
		bucket = now.UnixNano() / int64(ttl)
	}
	return fmt.Sprintf("permit:%s:%s:%s:%d", userID, permitType, applicationType, bucket)
}

// clientKey scopes a client-supplied key to the user.
func clientKey(userID, key string) string {
	return fmt.Sprintf("permit:%s:client:%s", userID, key)
}

// newReference returns a payment reference unique to one provider call.
func newReference(permitID string, round, attempt int) string {
	short := permitID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("PRM-%s-%d-%d-%s", short, round, attempt, ksuid.New().String())
}
