package service

import (
	"fmt"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/payment"
)

// Code classifies a submission failure for the caller.
type Code string

const (
	CodeAuthRequired         Code = "AUTH_REQUIRED"
	CodeDuplicateSubmission  Code = "DUPLICATE_SUBMISSION"
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodeRecordCreationFailed Code = "RECORD_CREATION_FAILED"
	CodePermitExpired        Code = "PERMIT_EXPIRED"
	CodeMaxAttemptsReached   Code = "MAX_ATTEMPTS_REACHED"
	CodePaymentNetworkError  Code = "PAYMENT_NETWORK_ERROR"
	CodePaymentServiceError  Code = "PAYMENT_SERVICE_ERROR"
	CodeUnexpectedError      Code = "UNEXPECTED_ERROR"
	CodePermitNotFound       Code = "PERMIT_NOT_FOUND"
	CodePaymentInProgress    Code = "PAYMENT_IN_PROGRESS"
)

// SubmissionError is the error returned by Submit and Retry. Retryable tells the caller whether
// offering a retry action makes sense; callers never need to inspect the message.
type SubmissionError struct {
	Code      Code
	Retryable bool
	Class     payment.Class
	Fields    []string
	Err       error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permit submission: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("permit submission: %s", e.Code)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func paymentCode(class payment.Class) Code {
	switch class {
	case payment.ClassNetwork, payment.ClassTimeout:
		return CodePaymentNetworkError
	case payment.ClassPaymentService:
		return CodePaymentServiceError
	}
	return CodeUnexpectedError
}
