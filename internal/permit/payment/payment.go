// Package payment is the payment-provider collaborator of the submission pipeline and its Paystack client.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Request initiates one payment attempt. Amount is in kobo; Reference must be unique per attempt.
type Request struct {
	Email     string
	Amount    int64
	Reference string
	Metadata  map[string]string
}

// Response carries the hosted checkout URL for a successful initiation.
type Response struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// Provider initiates payments.
type Provider interface {
	Initiate(ctx context.Context, req Request) (*Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (*Response, error)

// Initiate calls f.
func (f ProviderFunc) Initiate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Class buckets payment failures for caller messaging.
type Class string

const (
	ClassNetwork        Class = "network"
	ClassTimeout        Class = "timeout"
	ClassPaymentService Class = "payment_service"
	ClassUnknown        Class = "unknown"
)

// Error is a classified payment failure.
type Error struct {
	Class      Class
	Retryable  bool
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("payment: %s (status=%d): %s", e.Class, e.StatusCode, msg)
	}
	return fmt.Sprintf("payment: %s: %s", e.Class, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify returns err as a *Error. Errors that are not already classified are bucketed as
// timeout (deadline exceeded or net timeout), network (other net errors), or unknown.
// Timeout and network failures are retryable.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Class: ClassTimeout, Retryable: true, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return &Error{Class: ClassTimeout, Retryable: true, Err: err}
		}
		return &Error{Class: ClassNetwork, Retryable: true, Err: err}
	}
	return &Error{Class: ClassUnknown, Err: err}
}

// classifyStatus maps a provider HTTP status to a class. 5xx and 429 are retryable; other
// non-2xx responses are provider rejections.
func classifyStatus(code int, message string) *Error {
	retryable := code >= 500 || code == 429
	return &Error{Class: ClassPaymentService, Retryable: retryable, StatusCode: code, Message: message}
}
