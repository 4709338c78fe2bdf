// Package domain defines security events: an immutable record of an authentication,
// refresh or submission signal, tagged by Kind with a typed payload.
package domain

import "time"

// Kind identifies a security event type.
type Kind string

const (
	KindTokenRefreshInitiated      Kind = "token_refresh_initiated"
	KindTokenRefreshSuccessful     Kind = "token_refresh_successful"
	KindTokenRefreshFailed         Kind = "token_refresh_failed"
	KindTokenRefreshError          Kind = "token_refresh_error"
	KindRefreshRateLimitHit        Kind = "refresh_rate_limit_hit"
	KindRaceConditionPrevented     Kind = "race_condition_prevented"
	KindMaxRefreshAttemptsExceeded Kind = "max_refresh_attempts_exceeded"
	KindSessionInvalidated         Kind = "session_invalidated"
	KindTokenMalformed             Kind = "token_malformed"
	KindAuthRequired               Kind = "auth_required"

	KindSubmissionStarted          Kind = "submission_started"
	KindDuplicateSubmissionBlocked Kind = "duplicate_submission_blocked"
	KindSubmissionValidationFailed Kind = "submission_validation_failed"
	KindRecordCreationFailed       Kind = "record_creation_failed"
	KindPermitExpired              Kind = "permit_expired"
	KindPaymentMaxAttemptsReached  Kind = "payment_max_attempts_reached"
	KindPaymentInitiated           Kind = "payment_initiated"
	KindPaymentAttemptFailed       Kind = "payment_attempt_failed"
	KindPaymentFailed              Kind = "payment_failed"
	KindPaymentStatusUpdated       Kind = "payment_status_updated"
	KindPaymentWebhookRejected     Kind = "payment_webhook_rejected"

	KindRequestAudited Kind = "request_audited"

	KindSecurityPatternDetected Kind = "security_pattern_detected"
)

// IsFailure reports whether the kind counts toward the failure pattern threshold.
// Individual payment attempt failures are excluded; the round outcome is counted instead.
func (k Kind) IsFailure() bool {
	switch k {
	case KindTokenRefreshFailed, KindTokenRefreshError, KindMaxRefreshAttemptsExceeded,
		KindTokenMalformed, KindAuthRequired, KindRecordCreationFailed,
		KindPaymentFailed, KindPaymentWebhookRejected:
		return true
	}
	return false
}

// IsRateLimit reports whether the kind counts toward the rate-limit pattern threshold.
func (k Kind) IsRateLimit() bool {
	return k == KindRefreshRateLimitHit
}

// SecurityEvent is immutable once recorded. Holders must not modify it.
type SecurityEvent struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"sessionId,omitempty"`
	ContextHash string    `json:"contextHash,omitempty"`
	Details     Details   `json:"details,omitempty"`
}

// Details is the typed payload of a SecurityEvent. The set of implementations is closed.
type Details interface {
	isDetails()
}

// RefreshDetails accompanies token refresh lifecycle events.
type RefreshDetails struct {
	Attempt      int       `json:"attempt"`
	FailureCount int       `json:"failureCount"`
	StatusCode   int       `json:"statusCode,omitempty"`
	Error        string    `json:"error,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

// RateLimitDetails accompanies refresh_rate_limit_hit.
type RateLimitDetails struct {
	SinceLast time.Duration `json:"sinceLastNs"`
	Cooldown  time.Duration `json:"cooldownNs"`
}

// TokenDetails accompanies token_malformed and auth_required.
type TokenDetails struct {
	Reason  string   `json:"reason"`
	Missing []string `json:"missing,omitempty"`
}

// SubmissionDetails accompanies application submission events.
type SubmissionDetails struct {
	PermitID       string `json:"permitId,omitempty"`
	PermitType     string `json:"permitType,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Status         string `json:"status,omitempty"`
	Attempts       int    `json:"attempts,omitempty"`
	Error          string `json:"error,omitempty"`
}

// PaymentDetails accompanies payment initiation and status events.
type PaymentDetails struct {
	PermitID  string `json:"permitId"`
	Reference string `json:"reference,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
	Class     string `json:"class,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RequestDetails accompanies request_audited.
type RequestDetails struct {
	Method   string        `json:"method"`
	Route    string        `json:"route"`
	Action   string        `json:"action"`
	Resource string        `json:"resource"`
	UserID   string        `json:"userId,omitempty"`
	Status   int           `json:"status"`
	Duration time.Duration `json:"durationNs"`
}

// PatternDetails accompanies security_pattern_detected.
type PatternDetails struct {
	Window           time.Duration `json:"windowNs"`
	Failures         int           `json:"failures"`
	DistinctContexts int           `json:"distinctContexts"`
	RateLimitHits    int           `json:"rateLimitHits"`
	Triggers         []string      `json:"triggers"`
	Source           Kind          `json:"source"`
}

func (RefreshDetails) isDetails()    {}
func (RateLimitDetails) isDetails()  {}
func (TokenDetails) isDetails()      {}
func (SubmissionDetails) isDetails() {}
func (PaymentDetails) isDetails()    {}
func (RequestDetails) isDetails()    {}
func (PatternDetails) isDetails()    {}
