// Package service runs permit submission as one idempotent operation: guard the idempotency key,
// create the record once, gate on its status, then initiate payment with bounded retry.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit"
	auditdomain "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/domain"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/idempotency"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/payment"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/repository"
)

const (
	DefaultIdempotencyTTL     = 30 * time.Second
	DefaultMaxPaymentAttempts = 3
	DefaultMaxPaymentRetries  = 2
	DefaultRetryDelay         = time.Second
	DefaultPaymentTimeout     = 15 * time.Second
	DefaultPaymentWindow      = 72 * time.Hour
	releaseTimeout            = 2 * time.Second
)

// Config holds pipeline limits. Zero values take the defaults.
type Config struct {
	IdempotencyTTL     time.Duration
	MaxPaymentAttempts int
	MaxPaymentRetries  int
	// NoRetries makes each payment round a single provider call, overriding MaxPaymentRetries.
	NoRetries bool
	RetryDelay         time.Duration
	PaymentTimeout     time.Duration
	PaymentWindow      time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if c.MaxPaymentAttempts <= 0 {
		c.MaxPaymentAttempts = DefaultMaxPaymentAttempts
	}
	switch {
	case c.NoRetries:
		c.MaxPaymentRetries = 0
	case c.MaxPaymentRetries <= 0:
		c.MaxPaymentRetries = DefaultMaxPaymentRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = DefaultPaymentTimeout
	}
	if c.PaymentWindow <= 0 {
		c.PaymentWindow = DefaultPaymentWindow
	}
	return c
}

// Result describes the outcome of Submit or Retry. It is always non-nil.
type Result struct {
	Success            bool          `json:"success"`
	PermitID           string        `json:"permitId,omitempty"`
	Status             domain.Status `json:"status,omitempty"`
	PaymentURL         string        `json:"paymentUrl,omitempty"`
	Reference          string        `json:"reference,omitempty"`
	PaymentAttempts    int           `json:"paymentAttempts"`
	Calls              int           `json:"calls"`
	IsDuplicate        bool          `json:"isDuplicate,omitempty"`
	AlreadyPaid        bool          `json:"alreadyPaid,omitempty"`
	ShouldCreateNew    bool          `json:"shouldCreateNew,omitempty"`
	MaxAttemptsReached bool          `json:"maxAttemptsReached,omitempty"`
	Retryable          bool          `json:"retryable"`
	Code               Code          `json:"code,omitempty"`
	ErrorClass         payment.Class `json:"errorClass,omitempty"`
	Fields             []string      `json:"fields,omitempty"`
}

// Pipeline implements permit submission and payment retry.
type Pipeline struct {
	repo     repository.Repository
	keys     idempotency.Store
	payments payment.Provider
	recorder audit.Recorder
	validate *validator.Validate
	cfg      Config
	nowF     func() time.Time
	sleep    func(time.Duration)
}

// NewPipeline returns a Pipeline. recorder may be nil.
func NewPipeline(repo repository.Repository, keys idempotency.Store, payments payment.Provider, recorder audit.Recorder, cfg Config) *Pipeline {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Pipeline{
		repo:     repo,
		keys:     keys,
		payments: payments,
		recorder: recorder,
		validate: newValidator(),
		cfg:      cfg.withDefaults(),
		nowF:     func() time.Time { return time.Now().UTC() },
		sleep:    time.Sleep,
	}
}

// Submit creates the permit record for form at most once per idempotency key and initiates payment.
// The returned error, when non-nil, is a *SubmissionError; the Result mirrors it.
func (p *Pipeline) Submit(ctx context.Context, form Form, auth Auth) (*Result, error) {
	if auth.UserID == "" {
		p.recorder.Record(ctx, auditdomain.KindAuthRequired, auditdomain.TokenDetails{Reason: "permit submission without identity"})
		return fail(&Result{}, &SubmissionError{Code: CodeAuthRequired})
	}
	if err := p.validate.Struct(form); err != nil {
		fields := invalidFields(err)
		p.recorder.Record(ctx, auditdomain.KindSubmissionValidationFailed, auditdomain.SubmissionDetails{
			PermitType: form.PermitType, Error: err.Error(),
		})
		return fail(&Result{Fields: fields}, &SubmissionError{Code: CodeValidationFailed, Fields: fields, Err: err})
	}
	email := auth.Email
	if email == "" {
		email = form.Email
	}
	amount, ok := domain.Fee(form.PermitType, form.ApplicationType)
	if email == "" || !ok {
		err := errors.New("missing payer email or fee")
		p.recorder.Record(ctx, auditdomain.KindSubmissionValidationFailed, auditdomain.SubmissionDetails{
			PermitType: form.PermitType, Error: err.Error(),
		})
		return fail(&Result{Fields: []string{"email"}}, &SubmissionError{Code: CodeValidationFailed, Fields: []string{"email"}, Err: err})
	}

	now := p.nowF()
	key := DeriveKey(auth.UserID, form.PermitType, form.ApplicationType, now, p.cfg.IdempotencyTTL)
	if form.IdempotencyKey != "" {
		key = clientKey(auth.UserID, form.IdempotencyKey)
	}
	release, dup := p.guard(ctx, key)
	if dup {
		p.recorder.Record(ctx, auditdomain.KindDuplicateSubmissionBlocked, auditdomain.SubmissionDetails{
			PermitType: form.PermitType, IdempotencyKey: key,
		})
		return fail(&Result{IsDuplicate: true}, &SubmissionError{Code: CodeDuplicateSubmission})
	}
	// Once the key is held the submission runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	defer release(ctx)

	p.recorder.Record(ctx, auditdomain.KindSubmissionStarted, auditdomain.SubmissionDetails{
		PermitType: form.PermitType, IdempotencyKey: key,
	})
	app := &domain.Application{
		UserID:          auth.UserID,
		Email:           email,
		PermitType:      form.PermitType,
		ApplicationType: form.ApplicationType,
		ApplicantName:   form.ApplicantName,
		BusinessName:    form.BusinessName,
		Address:         form.Address,
		Amount:          amount,
	}
	created, err := p.create(ctx, app, key, now)
	if err != nil {
		p.recorder.Record(ctx, auditdomain.KindRecordCreationFailed, auditdomain.SubmissionDetails{
			PermitType: form.PermitType, IdempotencyKey: key, Error: err.Error(),
		})
		return fail(&Result{}, &SubmissionError{Code: CodeRecordCreationFailed, Err: err})
	}
	permit := created.Permit
	if created.IsDuplicate {
		p.recorder.Record(ctx, auditdomain.KindDuplicateSubmissionBlocked, auditdomain.SubmissionDetails{
			PermitID: permit.ID, PermitType: permit.PermitType, IdempotencyKey: key, Status: string(permit.Status),
		})
		return fail(resultFor(permit, &Result{IsDuplicate: true}), &SubmissionError{Code: CodeDuplicateSubmission})
	}
	return p.dispatch(ctx, permit)
}

// create stores the permit once. An active permit of the same kind whose payment window has
// closed is expired first so it no longer blocks the new submission.
func (p *Pipeline) create(ctx context.Context, app *domain.Application, key string, now time.Time) (*repository.CreateResult, error) {
	expiresAt := now.Add(p.cfg.PaymentWindow)
	created, err := p.repo.Create(ctx, app, key, expiresAt)
	if err != nil || !created.IsDuplicate || created.Permit.IdempotencyKey == key ||
		created.Permit.EffectiveStatus(now) != domain.StatusExpired {
		return created, err
	}
	stale := created.Permit
	if _, err := p.repo.UpdateStatus(ctx, stale.ID, domain.StatusExpired); err != nil {
		return nil, fmt.Errorf("expiring stale permit %s: %w", stale.ID, err)
	}
	p.recorder.Record(ctx, auditdomain.KindPermitExpired, auditdomain.SubmissionDetails{
		PermitID: stale.ID, PermitType: stale.PermitType, Status: string(domain.StatusExpired), Attempts: stale.PaymentAttempts,
	})
	return p.repo.Create(ctx, app, key, expiresAt)
}

// Retry re-runs payment initiation for an existing permit owned by auth. Record creation is not repeated.
func (p *Pipeline) Retry(ctx context.Context, permitID string, auth Auth) (*Result, error) {
	if auth.UserID == "" {
		p.recorder.Record(ctx, auditdomain.KindAuthRequired, auditdomain.TokenDetails{Reason: "payment retry without identity"})
		return fail(&Result{}, &SubmissionError{Code: CodeAuthRequired})
	}
	key := "retry:" + auth.UserID + ":" + permitID
	release, dup := p.guard(ctx, key)
	if dup {
		p.recorder.Record(ctx, auditdomain.KindDuplicateSubmissionBlocked, auditdomain.SubmissionDetails{
			PermitID: permitID, IdempotencyKey: key,
		})
		return fail(&Result{PermitID: permitID, IsDuplicate: true}, &SubmissionError{Code: CodeDuplicateSubmission})
	}
	ctx = context.WithoutCancel(ctx)
	defer release(ctx)

	permit, err := p.repo.GetByID(ctx, permitID)
	if err != nil {
		return fail(&Result{PermitID: permitID}, &SubmissionError{Code: CodeUnexpectedError, Retryable: true, Err: err})
	}
	if permit == nil || permit.UserID != auth.UserID {
		return fail(&Result{PermitID: permitID}, &SubmissionError{Code: CodePermitNotFound})
	}
	return p.dispatch(ctx, permit)
}

// guard acquires key. dup is true when another submission holds it. A store error fails open:
// the record store's own uniqueness on the key still applies.
func (p *Pipeline) guard(ctx context.Context, key string) (release func(context.Context), dup bool) {
	noop := func(context.Context) {}
	ok, err := p.keys.Acquire(ctx, key, p.cfg.IdempotencyTTL)
	if err != nil {
		log.Printf("permit: idempotency store unavailable, continuing without guard: %v", err)
		return noop, false
	}
	if !ok {
		return noop, true
	}
	return func(ctx context.Context) {
		rctx, cancel := context.WithTimeout(ctx, releaseTimeout)
		defer cancel()
		if err := p.keys.Release(rctx, key); err != nil {
			log.Printf("permit: release idempotency key: %v", err)
		}
	}, false
}

// dispatch gates on the permit's status and initiates payment when one is due.
func (p *Pipeline) dispatch(ctx context.Context, permit *domain.Permit) (*Result, error) {
	status := permit.EffectiveStatus(p.nowF())
	if status == domain.StatusExpired && permit.Status != domain.StatusExpired {
		if updated, err := p.repo.UpdateStatus(ctx, permit.ID, domain.StatusExpired); err != nil {
			log.Printf("permit: mark %s expired: %v", permit.ID, err)
		} else {
			permit = updated
		}
	}
	details := auditdomain.SubmissionDetails{
		PermitID: permit.ID, PermitType: permit.PermitType, Status: string(status), Attempts: permit.PaymentAttempts,
	}

	switch {
	case status == domain.StatusPaid:
		return resultFor(permit, &Result{Success: true, AlreadyPaid: true}), nil
	case status == domain.StatusExpired:
		p.recorder.Record(ctx, auditdomain.KindPermitExpired, details)
		res := resultFor(permit, &Result{ShouldCreateNew: true})
		res.Status = domain.StatusExpired
		return fail(res, &SubmissionError{Code: CodePermitExpired, Retryable: true})
	case status == domain.StatusPendingPayment || status == domain.StatusPaymentFailed:
		if permit.PaymentAttempts >= p.cfg.MaxPaymentAttempts {
			p.recorder.Record(ctx, auditdomain.KindPaymentMaxAttemptsReached, details)
			return fail(resultFor(permit, &Result{MaxAttemptsReached: true}), &SubmissionError{Code: CodeMaxAttemptsReached})
		}
		return p.pay(ctx, permit)
	case status == domain.StatusPaymentProcessing:
		return fail(resultFor(permit, &Result{}), &SubmissionError{Code: CodePaymentInProgress})
	default:
		details.Error = "unknown permit status"
		p.recorder.Record(ctx, auditdomain.KindRecordCreationFailed, details)
		return fail(resultFor(permit, &Result{}), &SubmissionError{
			Code: CodeUnexpectedError, Err: fmt.Errorf("unknown permit status %q", status),
		})
	}
}

// pay runs one payment round: up to MaxPaymentRetries+1 sequential provider calls, each with a
// fresh reference and a linearly increasing delay between them.
func (p *Pipeline) pay(ctx context.Context, permit *domain.Permit) (*Result, error) {
	maxCalls := p.cfg.MaxPaymentRetries + 1
	round := permit.PaymentAttempts + 1
	var (
		lastErr *payment.Error
		lastRef string
		calls   int
	)
	for attempt := 1; attempt <= maxCalls; attempt++ {
		ref := newReference(permit.ID, round, attempt)
		calls++
		resp, err := p.initiate(ctx, permit, ref, round)
		if err == nil {
			return p.succeeded(ctx, permit, resp, ref, calls), nil
		}
		lastErr, lastRef = payment.Classify(err), ref
		p.recorder.Record(ctx, auditdomain.KindPaymentAttemptFailed, auditdomain.PaymentDetails{
			PermitID: permit.ID, Reference: ref, Attempt: attempt, Amount: permit.Amount,
			Class: string(lastErr.Class), Error: lastErr.Error(),
		})
		if !lastErr.Retryable || attempt == maxCalls {
			break
		}
		p.sleep(time.Duration(attempt) * p.cfg.RetryDelay)
	}

	updated, err := p.repo.RecordPaymentRound(ctx, permit.ID, domain.StatusPaymentFailed, lastRef)
	if err != nil {
		log.Printf("permit: record failed payment round for %s: %v", permit.ID, err)
		updated = permit
		updated.PaymentAttempts++
	}
	exhausted := updated.PaymentAttempts >= p.cfg.MaxPaymentAttempts
	p.recorder.Record(ctx, auditdomain.KindPaymentFailed, auditdomain.PaymentDetails{
		PermitID: permit.ID, Reference: lastRef, Attempt: calls, Amount: permit.Amount,
		Class: string(lastErr.Class), Status: string(updated.Status), Error: lastErr.Error(),
	})
	res := resultFor(updated, &Result{Calls: calls, Reference: lastRef, ErrorClass: lastErr.Class, MaxAttemptsReached: exhausted})
	return fail(res, &SubmissionError{
		Code:      paymentCode(lastErr.Class),
		Retryable: lastErr.Retryable && !exhausted,
		Class:     lastErr.Class,
		Err:       lastErr,
	})
}

func (p *Pipeline) initiate(ctx context.Context, permit *domain.Permit, ref string, round int) (resp *payment.Response, err error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.PaymentTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("payment provider panicked: %v", r)
		}
	}()
	resp, err = p.payments.Initiate(cctx, payment.Request{
		Email:     permit.Email,
		Amount:    permit.Amount,
		Reference: ref,
		Metadata: map[string]string{
			"permit_id":        permit.ID,
			"permit_type":      permit.PermitType,
			"application_type": permit.ApplicationType,
			"round":            fmt.Sprint(round),
		},
	})
	if err == nil && (resp == nil || resp.AuthorizationURL == "") {
		err = &payment.Error{Class: payment.ClassPaymentService, Message: "empty authorization url"}
	}
	return resp, err
}

func (p *Pipeline) succeeded(ctx context.Context, permit *domain.Permit, resp *payment.Response, ref string, calls int) *Result {
	updated, err := p.repo.RecordPaymentRound(ctx, permit.ID, domain.StatusPaymentProcessing, ref)
	if err != nil {
		log.Printf("permit: record payment round for %s: %v", permit.ID, err)
		updated = permit
		updated.Status = domain.StatusPaymentProcessing
		updated.PaymentAttempts++
		updated.PaymentReference = ref
	}
	p.recorder.Record(ctx, auditdomain.KindPaymentInitiated, auditdomain.PaymentDetails{
		PermitID: permit.ID, Reference: ref, Attempt: calls, Amount: permit.Amount, Status: string(updated.Status),
	})
	res := resultFor(updated, &Result{Success: true, PaymentURL: resp.AuthorizationURL, Reference: ref, Calls: calls})
	res.Status = domain.StatusPaymentProcessing
	return res
}

func resultFor(permit *domain.Permit, res *Result) *Result {
	res.PermitID = permit.ID
	res.Status = permit.Status
	res.PaymentAttempts = permit.PaymentAttempts
	return res
}

func fail(res *Result, err *SubmissionError) (*Result, error) {
	res.Success = false
	res.Retryable = err.Retryable
	res.Code = err.Code
	if err.Class != "" {
		res.ErrorClass = err.Class
	}
	return res, err
}
