// Package handler exposes permit submission, payment retry and the payment webhook over HTTP.
package handler

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit"
	auditdomain "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/domain"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/payment"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/repository"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/service"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/server/interceptors"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/server/respond"
)

const (
	maxFormBytes    = 16 << 10
	maxWebhookBytes = 64 << 10
)

var timeNow = time.Now

// Pipeline is the submission pipeline used by the handlers.
type Pipeline interface {
	Submit(ctx context.Context, form service.Form, auth service.Auth) (*service.Result, error)
	Retry(ctx context.Context, permitID string, auth service.Auth) (*service.Result, error)
}

// Store is the subset of the permit repository the handlers read and update directly.
type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Permit, error)
	UpdateStatusByReference(ctx context.Context, reference string, status domain.Status) (*domain.Permit, error)
}

// Server serves permit routes.
type Server struct {
	pipeline      Pipeline
	store         Store
	recorder      audit.Recorder
	webhookSecret string
}

// NewServer returns a permit HTTP server. recorder may be nil.
func NewServer(pipeline Pipeline, store Store, recorder audit.Recorder, webhookSecret string) *Server {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Server{pipeline: pipeline, store: store, recorder: recorder, webhookSecret: webhookSecret}
}

type resultBody struct {
	*service.Result
	Error string `json:"error,omitempty"`
}

func authFromContext(ctx context.Context) service.Auth {
	id, ok := interceptors.GetIdentity(ctx)
	if !ok {
		return service.Auth{}
	}
	return service.Auth{UserID: id.UserID, Email: id.Email, SessionID: id.SessionID}
}

// Submit handles POST /api/permits/applications.
func (s *Server) Submit(w http.ResponseWriter, r *http.Request) {
	var form service.Form
	if err := respond.DecodeJSON(w, r, &form, maxFormBytes); err != nil {
		respond.Error(w, http.StatusBadRequest, string(service.CodeValidationFailed), "invalid request body", false)
		return
	}
	if form.IdempotencyKey == "" {
		form.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	res, err := s.pipeline.Submit(r.Context(), form, authFromContext(r.Context()))
	s.writeResult(w, http.StatusCreated, res, err)
}

// Retry handles POST /api/permits/applications/{id}/retry.
func (s *Server) Retry(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.Retry(r.Context(), r.PathValue("id"), authFromContext(r.Context()))
	s.writeResult(w, http.StatusOK, res, err)
}

// Get handles GET /api/permits/applications/{id} for the owning user.
func (s *Server) Get(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r.Context())
	if auth.UserID == "" {
		respond.Error(w, http.StatusUnauthorized, string(service.CodeAuthRequired), "authentication required", false)
		return
	}
	p, err := s.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		log.Printf("permit: get %s: %v", r.PathValue("id"), err)
		respond.Error(w, http.StatusInternalServerError, string(service.CodeUnexpectedError), "could not load permit", true)
		return
	}
	if p == nil || p.UserID != auth.UserID {
		respond.Error(w, http.StatusNotFound, string(service.CodePermitNotFound), "permit not found", false)
		return
	}
	p.Status = p.EffectiveStatus(timeNow())
	respond.JSON(w, http.StatusOK, p)
}

func (s *Server) writeResult(w http.ResponseWriter, okStatus int, res *service.Result, err error) {
	if res == nil {
		res = &service.Result{}
	}
	if err == nil {
		if res.AlreadyPaid {
			okStatus = http.StatusOK
		}
		respond.JSON(w, okStatus, resultBody{Result: res})
		return
	}
	var se *service.SubmissionError
	if !errors.As(err, &se) {
		log.Printf("permit: unexpected error: %v", err)
		respond.Error(w, http.StatusInternalServerError, string(service.CodeUnexpectedError), "unexpected error", false)
		return
	}
	respond.JSON(w, statusFor(se.Code), resultBody{Result: res, Error: messageFor(se.Code)})
}

func statusFor(code service.Code) int {
	switch code {
	case service.CodeAuthRequired:
		return http.StatusUnauthorized
	case service.CodeValidationFailed:
		return http.StatusBadRequest
	case service.CodeDuplicateSubmission, service.CodePaymentInProgress:
		return http.StatusConflict
	case service.CodePermitNotFound:
		return http.StatusNotFound
	case service.CodePermitExpired:
		return http.StatusGone
	case service.CodeMaxAttemptsReached:
		return http.StatusUnprocessableEntity
	case service.CodePaymentNetworkError, service.CodePaymentServiceError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func messageFor(code service.Code) string {
	switch code {
	case service.CodeAuthRequired:
		return "authentication required"
	case service.CodeValidationFailed:
		return "application is incomplete or invalid"
	case service.CodeDuplicateSubmission:
		return "this application is already being processed"
	case service.CodeRecordCreationFailed:
		return "could not save the application; please submit again"
	case service.CodePermitExpired:
		return "this application has expired; start a new application"
	case service.CodeMaxAttemptsReached:
		return "maximum payment attempts reached"
	case service.CodePaymentNetworkError:
		return "could not reach the payment service"
	case service.CodePaymentServiceError:
		return "the payment service rejected the request"
	case service.CodePermitNotFound:
		return "permit not found"
	case service.CodePaymentInProgress:
		return "a payment is already in progress for this application"
	}
	return "unexpected error"
}

// Webhook handles POST /api/payments/webhook. Events for unknown references or illegal transitions
// are acknowledged so the provider stops redelivering them.
func (s *Server) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid body", false)
		return
	}
	ev, err := payment.ParseWebhook(s.webhookSecret, body, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		s.recorder.Record(r.Context(), auditdomain.KindPaymentWebhookRejected, auditdomain.PaymentDetails{Error: err.Error()})
		status := http.StatusBadRequest
		if errors.Is(err, payment.ErrInvalidSignature) {
			status = http.StatusUnauthorized
		}
		respond.Error(w, status, "WEBHOOK_REJECTED", "webhook rejected", false)
		return
	}

	var to domain.Status
	switch ev.Event {
	case payment.EventChargeSuccess:
		to = domain.StatusPaid
	case payment.EventChargeFailed:
		to = domain.StatusPaymentFailed
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	p, err := s.store.UpdateStatusByReference(r.Context(), ev.Data.Reference, to)
	switch {
	case err == nil:
		s.recorder.Record(r.Context(), auditdomain.KindPaymentStatusUpdated, auditdomain.PaymentDetails{
			PermitID: p.ID, Reference: ev.Data.Reference, Amount: ev.Data.Amount, Status: string(p.Status),
		})
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition):
		log.Printf("permit: webhook %s for %s ignored: %v", ev.Event, ev.Data.Reference, err)
	default:
		log.Printf("permit: webhook %s for %s: %v", ev.Event, ev.Data.Reference, err)
		respond.Error(w, http.StatusInternalServerError, "UNEXPECTED_ERROR", "could not apply event", true)
		return
	}
	w.WriteHeader(http.StatusOK)
}
