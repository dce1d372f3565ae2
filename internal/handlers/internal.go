package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/httpx"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/requestctx"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/services"
)

const (
	maxPushBodySize     = 64 * 1024
	reviewRateLimit     = 6
	reviewRateWindow    = time.Minute
	errorCodeBadRequest = "invalid_request"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

// InternalHandlers serves the endpoints called by Cloud Scheduler, Pub/Sub push and operators.
// The group is expected to sit behind OIDC verification.
type InternalHandlers struct {
	jobs     services.JobRunner
	tracking services.TrackingService
	payments services.PaymentService
	limiter  ReviewLimiter
}

// InternalOption customises InternalHandlers.
type InternalOption func(*InternalHandlers)

// WithInternalClock sets the clock of the default in-memory review limiter.
func WithInternalClock(clock func() time.Time) InternalOption {
	return func(h *InternalHandlers) {
		h.limiter = newMemoryLimiter(reviewRateLimit, reviewRateWindow, clock)
	}
}

// WithReviewLimiter replaces the in-memory review limiter, typically with one shared across
// instances.
func WithReviewLimiter(limiter ReviewLimiter) InternalOption {
	return func(h *InternalHandlers) {
		if limiter != nil {
			h.limiter = limiter
		}
	}
}

// NewInternalHandlers constructs the internal endpoint handlers. Nil services answer 503.
func NewInternalHandlers(jobs services.JobRunner, tracking services.TrackingService, payments services.PaymentService, opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{
		jobs:     jobs,
		tracking: tracking,
		payments: payments,
		limiter:  newMemoryLimiter(reviewRateLimit, reviewRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/jobs", h.listJobs)
	r.Post("/jobs/{job}", h.runJob)
	r.Post("/pubsub/awb-registrations", h.registerWaybill)
	r.Post("/payments/{transactionId}:review", h.reviewPayment)
}

func (h *InternalHandlers) listJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("jobs_unavailable", "job runner unavailable", http.StatusServiceUnavailable))
		return
	}
	defs := h.jobs.Jobs()
	payload := make([]jobDefinitionPayload, 0, len(defs))
	for _, def := range defs {
		payload = append(payload, jobDefinitionPayload{Name: def.Name, Schedule: def.Schedule})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"jobs": payload})
}

func (h *InternalHandlers) runJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.jobs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("jobs_unavailable", "job runner unavailable", http.StatusServiceUnavailable))
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "job"))
	result, err := h.jobs.Run(ctx, name)
	if err != nil {
		if errors.Is(err, services.ErrJobUnknown) {
			httpx.WriteError(ctx, w, httpx.NewError("job_not_found", "unknown job "+name, http.StatusNotFound))
			return
		}
		requestctx.Logger(ctx).Error("internal: job failed", zap.String("job", name), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("job_failed", "job "+name+" failed", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, jobResultPayload{
		Job:        result.Name,
		Skipped:    result.Skipped,
		Processed:  result.Processed,
		StartedAt:  result.StartedAt.UTC().Format(time.RFC3339),
		DurationMS: result.Duration.Milliseconds(),
	})
}

// registerWaybill consumes a Pub/Sub push delivery. Malformed or permanently invalid tasks
// are acknowledged so they are not redelivered; transient failures answer 500 to retry.
func (h *InternalHandlers) registerWaybill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)
	if h.tracking == nil {
		httpx.WriteError(ctx, w, httpx.NewError("tracking_unavailable", "tracking service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxPushBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(errorCodeBadRequest, "invalid push envelope", http.StatusBadRequest))
		return
	}
	var task services.AirWaybillTask
	if err := json.Unmarshal(envelope.Message.Data, &task); err != nil {
		logger.Warn("internal: dropping malformed waybill task", zap.String("messageId", envelope.Message.MessageID), zap.Error(err))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.tracking.RegisterAirWaybill(ctx, task); err != nil {
		switch {
		case errors.Is(err, services.ErrTrackingInvalidInput),
			errors.Is(err, services.ErrTrackingNotFound),
			errors.Is(err, services.ErrTrackingInvalidState):
			logger.Warn("internal: waybill task rejected",
				zap.String("messageId", envelope.Message.MessageID),
				zap.String("bookingId", task.BookingID),
				zap.Error(err))
			w.WriteHeader(http.StatusNoContent)
		default:
			logger.Error("internal: waybill registration failed", zap.String("bookingId", task.BookingID), zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("registration_failed", "waybill registration failed", http.StatusInternalServerError))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InternalHandlers) reviewPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "transactionId"))
	if id == "" {
		httpx.WriteError(ctx, w, httpx.NewError(errorCodeBadRequest, "transaction id is required", http.StatusBadRequest))
		return
	}
	allowed, err := h.limiter.Allow(ctx, id)
	if err != nil {
		// fail open
		requestctx.Logger(ctx).Warn("internal: review limiter unavailable", zap.String("transactionId", id), zap.Error(err))
		allowed = true
	}
	if !allowed {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many reviews for this transaction", http.StatusTooManyRequests))
		return
	}

	tx, err := h.payments.ReviewTransaction(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPaymentNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("transaction_not_found", "transaction not found", http.StatusNotFound))
		case errors.Is(err, services.ErrPaymentInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError(errorCodeBadRequest, err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrPaymentProvider):
			httpx.WriteError(ctx, w, httpx.NewError("provider_error", "payment provider unavailable", http.StatusBadGateway))
		default:
			requestctx.Logger(ctx).Error("internal: payment review failed", zap.String("transactionId", id), zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("review_failed", "payment review failed", http.StatusInternalServerError))
		}
		return
	}

	payload := transactionPayload{
		ID:        tx.ID,
		BookingID: tx.BookingID,
		Provider:  tx.Provider,
		Status:    string(tx.Status),
		Charge:    tx.Charge.StringFixed(2),
		Currency:  tx.Currency,
		Attempts:  tx.Attempts,
		ExpiresAt: tx.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if tx.FinishedAt != nil {
		payload.FinishedAt = tx.FinishedAt.UTC().Format(time.RFC3339)
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

// pushEnvelope is the JSON body of a Pub/Sub push delivery. Data arrives base64 encoded,
// which encoding/json decodes into the byte slice.
type pushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type jobDefinitionPayload struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
}

type jobResultPayload struct {
	Job        string `json:"job"`
	Skipped    bool   `json:"skipped"`
	Processed  int    `json:"processed"`
	StartedAt  string `json:"startedAt"`
	DurationMS int64  `json:"durationMs"`
}

type transactionPayload struct {
	ID         string `json:"id"`
	BookingID  string `json:"bookingId"`
	Provider   string `json:"provider"`
	Status     string `json:"status"`
	Charge     string `json:"charge"`
	Currency   string `json:"currency"`
	Attempts   int    `json:"attempts"`
	ExpiresAt  string `json:"expiresAt"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError(errorCodeBadRequest, "request body is required", http.StatusBadRequest))
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError(errorCodeBadRequest, err.Error(), http.StatusBadRequest))
	}
}

