package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pawtrait-app/pawtrait/pkg/billing"
	"github.com/pawtrait-app/pawtrait/pkg/logger"
)

// maxWebhookBody caps inbound webhook payloads. Paddle events are small;
// anything larger is not a legitimate event.
const maxWebhookBody = 1 << 20

type handlers struct {
	svc *billing.Service
	log *slog.Logger
}

func (h *handlers) paddleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	err = h.svc.HandleProviderWebhook(r.Context(), payload, r.Header.Get("Paddle-Signature"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, billing.ErrWebhookSignature), errors.Is(err, billing.ErrValidation):
		http.Error(w, "invalid webhook", http.StatusBadRequest)
	case errors.Is(err, billing.ErrTenantNotFound):
		// Acknowledge so the provider stops retrying an event we can never
		// attribute, but keep a trace of it.
		h.log.WarnContext(r.Context(), "webhook for unknown tenant acknowledged", logger.Error(err))
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, billing.ErrProviderUnavailable):
		// Transient. A non-2xx response makes the provider redeliver.
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
	default:
		h.log.ErrorContext(r.Context(), "webhook processing failed", logger.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type subscriptionResponse struct {
	TenantID      uuid.UUID  `json:"tenant_id"`
	PlanID        string     `json:"plan_id,omitempty"`
	PendingPlanID string     `json:"pending_plan_id,omitempty"`
	Status        string     `json:"status"`
	TrialEndsAt   *time.Time `json:"trial_ends_at,omitempty"`
	TrialUsed     bool       `json:"trial_used"`
	AddOnSlots    int        `json:"addon_slots"`
	Mode          string     `json:"mode"`
}

func (h *handlers) getSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	sub, err := h.svc.GetSubscription(r.Context(), tenantID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, subscriptionResponse{
		TenantID:      sub.TenantID,
		PlanID:        sub.PlanID,
		PendingPlanID: sub.PendingPlanID,
		Status:        string(sub.Status),
		TrialEndsAt:   sub.TrialEndsAt,
		TrialUsed:     sub.TrialUsed,
		AddOnSlots:    sub.AddOnSlots,
		Mode:          string(sub.Mode),
	})
}

func (h *handlers) getLimits(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	info, err := h.svc.CurrentLimits(r.Context(), tenantID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, info)
}

type planChangeRequest struct {
	PlanID     string `json:"plan_id"`
	Email      string `json:"email"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type planChangeResponse struct {
	Kind        string     `json:"kind"`
	TargetPlan  string     `json:"target_plan"`
	EffectiveAt *time.Time `json:"effective_at,omitempty"`
	CheckoutURL string     `json:"checkout_url,omitempty"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (h *handlers) requestPlanChange(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	var req planChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.PlanID == "" {
		http.Error(w, "plan_id is required", http.StatusBadRequest)
		return
	}

	result, err := h.svc.RequestPlanChange(r.Context(), tenantID, req.PlanID, billing.CheckoutOptions{
		Email:      req.Email,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, planChangeResponse{
		Kind:        string(result.Kind),
		TargetPlan:  result.TargetPlan,
		EffectiveAt: optionalTime(result.EffectiveAt),
		CheckoutURL: result.CheckoutURL,
	})
}

func (h *handlers) cancelPlanChange(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	if err := h.svc.CancelPendingPlanChange(r.Context(), tenantID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addOnRequest struct {
	Quantity int `json:"quantity"`
}

func (h *handlers) setAddOnSlots(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	var req addOnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	if err := h.svc.SetAddOnSlots(r.Context(), tenantID, req.Quantity); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) validate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	if err := h.svc.ValidateTenant(r.Context(), tenantID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) tenantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		http.Error(w, "invalid tenant id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, billing.ErrTenantNotFound), errors.Is(err, billing.ErrPlanNotFound):
		status = http.StatusNotFound
	case errors.Is(err, billing.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, billing.ErrSamePlan),
		errors.Is(err, billing.ErrNoPendingChange),
		errors.Is(err, billing.ErrTrialAlreadyUsed),
		errors.Is(err, billing.ErrInvalidState),
		errors.Is(err, billing.ErrNotActivelyBilled),
		errors.Is(err, billing.ErrAddOnLimitExceeded),
		errors.Is(err, billing.ErrAddOnBelowUsage),
		errors.Is(err, billing.ErrPetLimitReached),
		errors.Is(err, billing.ErrCreditsExhausted):
		status = http.StatusConflict
	case errors.Is(err, billing.ErrProviderUnavailable), errors.Is(err, billing.ErrUsageUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, billing.ErrProviderRejected):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "billing request failed",
			"path", r.URL.Path, logger.Error(err))
	}
	h.respondJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *handlers) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("response encoding failed", logger.Error(err))
	}
}
