package billing

import "errors"

// Not-found class. Surfaced verbatim; callers map these to 404s.
var (
	ErrTenantNotFound     = errors.New("billing: tenant subscription not found")
	ErrPlanNotFound       = errors.New("billing: plan not found")
	ErrUsageEventNotFound = errors.New("billing: usage event not found")
)

// Invalid-state class. The action is not valid for the tenant's current
// status; user-actionable, never retried automatically.
var (
	ErrInvalidState      = errors.New("billing: action not valid for current subscription state")
	ErrTrialAlreadyUsed  = errors.New("billing: trial plan already used by this tenant")
	ErrSamePlan          = errors.New("billing: tenant is already on the requested plan")
	ErrNoPendingChange   = errors.New("billing: no pending plan change to cancel")
	ErrNotActivelyBilled = errors.New("billing: operation requires an actively billed paid plan")
)

// Capacity class. Surfaced verbatim ("remove a pet first", "upgrade your plan").
var (
	ErrPetLimitReached    = errors.New("billing: pet limit reached for current plan")
	ErrCreditsExhausted   = errors.New("billing: monthly generation credits exhausted")
	ErrAddOnLimitExceeded = errors.New("billing: add-on slot maximum exceeded")
	ErrAddOnBelowUsage    = errors.New("billing: add-on reduction below current pet count")
)

// Provider class. Unavailable is transient and must never mutate local
// state; Rejected is permanent for the request and triggers stale-reference
// cleanup before it is surfaced.
var (
	ErrProviderUnavailable = errors.New("billing: billing provider temporarily unavailable")
	ErrProviderRejected    = errors.New("billing: billing provider rejected the request")
)

// Validation and accounting failures.
var (
	ErrValidation       = errors.New("billing: invalid input")
	ErrUsageUnavailable = errors.New("billing: usage event log unreadable")
	ErrWebhookSignature = errors.New("billing: webhook signature verification failed")
)
