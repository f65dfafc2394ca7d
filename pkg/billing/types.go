package billing

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects which billing provider environment a tenant is scoped to.
// Rescue organizations created from staging builds bill against the sandbox,
// everything else against the live environment.
type Mode string

const (
	ModeLive Mode = "live"
	ModeTest Mode = "test"
)

// Status represents the local subscription state of a tenant.
type Status string

const (
	StatusInactive Status = "inactive"  // no plan chosen yet
	StatusTrial    Status = "trial"     // zero-cost plan with an expiry
	StatusActive   Status = "active"    // paying, or administrator-assigned
	StatusPastDue  Status = "past_due"  // provider reported a failed charge
	StatusCanceled Status = "canceled"  // sticky until a new plan is selected
)

// Money represents a monetary amount in the smallest currency unit.
// $39.00 USD is Amount: 3900, Currency: "USD".
type Money struct {
	Amount   int64  `yaml:"amount"`
	Currency string `yaml:"currency"`
}

// UsageEvent is one consumed generation credit. Events are append-only and
// never updated or deleted; they are the ground truth for credit accounting.
type UsageEvent struct {
	ID        int64
	TenantID  uuid.UUID
	CreatedAt time.Time
}

// LimitsInfo is the read-side summary handed to the CRUD/API layer.
type LimitsInfo struct {
	PlanID         string    `json:"plan_id"`
	PlanLimit      *int      `json:"plan_limit"` // nil = unlimited pets
	AddOnSlots     int       `json:"addon_slots"`
	EffectiveLimit *int      `json:"effective_limit"` // plan limit + add-on slots, nil = unlimited
	CreditsUsed    int       `json:"credits_used"`
	CreditsLimit   int       `json:"credits_limit"`
	CycleStartedAt time.Time `json:"cycle_started_at"`
}

// ChangeKind tells the caller whether a plan change took effect now or is
// scheduled for the next billing cycle.
type ChangeKind string

const (
	ChangeImmediate ChangeKind = "immediate"
	ChangeScheduled ChangeKind = "scheduled"
)

// PlanChangeResult describes the outcome of a plan change request.
type PlanChangeResult struct {
	Kind        ChangeKind
	TargetPlan  string
	EffectiveAt time.Time // next cycle boundary for scheduled changes
	CheckoutURL string    // set for upgrades that require payment collection
}
