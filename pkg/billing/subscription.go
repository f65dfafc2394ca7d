package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the authoritative local snapshot of one tenant's billing
// state. Each rescue organization has exactly one record, created in
// StatusInactive when the organization is created and never deleted while
// the organization exists.
//
// Status, plan and anchor fields are written only by the reconciliation
// merge and the explicit plan-selection paths; everything else treats the
// record as read-only.
type Subscription struct {
	TenantID      uuid.UUID // primary key, one record per organization
	PlanID        string    // empty = no plan
	PendingPlanID string    // downgrade scheduled for the next cycle
	Status        Status
	TrialEndsAt   *time.Time // set once a trial has been started
	TrialUsed     bool       // sticky: never cleared once true
	AnchorAt      time.Time  // start of the current accounting period
	AddOnSlots    int        // purchased pet-slot increments
	CreditsUsed   int        // cached counter, derived from the event log

	ProviderCustomerID string    // empty = no provider customer yet
	ProviderSubID      string    // empty = no provider subscription
	ProviderSyncedAt   time.Time // occurred-at of the last applied provider snapshot
	Mode               Mode

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSubscription returns the initial record for a freshly created tenant.
func NewSubscription(tenantID uuid.UUID, mode Mode, now time.Time) *Subscription {
	return &Subscription{
		TenantID:  tenantID,
		Status:    StatusInactive,
		Mode:      mode,
		AnchorAt:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrial
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsTrialExpiredAt reports whether the trial window has closed. Expiry is a
// computed predicate, not a status transition: the record stays in
// StatusTrial while resource-creation gates start rejecting.
func (s *Subscription) IsTrialExpiredAt(now time.Time) bool {
	if s.TrialEndsAt == nil {
		return false
	}
	return !now.Before(*s.TrialEndsAt)
}

// InTrialWindowAt reports whether the original trial window is still open.
// Strictly before the expiry instant: a cancellation landing exactly at
// expiry is not forgiven back to trial.
func (s *Subscription) InTrialWindowAt(now time.Time) bool {
	return s.TrialEndsAt != nil && now.Before(*s.TrialEndsAt)
}

// HasProviderSub reports whether an external subscription reference exists.
func (s *Subscription) HasProviderSub() bool {
	return s.ProviderSubID != ""
}

// CanUseAt reports whether resource-creation gates should consider the
// tenant at all. PastDue is soft state: access continues under normal
// capacity checks until the provider cancels.
func (s *Subscription) CanUseAt(now time.Time) bool {
	switch s.Status {
	case StatusActive, StatusPastDue:
		return true
	case StatusTrial:
		return !s.IsTrialExpiredAt(now)
	default:
		return false
	}
}

// clearProviderRefs drops the external references and everything that only
// makes sense while externally billed.
func (s *Subscription) clearProviderRefs() {
	s.ProviderSubID = ""
	s.ProviderCustomerID = ""
	s.AddOnSlots = 0
	s.PendingPlanID = ""
}
