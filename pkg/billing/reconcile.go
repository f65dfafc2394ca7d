package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// mapProviderStatus translates a provider status string into the local
// status enum. known=false means the status is unrecognized and the local
// status must be left unchanged rather than guessed. cancel=true selects the
// cancellation handling path, which applies trial forgiveness.
func mapProviderStatus(provider string) (status Status, known, cancel bool) {
	switch provider {
	case "trialing":
		return StatusTrial, true, false
	case "active":
		return StatusActive, true, false
	case "past_due":
		return StatusPastDue, true, false
	case "canceled", "unpaid", "incomplete", "incomplete_expired", "paused":
		return StatusCanceled, true, true
	default:
		return "", false, false
	}
}

// reconcile merges an external snapshot into the local record. It is the
// only writer of status, plan and anchor, and it is idempotent: re-applying
// a snapshot that is not newer than the recorded watermark is a no-op, so
// duplicate and out-of-order webhook deliveries cannot regress state.
//
// All three triggers (webhook, sweep, on-demand validation) funnel here and
// may run concurrently for the same tenant; every write is a conditional
// merge against current stored values, with the provider as tie-breaker.
func (s *Service) reconcile(ctx context.Context, sub *Subscription, snap *SubscriptionSnapshot, now time.Time) error {
	if snap == nil {
		return nil
	}
	if !snap.OccurredAt.After(sub.ProviderSyncedAt) {
		return nil
	}

	status, known, cancel := mapProviderStatus(snap.Status)

	if cancel {
		s.applyCancellation(sub, now)
		sub.ProviderSyncedAt = snap.OccurredAt
		sub.UpdatedAt = now
		return s.subs.UpdateBilling(ctx, sub)
	}

	if known {
		sub.Status = status
	}

	if snap.SubscriptionID != "" {
		sub.ProviderSubID = snap.SubscriptionID
	}
	if snap.CustomerID != "" {
		sub.ProviderCustomerID = snap.CustomerID
	}

	// Plan identity follows the provider price ID. An unrecognized price
	// leaves the plan unchanged; it is never nulled out on a mismatch.
	if plan, ok := s.catalog.ByPriceID(sub.Mode, snap.PriceID); ok {
		sub.PlanID = plan.ID
		if sub.PendingPlanID == plan.ID {
			// The scheduled downgrade took effect on the provider side.
			sub.PendingPlanID = ""
		}
	}

	// Add-on quantity is adopted from the provider only upward. Lowering the
	// effective limit is reserved for explicit add-on or plan changes, so a
	// read-only validation merge can never shrink a tenant's capacity.
	if snap.AddOnQuantity > sub.AddOnSlots && snap.AddOnQuantity <= MaxAddOnSlots {
		sub.AddOnSlots = snap.AddOnQuantity
	}

	// The anchor only advances, and only on a provider-confirmed active
	// period. A new cycle also retires any pending plan change: either it
	// was applied at the boundary (handled above) or the provider dropped it.
	if known && status == StatusActive && snap.PeriodStart != nil && snap.PeriodStart.After(sub.AnchorAt) {
		sub.AnchorAt = snap.PeriodStart.UTC()
		sub.PendingPlanID = ""
	}

	sub.ProviderSyncedAt = snap.OccurredAt
	sub.UpdatedAt = now
	return s.subs.UpdateBilling(ctx, sub)
}

// applyCancellation implements the cancellation transition, including trial
// forgiveness: a cancellation landing while the original trial window is
// still open reverts the tenant to trial on the zero-cost plan instead of
// punishing them with permanent trial loss. This is a deliberate business
// rule. The window comparison is strictly before the expiry instant.
func (s *Service) applyCancellation(sub *Subscription, now time.Time) {
	if sub.InTrialWindowAt(now) {
		sub.Status = StatusTrial
		if trialPlan, ok := s.catalog.TrialPlan(); ok {
			sub.PlanID = trialPlan.ID
		}
		sub.clearProviderRefs()
		return
	}

	sub.Status = StatusCanceled
	sub.PlanID = ""
	sub.clearProviderRefs()
}

// HandleProviderWebhook verifies and applies one inbound billing event.
// Duplicate deliveries are absorbed by the merge watermark; events for
// unknown tenants surface ErrTenantNotFound so the transport layer can
// acknowledge them without retry.
func (s *Service) HandleProviderWebhook(ctx context.Context, payload []byte, signature string) error {
	// The provider does not label which environment an event belongs to, so
	// the mode is genuinely unknown here and verification tries each
	// configured secret (see ParseWebhook).
	event, err := s.provider.ParseWebhook(payload, signature, ModeUnknown)
	if err != nil {
		return err
	}

	if event.TenantID == uuid.Nil {
		s.log.WarnContext(ctx, "webhook event without tenant reference, skipping",
			"event_type", event.EventType, "event_id", event.EventID)
		return nil
	}

	sub, err := s.subs.Get(ctx, event.TenantID)
	if err != nil {
		return err
	}

	now := s.now()
	snap := event.Snapshot
	if snap == nil && event.SubscriptionID != "" {
		// Invoice-level events carry no subscription body; the provider is
		// the tie-breaker source of truth, so fetch the current state.
		snap, err = s.provider.RetrieveSubscription(ctx, sub.Mode, event.SubscriptionID)
		if err != nil {
			return err
		}
	}
	if snap == nil {
		return nil
	}

	if err := s.reconcile(ctx, sub, snap, now); err != nil {
		return err
	}

	// Anchor may have advanced; refresh the cached counter best-effort.
	if err := s.SyncUsage(ctx, event.TenantID); err != nil {
		s.log.WarnContext(ctx, "usage sync after webhook failed",
			"tenant_id", event.TenantID, "error", err)
	}
	return nil
}

// ValidateTenant re-checks a tenant's stored provider references on demand,
// the same pass the startup sweep runs for every billed tenant. Useful before
// trusting a record that may have drifted while the service was down.
func (s *Service) ValidateTenant(ctx context.Context, tenantID uuid.UUID) error {
	unlock, err := s.locker.Lock(ctx, tenantID)
	if err != nil {
		return err
	}
	defer unlock()

	sub, err := s.subs.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	return s.validateProviderRefs(ctx, sub)
}

// validateProviderRefs re-checks stored external references immediately
// before any action that trusts them. Stale references are cleared locally;
// if the cleared subscription reference was the only thing justifying an
// active status, the record moves through the same cancellation transition
// as a provider-reported cancel. Transient provider failures mutate nothing.
func (s *Service) validateProviderRefs(ctx context.Context, sub *Subscription) error {
	now := s.now()
	dirty := false

	if sub.ProviderSubID != "" {
		snap, err := s.provider.RetrieveSubscription(ctx, sub.Mode, sub.ProviderSubID)
		switch {
		case err == nil:
			if err := s.reconcile(ctx, sub, snap, now); err != nil {
				return err
			}
		case errors.Is(err, ErrProviderRejected):
			sub.ProviderSubID = ""
			if sub.Status == StatusActive {
				s.applyCancellation(sub, now)
			}
			dirty = true
		default:
			return err
		}
	}

	if sub.ProviderCustomerID != "" {
		cust, err := s.provider.RetrieveCustomer(ctx, sub.Mode, sub.ProviderCustomerID)
		switch {
		case err == nil:
			if cust.Deleted {
				sub.ProviderCustomerID = ""
				dirty = true
			}
		case errors.Is(err, ErrProviderRejected):
			sub.ProviderCustomerID = ""
			dirty = true
		default:
			return err
		}
	}

	if dirty {
		sub.UpdatedAt = now
		return s.subs.UpdateBilling(ctx, sub)
	}
	return nil
}
