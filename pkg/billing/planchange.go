package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// CheckoutOptions carries the redirect URLs and billing email for checkout
// flows, supplied by the web layer per request.
type CheckoutOptions struct {
	Email      string
	SuccessURL string
	CancelURL  string
}

// RequestPlanChange decides how a requested plan change is executed.
//
// For a tenant without a live provider subscription this is plan selection:
// a zero-cost trial plan activates locally (once per tenant, ever), a paid
// plan opens a checkout session and takes effect only when the provider
// confirms payment via webhook, never optimistically.
//
// For an actively billed tenant: a more expensive plan is an immediate
// upgrade through checkout; a cheaper or same-priced plan is a deferred
// change scheduled at the next billing-cycle boundary without proration.
func (s *Service) RequestPlanChange(ctx context.Context, tenantID uuid.UUID, targetPlanID string, opts CheckoutOptions) (*PlanChangeResult, error) {
	target, err := s.catalog.Get(targetPlanID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Preconditions are checked on the under-lock read only; a check on an
	// earlier read could pass on state a concurrent change already replaced.
	sub, err := s.subs.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// One trial per tenant, regardless of current status or how the tenant
	// got here. Cancel/re-signup cycles do not reset this.
	if target.IsFree() && target.HasTrial() && sub.TrialUsed {
		return nil, ErrTrialAlreadyUsed
	}
	if sub.PlanID == targetPlanID && sub.PendingPlanID == "" {
		return nil, ErrSamePlan
	}

	if !sub.IsActive() || !sub.HasProviderSub() {
		return s.selectPlan(ctx, sub, target, opts)
	}

	current, err := s.catalog.Get(sub.PlanID)
	if err != nil {
		return nil, err
	}
	if target.ID == current.ID {
		return nil, ErrSamePlan
	}

	if target.Price.Amount > current.Price.Amount {
		return s.startUpgrade(ctx, sub, target, opts)
	}
	return s.scheduleDowngrade(ctx, sub, target)
}

// selectPlan handles entry from inactive, canceled, or trial states.
func (s *Service) selectPlan(ctx context.Context, sub *Subscription, target Plan, opts CheckoutOptions) (*PlanChangeResult, error) {
	now := s.now()

	if target.IsFree() {
		if !target.HasTrial() {
			return nil, errors.Join(ErrValidation, errors.New("billing: free plan without trial window"))
		}
		end := target.TrialEndsAt(now)
		sub.PlanID = target.ID
		sub.Status = StatusTrial
		sub.TrialEndsAt = &end
		sub.TrialUsed = true
		sub.AnchorAt = now // trial anchors locally; paid cycles anchor on the provider
		sub.AddOnSlots = 0
		sub.PendingPlanID = ""
		sub.UpdatedAt = now
		if err := s.subs.UpdateBilling(ctx, sub); err != nil {
			return nil, err
		}
		return &PlanChangeResult{Kind: ChangeImmediate, TargetPlan: target.ID, EffectiveAt: now}, nil
	}

	return s.startUpgrade(ctx, sub, target, opts)
}

// startUpgrade opens a checkout session. Local state is untouched until the
// provider confirms payment through a webhook.
func (s *Service) startUpgrade(ctx context.Context, sub *Subscription, target Plan, opts CheckoutOptions) (*PlanChangeResult, error) {
	priceID := target.PriceID(sub.Mode)
	if priceID == "" {
		return nil, errors.Join(ErrValidation, errors.New("billing: plan has no provider price for tenant mode"))
	}

	// Checkout trusts the stored customer reference; re-validate it first.
	if err := s.validateProviderRefs(ctx, sub); err != nil {
		return nil, err
	}

	if sub.ProviderCustomerID == "" {
		customerID, err := s.provider.CreateCustomer(ctx, sub.Mode, sub.TenantID, opts.Email)
		if err != nil {
			return nil, err
		}
		sub.ProviderCustomerID = customerID
		sub.UpdatedAt = s.now()
		if err := s.subs.UpdateBilling(ctx, sub); err != nil {
			return nil, err
		}
	}

	session, err := s.provider.CreateCheckoutSession(ctx, sub.Mode, CheckoutRequest{
		PriceID:    priceID,
		CustomerID: sub.ProviderCustomerID,
		TenantID:   sub.TenantID,
		Email:      opts.Email,
		SuccessURL: opts.SuccessURL,
		CancelURL:  opts.CancelURL,
	})
	if err != nil {
		return nil, err
	}

	return &PlanChangeResult{
		Kind:        ChangeImmediate,
		TargetPlan:  target.ID,
		CheckoutURL: session.URL,
	}, nil
}

// scheduleDowngrade defers the change to the next cycle boundary. The live
// plan stays untouched; only PendingPlanID records the intent, applied when
// the boundary invoice webhook arrives.
func (s *Service) scheduleDowngrade(ctx context.Context, sub *Subscription, target Plan) (*PlanChangeResult, error) {
	priceID := target.PriceID(sub.Mode)
	if priceID == "" {
		return nil, errors.Join(ErrValidation, errors.New("billing: plan has no provider price for tenant mode"))
	}

	if err := s.validateProviderRefs(ctx, sub); err != nil {
		return nil, err
	}
	if !sub.HasProviderSub() {
		return nil, ErrNotActivelyBilled
	}

	effectiveAt, err := s.provider.ScheduleItemPriceChange(ctx, sub.Mode, sub.ProviderSubID, priceID)
	if err != nil {
		return nil, err
	}

	sub.PendingPlanID = target.ID
	sub.UpdatedAt = s.now()
	if err := s.subs.UpdateBilling(ctx, sub); err != nil {
		return nil, err
	}

	return &PlanChangeResult{
		Kind:        ChangeScheduled,
		TargetPlan:  target.ID,
		EffectiveAt: effectiveAt,
	}, nil
}

// CancelPendingPlanChange abandons a scheduled downgrade by re-asserting the
// current plan's price with the provider and clearing the pending marker.
func (s *Service) CancelPendingPlanChange(ctx context.Context, tenantID uuid.UUID) error {
	unlock, err := s.locker.Lock(ctx, tenantID)
	if err != nil {
		return err
	}
	defer unlock()

	sub, err := s.subs.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if sub.PendingPlanID == "" {
		return ErrNoPendingChange
	}

	current, err := s.catalog.Get(sub.PlanID)
	if err != nil {
		return err
	}
	priceID := current.PriceID(sub.Mode)
	if priceID == "" || !sub.HasProviderSub() {
		return ErrNotActivelyBilled
	}

	if _, err := s.provider.ScheduleItemPriceChange(ctx, sub.Mode, sub.ProviderSubID, priceID); err != nil {
		return err
	}

	sub.PendingPlanID = ""
	sub.UpdatedAt = s.now()
	return s.subs.UpdateBilling(ctx, sub)
}

// SetAddOnSlots purchases or releases extra pet slots. Only available on an
// actively billed paid plan; lowering below the current pet count is
// rejected so the caller frees pets first instead of silently truncating.
func (s *Service) SetAddOnSlots(ctx context.Context, tenantID uuid.UUID, quantity int) error {
	if quantity < 0 {
		return errors.Join(ErrValidation, errors.New("billing: add-on quantity cannot be negative"))
	}
	if quantity > MaxAddOnSlots {
		return ErrAddOnLimitExceeded
	}

	unlock, err := s.locker.Lock(ctx, tenantID)
	if err != nil {
		return err
	}
	defer unlock()

	sub, err := s.subs.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	// Add-on changes trust the stored subscription reference.
	if err := s.validateProviderRefs(ctx, sub); err != nil {
		return err
	}
	if !sub.IsActive() || !sub.HasProviderSub() {
		return ErrNotActivelyBilled
	}

	plan, err := s.catalog.Get(sub.PlanID)
	if err != nil {
		return err
	}
	if plan.IsFree() {
		return ErrNotActivelyBilled
	}

	if quantity < sub.AddOnSlots && plan.PetLimit != nil && s.petCount != nil {
		count, err := s.petCount(ctx, tenantID)
		if err != nil {
			return errors.Join(ErrUsageUnavailable, err)
		}
		if count > *plan.PetLimit+quantity {
			return ErrAddOnBelowUsage
		}
	}

	addOnPriceID := s.addOnPriceIDs[sub.Mode]
	if addOnPriceID == "" {
		return errors.Join(ErrValidation, errors.New("billing: no add-on price configured for tenant mode"))
	}
	if err := s.provider.UpdateItemQuantity(ctx, sub.Mode, sub.ProviderSubID, addOnPriceID, quantity); err != nil {
		return err
	}

	sub.AddOnSlots = quantity
	sub.UpdatedAt = s.now()
	return s.subs.UpdateBilling(ctx, sub)
}
