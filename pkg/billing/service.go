package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PetCounterFunc returns the number of active pet profiles for a tenant.
// Called on every pet-creation attempt, so implementations should be an
// indexed aggregate or a cached value.
type PetCounterFunc func(ctx context.Context, tenantID uuid.UUID) (int, error)

// Service is the subscription and usage engine exposed to the CRUD/API
// layer. All state transitions funnel through the reconciliation merge; the
// read-side gates never mutate anything except the cached usage counter.
type Service struct {
	catalog  *Catalog
	subs     SubscriptionStore
	events   UsageEventStore
	provider BillingProvider

	locker        TenantLocker
	maintenance   Maintenance
	petCount      PetCounterFunc
	addOnPriceIDs map[Mode]string
	now           func() time.Time
	log           *slog.Logger
	sweepWorkers  int
}

// NewService wires the engine together. Panics on nil required
// collaborators to fail fast during initialization.
func NewService(catalog *Catalog, subs SubscriptionStore, events UsageEventStore, provider BillingProvider, opts ...ServiceOption) *Service {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if subs == nil {
		panic("billing: SubscriptionStore is required")
	}
	if events == nil {
		panic("billing: UsageEventStore is required")
	}
	if provider == nil {
		panic("billing: BillingProvider is required")
	}

	s := &Service{
		catalog:      catalog,
		subs:         subs,
		events:       events,
		provider:     provider,
		locker:       NewKeyedMutex(),
		now:          func() time.Time { return time.Now().UTC() },
		log:          slog.Default(),
		sweepWorkers: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSubscription returns the tenant's record, creating the initial
// inactive one if the organization is new.
func (s *Service) EnsureSubscription(ctx context.Context, tenantID uuid.UUID, mode Mode) (*Subscription, error) {
	sub, err := s.subs.Get(ctx, tenantID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrTenantNotFound) {
		return nil, err
	}

	sub = NewSubscription(tenantID, mode, s.now())
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubscription returns the tenant's record.
func (s *Service) GetSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	return s.subs.Get(ctx, tenantID)
}

// CanCreatePet gates pet-profile creation against the effective limit.
// A counter failure fails closed: no new pets while we cannot count.
func (s *Service) CanCreatePet(ctx context.Context, tenantID uuid.UUID) error {
	sub, err := s.subs.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if !sub.CanUseAt(s.now()) {
		return ErrInvalidState
	}

	plan, err := s.catalog.Get(sub.PlanID)
	if err != nil {
		return err
	}

	limit := EffectiveLimit(plan, sub.AddOnSlots)
	if limit == nil {
		return nil
	}

	if s.petCount == nil {
		return errors.Join(ErrValidation, errors.New("billing: no pet counter registered"))
	}
	count, err := s.petCount(ctx, tenantID)
	if err != nil {
		// Fail closed: no new pets while the count is unknown.
		return errors.Join(ErrUsageUnavailable, err)
	}
	if AtCapacity(limit, count) {
		return ErrPetLimitReached
	}
	return nil
}

// CanConsumeCredit gates portrait generation against the monthly allotment.
// This is the enforcement path: if the event log is unreadable the check
// fails closed and denies new usage.
func (s *Service) CanConsumeCredit(ctx context.Context, tenantID uuid.UUID) error {
	sub, err := s.subs.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	now := s.now()
	if !sub.CanUseAt(now) {
		return ErrInvalidState
	}

	plan, err := s.catalog.Get(sub.PlanID)
	if err != nil {
		return err
	}

	used, err := s.creditsUsed(ctx, sub, now)
	if err != nil {
		return err
	}
	if used >= plan.MonthlyCredits && plan.OveragePrice == nil {
		return ErrCreditsExhausted
	}
	return nil
}

// CurrentLimits is the display path. Unlike the enforcement gates it fails
// open on an unreadable event log and falls back to the cached counter, so
// a transient accounting failure never blanks a dashboard.
func (s *Service) CurrentLimits(ctx context.Context, tenantID uuid.UUID) (*LimitsInfo, error) {
	sub, err := s.subs.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	info := &LimitsInfo{
		PlanID:     sub.PlanID,
		AddOnSlots: sub.AddOnSlots,
	}
	if sub.PlanID == "" {
		return info, nil
	}

	plan, err := s.catalog.Get(sub.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	info.PlanLimit = plan.PetLimit
	info.EffectiveLimit = EffectiveLimit(plan, sub.AddOnSlots)
	info.CreditsLimit = plan.MonthlyCredits
	info.CycleStartedAt = EffectiveAnchor(sub.AnchorAt, sub.CreatedAt, now)

	used, err := s.creditsUsed(ctx, sub, now)
	if err != nil {
		s.log.WarnContext(ctx, "usage log unreadable, serving cached counter",
			"tenant_id", tenantID, "error", err)
		used = sub.CreditsUsed
	}
	info.CreditsUsed = used
	return info, nil
}

// AdminSetPlan force-sets plan and status without touching the provider.
// The sync watermark is left alone so the record stays re-reconcilable: the
// next provider snapshot merges over this on its own merits.
func (s *Service) AdminSetPlan(ctx context.Context, tenantID uuid.UUID, planID string, status Status) error {
	sub, err := s.subs.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	now := s.now()
	if planID != "" {
		plan, err := s.catalog.Get(planID)
		if err != nil {
			return err
		}
		if plan.IsFree() && plan.HasTrial() {
			end := plan.TrialEndsAt(now)
			sub.TrialEndsAt = &end
			sub.TrialUsed = true
		}
	}

	sub.PlanID = planID
	sub.Status = status
	sub.PendingPlanID = ""
	if sub.AnchorAt.IsZero() {
		sub.AnchorAt = now
	}
	sub.UpdatedAt = now

	s.log.InfoContext(ctx, "administrator override applied",
		"tenant_id", tenantID, "plan_id", planID, "status", status)
	return s.subs.UpdateBilling(ctx, sub)
}
