package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EffectiveAnchor computes the start of the tenant's current accounting
// period from the stored billing-cycle anchor.
//
// If the stored anchor is already in now's month it is used as-is.
// Otherwise it is rolled forward to the same day-of-month in the current
// month, clamped to the month's last day when the anchor day does not exist
// (a 31st anchor rolling into a 30-day month lands on the 30th). A rolled
// anchor that would sit in the future relative to now belongs to the
// previous month instead: on March 15 a day-31 anchor means the cycle began
// February 28 (or 29). The result is never before the tenant's creation.
func EffectiveAnchor(anchor, createdAt, now time.Time) time.Time {
	if anchor.IsZero() {
		return createdAt
	}

	eff := anchor
	if anchor.Year() != now.Year() || anchor.Month() != now.Month() {
		eff = anchorInMonth(now.Year(), now.Month(), anchor)
		if eff.After(now) {
			prev := now.AddDate(0, 0, -now.Day()) // last day of previous month
			eff = anchorInMonth(prev.Year(), prev.Month(), anchor)
		}
	}

	if eff.After(now) {
		eff = now
	}
	if eff.Before(createdAt) {
		eff = createdAt
	}
	return eff
}

// anchorInMonth places the anchor's day and wall-clock time into the given
// month, clamping the day so time.Date cannot normalize into the next month.
func anchorInMonth(year int, month time.Month, anchor time.Time) time.Time {
	day := anchor.Day()
	if last := lastDayOfMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day,
		anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), time.UTC)
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// creditsUsed counts usage events in the current accounting period straight
// from the event log. This is the enforcement path: a log read failure is
// returned so callers deny new usage rather than trust a stale cache.
func (s *Service) creditsUsed(ctx context.Context, sub *Subscription, now time.Time) (int, error) {
	from := EffectiveAnchor(sub.AnchorAt, sub.CreatedAt, now)
	used, err := s.events.CountInRange(ctx, sub.TenantID, from, now)
	if err != nil {
		return 0, errors.Join(ErrUsageUnavailable, err)
	}
	return used, nil
}

// RecordUsage appends one usage event and refreshes the cached counter
// best-effort. The append never waits on reconciliation; the two touch
// disjoint data and only meet at read time in SyncUsage.
func (s *Service) RecordUsage(ctx context.Context, tenantID uuid.UUID) error {
	now := s.now()
	if err := s.events.Append(ctx, tenantID, now); err != nil {
		return errors.Join(ErrUsageUnavailable, err)
	}

	// Cache refresh failures are logged, not surfaced: the event log already
	// holds the ground truth and the next sync repairs the counter.
	if err := s.SyncUsage(ctx, tenantID); err != nil {
		s.log.WarnContext(ctx, "usage cache refresh failed after append",
			"tenant_id", tenantID, "error", err)
	}
	return nil
}

// SyncUsage recomputes the cached counter and effective anchor from the
// event log and overwrites both if either drifted. Idempotent and safe to
// run concurrently with event creation: an in-flight append is simply
// undercounted until the next sync.
func (s *Service) SyncUsage(ctx context.Context, tenantID uuid.UUID) error {
	sub, err := s.subs.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	now := s.now()
	anchor := EffectiveAnchor(sub.AnchorAt, sub.CreatedAt, now)
	used, err := s.events.CountInRange(ctx, tenantID, anchor, now)
	if err != nil {
		return errors.Join(ErrUsageUnavailable, err)
	}

	if used == sub.CreditsUsed && anchor.Equal(sub.AnchorAt) {
		return nil
	}
	return s.subs.UpdateUsage(ctx, tenantID, used, anchor)
}
