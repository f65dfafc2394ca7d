package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStore persists tenant subscription records. Billing-sensitive
// writes go through UpdateBilling so they are auditable separately from
// unrelated profile edits living elsewhere in the application.
type SubscriptionStore interface {
	// Get returns the record for a tenant, or ErrTenantNotFound.
	Get(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)

	// Create inserts the initial record for a freshly created tenant.
	Create(ctx context.Context, sub *Subscription) error

	// UpdateBilling writes the billing-sensitive field set: status, plan,
	// pending plan, trial fields, anchor, add-on slots, provider references
	// and sync watermark.
	UpdateBilling(ctx context.Context, sub *Subscription) error

	// UpdateUsage overwrites only the cached usage counter and anchor.
	// Callers recompute both from the event log first, so a concurrent
	// update with the same ground truth is harmless.
	UpdateUsage(ctx context.Context, tenantID uuid.UUID, creditsUsed int, anchorAt time.Time) error

	// List returns every subscription record.
	List(ctx context.Context) ([]*Subscription, error)

	// ListWithProviderSub returns records that hold an external subscription
	// reference, the population of the startup sweep.
	ListWithProviderSub(ctx context.Context) ([]*Subscription, error)
}

// UsageEventStore is the append-only credit event log. Events are never
// updated or deleted; counts over a time range are the ground truth for
// credit accounting.
type UsageEventStore interface {
	// Append records one consumed credit for a tenant.
	Append(ctx context.Context, tenantID uuid.UUID, at time.Time) error

	// CountInRange counts events with from <= created_at < to.
	CountInRange(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (int, error)
}

// Maintenance covers structural repairs a store may need after a crash or a
// manual data import. The startup sweep runs it when the store provides one.
type Maintenance interface {
	// RepairSequences realigns auto-increment sequences with the data.
	RepairSequences(ctx context.Context) error
}
