package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BillingProvider abstracts the external billing system. Every call is
// mode-scoped: the same engine serves tenants billed against the provider's
// live and test environments.
//
// Implementations must classify failures: transient faults (timeouts, 5xx)
// surface as ErrProviderUnavailable and never justify local mutation;
// permanent rejections (4xx, missing entities) surface as
// ErrProviderRejected and trigger stale-reference cleanup in the engine.
type BillingProvider interface {
	// CreateCustomer registers the tenant with the provider and returns the
	// provider's customer ID.
	CreateCustomer(ctx context.Context, mode Mode, tenantID uuid.UUID, email string) (string, error)

	// RetrieveCustomer confirms a stored customer reference still exists.
	RetrieveCustomer(ctx context.Context, mode Mode, customerID string) (*CustomerRecord, error)

	// CreateCheckoutSession opens a hosted payment-collection session for the
	// given price. The resulting subscription is picked up via webhook.
	CreateCheckoutSession(ctx context.Context, mode Mode, req CheckoutRequest) (*CheckoutSession, error)

	// RetrieveCheckoutSession fetches the current state of a session.
	RetrieveCheckoutSession(ctx context.Context, mode Mode, sessionID string) (*CheckoutSession, error)

	// RetrieveSubscription fetches a normalized snapshot of the provider's
	// view of a subscription, the input to the reconciliation merge.
	RetrieveSubscription(ctx context.Context, mode Mode, subID string) (*SubscriptionSnapshot, error)

	// UpdateItemQuantity sets the quantity of the add-on item on a live
	// subscription. Not idempotent at the provider level; callers serialize
	// per tenant.
	UpdateItemQuantity(ctx context.Context, mode Mode, subID, priceID string, quantity int) error

	// ScheduleItemPriceChange instructs the provider to move the
	// subscription to a new price at the next billing-cycle boundary without
	// proration, returning the effective date.
	ScheduleItemPriceChange(ctx context.Context, mode Mode, subID, priceID string) (time.Time, error)

	// ListPrices pulls the provider's current price records for catalog sync.
	ListPrices(ctx context.Context, mode Mode) ([]PriceRecord, error)

	// ParseWebhook verifies the signature and normalizes the payload.
	// mode may be ModeUnknown when the event's environment cannot be
	// determined up front; implementations then try each mode's secret.
	ParseWebhook(payload []byte, signature string, mode Mode) (*ProviderEvent, error)
}

// ModeUnknown is passed to ParseWebhook when the event's environment is not
// yet known. Verification then falls back to trying each configured secret,
// a deliberate compatibility shim for providers that do not label events.
const ModeUnknown Mode = ""

// CustomerRecord is the provider's view of a customer.
type CustomerRecord struct {
	CustomerID string
	Email      string
	Deleted    bool
}

// CheckoutRequest carries what the provider needs to open a checkout.
type CheckoutRequest struct {
	PriceID    string
	CustomerID string    // provider customer ID, created beforehand
	TenantID   uuid.UUID // threaded through custom data for webhook routing
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a hosted payment-collection session.
type CheckoutSession struct {
	SessionID      string
	URL            string
	Completed      bool
	SubscriptionID string // set once the provider created the subscription
	ExpiresAt      time.Time
}

// SubscriptionSnapshot is the normalized external state fed into the
// reconciliation merge. OccurredAt is the provider-side version: a snapshot
// older than the locally recorded watermark is discarded instead of
// overwriting newer state.
type SubscriptionSnapshot struct {
	SubscriptionID   string
	CustomerID       string
	Status           string // provider status string, mapped in reconcile
	PriceID          string // current price, matched against the catalog
	AddOnQuantity    int    // quantity on the add-on item, 0 when absent
	PeriodStart      *time.Time
	ScheduledPriceID string // pending scheduled price change, if any
	OccurredAt       time.Time
	Mode             Mode
}

// ProviderEvent is a verified, normalized inbound webhook event.
type ProviderEvent struct {
	EventID        string
	EventType      string // provider's original event name
	TenantID       uuid.UUID
	SubscriptionID string
	Snapshot       *SubscriptionSnapshot // nil for events without subscription data
	OccurredAt     time.Time
	Mode           Mode
}
