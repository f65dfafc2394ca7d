package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pawtrait-app/pawtrait/pkg/billing"
)

// Store implements billing.SubscriptionStore, billing.UsageEventStore and
// billing.Maintenance on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by the given pool.
func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("postgres: pool is required")
	}
	return &Store{pool: pool}
}

const subscriptionColumns = `tenant_id, plan_id, pending_plan_id, status, trial_ends_at, trial_used,
	anchor_at, addon_slots, credits_used, provider_customer_id, provider_sub_id,
	provider_synced_at, mode, created_at, updated_at`

func scanSubscription(row pgx.Row) (*billing.Subscription, error) {
	var sub billing.Subscription
	err := row.Scan(
		&sub.TenantID, &sub.PlanID, &sub.PendingPlanID, &sub.Status, &sub.TrialEndsAt, &sub.TrialUsed,
		&sub.AnchorAt, &sub.AddOnSlots, &sub.CreditsUsed, &sub.ProviderCustomerID, &sub.ProviderSubID,
		&sub.ProviderSyncedAt, &sub.Mode, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrTenantNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Store) Get(ctx context.Context, tenantID uuid.UUID) (*billing.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM tenant_subscriptions WHERE tenant_id = $1`, tenantID)
	return scanSubscription(row)
}

func (s *Store) Create(ctx context.Context, sub *billing.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sub.TenantID, sub.PlanID, sub.PendingPlanID, sub.Status, sub.TrialEndsAt, sub.TrialUsed,
		sub.AnchorAt, sub.AddOnSlots, sub.CreditsUsed, sub.ProviderCustomerID, sub.ProviderSubID,
		sub.ProviderSyncedAt, sub.Mode, sub.CreatedAt, sub.UpdatedAt,
	)
	return err
}

// UpdateBilling writes only the billing-sensitive field set, so these writes
// stay auditable separately from unrelated edits to the tenant row.
func (s *Store) UpdateBilling(ctx context.Context, sub *billing.Subscription) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenant_subscriptions SET
			plan_id = $2, pending_plan_id = $3, status = $4, trial_ends_at = $5,
			trial_used = $6, anchor_at = $7, addon_slots = $8,
			provider_customer_id = $9, provider_sub_id = $10, provider_synced_at = $11,
			updated_at = $12
		WHERE tenant_id = $1`,
		sub.TenantID, sub.PlanID, sub.PendingPlanID, sub.Status, sub.TrialEndsAt,
		sub.TrialUsed, sub.AnchorAt, sub.AddOnSlots,
		sub.ProviderCustomerID, sub.ProviderSubID, sub.ProviderSyncedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrTenantNotFound
	}
	return nil
}

func (s *Store) UpdateUsage(ctx context.Context, tenantID uuid.UUID, creditsUsed int, anchorAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenant_subscriptions
		SET credits_used = $2, anchor_at = $3, updated_at = now()
		WHERE tenant_id = $1`,
		tenantID, creditsUsed, anchorAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrTenantNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]*billing.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM tenant_subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func (s *Store) ListWithProviderSub(ctx context.Context) ([]*billing.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM tenant_subscriptions
		 WHERE provider_sub_id <> '' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows pgx.Rows) ([]*billing.Subscription, error) {
	defer rows.Close()

	var out []*billing.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) Append(ctx context.Context, tenantID uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_events (tenant_id, created_at) VALUES ($1, $2)`, tenantID, at)
	return err
}

func (s *Store) CountInRange(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM usage_events
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3`,
		tenantID, from, to,
	).Scan(&count)
	return count, err
}

// RepairSequences realigns the usage-event sequence with the data, needed
// after manual imports or restores that bypass the sequence.
func (s *Store) RepairSequences(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		SELECT setval(pg_get_serial_sequence('usage_events', 'id'),
			COALESCE((SELECT MAX(id) FROM usage_events), 0) + 1, false)`)
	return err
}
