package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrait-app/pawtrait/pkg/billing"
)

func date(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestEffectiveAnchor(t *testing.T) {
	created := date(2024, time.November, 5, 9)

	tests := []struct {
		name    string
		anchor  time.Time
		created time.Time // zero = shared fixture
		now     time.Time
		want    time.Time
	}{
		{
			name:   "zero anchor falls back to creation time",
			anchor: time.Time{},
			now:    date(2025, time.June, 10, 12),
			want:   created,
		},
		{
			name:   "anchor in current month used as-is",
			anchor: date(2025, time.June, 3, 8),
			now:    date(2025, time.June, 10, 12),
			want:   date(2025, time.June, 3, 8),
		},
		{
			name:   "older anchor rolls forward to same day this month",
			anchor: date(2025, time.January, 10, 8),
			now:    date(2025, time.June, 15, 12),
			want:   date(2025, time.June, 10, 8),
		},
		{
			name:   "rolled day in the future belongs to previous month",
			anchor: date(2025, time.January, 20, 8),
			now:    date(2025, time.June, 15, 12),
			want:   date(2025, time.May, 20, 8),
		},
		{
			name:   "day 31 on march 15 began in february",
			anchor: date(2025, time.January, 31, 0),
			now:    date(2025, time.March, 15, 12),
			want:   date(2025, time.February, 28, 0),
		},
		{
			name:    "day 31 in leap february",
			anchor:  date(2024, time.January, 31, 0),
			created: date(2024, time.January, 2, 0),
			now:     date(2024, time.March, 15, 12),
			want:    date(2024, time.February, 29, 0),
		},
		{
			name:   "day 31 clamps to day 30 in a 30-day month",
			anchor: date(2025, time.March, 31, 0),
			now:    date(2025, time.June, 30, 12),
			want:   date(2025, time.June, 30, 0),
		},
		{
			name:   "result never precedes tenant creation",
			anchor: date(2024, time.November, 1, 0),
			now:    date(2024, time.November, 20, 12),
			want:   created,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			createdAt := tt.created
			if createdAt.IsZero() {
				createdAt = created
			}
			got := billing.EffectiveAnchor(tt.anchor, createdAt, tt.now)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestRecordUsage(t *testing.T) {
	ctx := context.Background()

	t.Run("appends event and refreshes cached counter", func(t *testing.T) {
		// The counting range is half-open on now, so the clock must tick
		// between append and recount.
		current := fixedNow
		env := newTestEnv(t, billing.WithClock(func() time.Time {
			current = current.Add(time.Second)
			return current
		}))
		tenantID := env.activeSub("pro")

		require.NoError(t, env.svc.RecordUsage(ctx, tenantID))
		require.NoError(t, env.svc.RecordUsage(ctx, tenantID))

		assert.Equal(t, 2, env.store.get(tenantID).CreditsUsed)
	})

	t.Run("append failure fails the call", func(t *testing.T) {
		env := newTestEnv(t)
		tenantID := env.activeSub("pro")
		env.events.appendErr = assert.AnError

		err := env.svc.RecordUsage(ctx, tenantID)
		assert.ErrorIs(t, err, billing.ErrUsageUnavailable)
	})

	t.Run("cache refresh failure does not fail the append", func(t *testing.T) {
		env := newTestEnv(t)
		tenantID := env.activeSub("pro")
		env.events.countErr = assert.AnError

		assert.NoError(t, env.svc.RecordUsage(ctx, tenantID))
	})
}

func TestSyncUsage(t *testing.T) {
	ctx := context.Background()

	t.Run("repairs a drifted counter from the event log", func(t *testing.T) {
		env := newTestEnv(t)
		tenantID := env.activeSub("pro")

		// Cached counter claims 7, the log holds 3 in-cycle events.
		sub := env.store.get(tenantID)
		sub.CreditsUsed = 7
		env.store.put(&sub)
		for range 3 {
			require.NoError(t, env.events.Append(ctx, tenantID, fixedNow.Add(-time.Hour)))
		}

		require.NoError(t, env.svc.SyncUsage(ctx, tenantID))
		assert.Equal(t, 3, env.store.get(tenantID).CreditsUsed)
	})

	t.Run("cycle rollover resets counter and advances anchor", func(t *testing.T) {
		env := newTestEnv(t)
		tenantID := env.activeSub("pro")

		// Anchor from two months ago; all consumption happened back then.
		sub := env.store.get(tenantID)
		sub.AnchorAt = fixedNow.AddDate(0, -2, 0)
		sub.CreditsUsed = 42
		env.store.put(&sub)
		require.NoError(t, env.events.Append(ctx, tenantID, fixedNow.AddDate(0, -2, 1)))

		require.NoError(t, env.svc.SyncUsage(ctx, tenantID))

		got := env.store.get(tenantID)
		assert.Equal(t, 0, got.CreditsUsed, "old-cycle events must not count")
		// The day-10 anchor rolled into June lands exactly on the pinned now.
		assert.True(t, got.AnchorAt.Equal(fixedNow), "got anchor %v", got.AnchorAt)
	})

	t.Run("no write when nothing drifted", func(t *testing.T) {
		env := newTestEnv(t)
		tenantID := uuid.New()
		env.store.put(&billing.Subscription{
			TenantID:  tenantID,
			PlanID:    "pro",
			Status:    billing.StatusActive,
			AnchorAt:  fixedNow.AddDate(0, 0, -1),
			CreatedAt: fixedNow.AddDate(0, -1, 0),
		})
		env.store.updateErr = assert.AnError // any write would fail the test

		assert.NoError(t, env.svc.SyncUsage(ctx, tenantID))
	})

	t.Run("unreadable log surfaces usage error", func(t *testing.T) {
		env := newTestEnv(t)
		tenantID := env.activeSub("pro")
		env.events.countErr = assert.AnError

		err := env.svc.SyncUsage(ctx, tenantID)
		assert.ErrorIs(t, err, billing.ErrUsageUnavailable)
	})
}
