package billing_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pawtrait-app/pawtrait/pkg/billing"
)

func TestReconcileOnStartup(t *testing.T) {
	ctx := context.Background()

	t.Run("one failing tenant does not abort the sweep", func(t *testing.T) {
		maintenance := &mockMaintenance{}
		maintenance.On("RepairSequences", mock.Anything).Return(nil)

		env := newTestEnv(t,
			billing.WithMaintenance(maintenance),
			billing.WithSweepConcurrency(2),
		)

		healthyID := env.activeSub("pro")
		brokenID := uuid.New()
		env.store.put(&billing.Subscription{
			TenantID:         brokenID,
			PlanID:           "basic",
			Status:           billing.StatusActive,
			AnchorAt:         fixedNow.AddDate(0, 0, -3),
			ProviderSubID:    "sub_broken",
			ProviderSyncedAt: fixedNow.Add(-time.Hour),
			Mode:             billing.ModeLive,
			CreatedAt:        fixedNow.AddDate(0, -1, 0),
		})

		env.provider.On("ListPrices", mock.Anything, billing.ModeLive).
			Return([]billing.PriceRecord{
				{PriceID: "pri_pro_live", ProductName: "Pro", Amount: 4200, Currency: "USD"},
			}, nil)
		env.provider.On("ListPrices", mock.Anything, billing.ModeTest).
			Return(nil, billing.ErrProviderUnavailable)

		env.provider.On("RetrieveSubscription", mock.Anything, billing.ModeLive, "sub_1").
			Return(activeSnapshot(fixedNow.Add(-time.Minute)), nil)
		env.provider.On("RetrieveCustomer", mock.Anything, billing.ModeLive, "ctm_1").
			Return(&billing.CustomerRecord{CustomerID: "ctm_1"}, nil)
		env.provider.On("RetrieveSubscription", mock.Anything, billing.ModeLive, "sub_broken").
			Return(nil, billing.ErrProviderUnavailable)

		report, err := env.svc.ReconcileOnStartup(ctx)
		require.NoError(t, err)

		assert.True(t, report.SequencesRepaired)
		assert.Equal(t, 1, report.CatalogPricesUpdated)
		require.Len(t, report.Results, 2)

		outcomes := map[uuid.UUID]billing.SweepOutcome{}
		for _, res := range report.Results {
			outcomes[res.TenantID] = res.Outcome
		}
		assert.Equal(t, billing.SweepOK, outcomes[healthyID])
		assert.Equal(t, billing.SweepFailed, outcomes[brokenID])

		// The catalog re-sync carried the provider's new price.
		pro, err := env.catalog.Get("pro")
		require.NoError(t, err)
		assert.Equal(t, int64(4200), pro.Price.Amount)

		// The transient failure left the broken tenant untouched.
		assert.Equal(t, billing.StatusActive, env.store.get(brokenID).Status)
		maintenance.AssertExpectations(t)
	})

	t.Run("recomputes cached usage for every tenant", func(t *testing.T) {
		env := newTestEnv(t)
		tenantID := env.activeSub("pro")
		sub := env.store.get(tenantID)
		sub.CreditsUsed = 99
		env.store.put(&sub)
		require.NoError(t, env.events.Append(ctx, tenantID, fixedNow.Add(-time.Hour)))

		env.provider.On("ListPrices", mock.Anything, mock.Anything).
			Return(nil, billing.ErrProviderUnavailable)
		env.provider.On("RetrieveSubscription", mock.Anything, billing.ModeLive, "sub_1").
			Return(activeSnapshot(fixedNow.Add(-time.Minute)), nil)
		env.provider.On("RetrieveCustomer", mock.Anything, billing.ModeLive, "ctm_1").
			Return(&billing.CustomerRecord{CustomerID: "ctm_1"}, nil)

		report, err := env.svc.ReconcileOnStartup(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1, report.UsageSynced)
		assert.Zero(t, report.UsageSyncFailed)
		assert.Equal(t, 1, env.store.get(tenantID).CreditsUsed)
	})

	t.Run("cancellation waits for in-flight workers", func(t *testing.T) {
		env := newTestEnv(t, billing.WithSweepConcurrency(1))
		env.activeSub("pro")
		env.activeSub("basic")
		env.activeSub("pro")

		sweepCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// The first worker cancels the sweep and then lingers; the report
		// must not be handed back while it can still append to it.
		var inFlight atomic.Int32
		env.provider.On("ListPrices", mock.Anything, mock.Anything).
			Return(nil, billing.ErrProviderUnavailable)
		env.provider.On("RetrieveSubscription", mock.Anything, billing.ModeLive, mock.Anything).
			Run(func(mock.Arguments) {
				inFlight.Add(1)
				cancel()
				time.Sleep(20 * time.Millisecond)
				inFlight.Add(-1)
			}).
			Return(nil, billing.ErrProviderUnavailable)

		report, err := env.svc.ReconcileOnStartup(sweepCtx)
		require.ErrorIs(t, err, context.Canceled)

		assert.Zero(t, inFlight.Load())
		assert.NotEmpty(t, report.Results)
		assert.Less(t, len(report.Results), 3)

		settled := len(report.Results)
		time.Sleep(40 * time.Millisecond)
		assert.Len(t, report.Results, settled)
	})

	t.Run("tenants without provider subscriptions are not swept", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.put(&billing.Subscription{
			TenantID:  uuid.New(),
			Status:    billing.StatusInactive,
			CreatedAt: fixedNow,
		})

		env.provider.On("ListPrices", mock.Anything, mock.Anything).
			Return(nil, billing.ErrProviderUnavailable)

		report, err := env.svc.ReconcileOnStartup(ctx)
		require.NoError(t, err)
		assert.Empty(t, report.Results)
		env.provider.AssertNotCalled(t, "RetrieveSubscription", mock.Anything, mock.Anything, mock.Anything)
	})
}
