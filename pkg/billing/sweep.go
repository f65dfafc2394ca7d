package billing

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SweepOutcome classifies one tenant's result in the startup sweep.
type SweepOutcome string

const (
	SweepOK      SweepOutcome = "ok"
	SweepSkipped SweepOutcome = "skipped"
	SweepFailed  SweepOutcome = "failed"
)

// TenantSweepResult is the per-tenant outcome of the startup sweep. Results
// are collected instead of swallowed so operators can observe partial
// failure.
type TenantSweepResult struct {
	TenantID uuid.UUID
	Outcome  SweepOutcome
	Err      error
}

// SweepReport summarizes one full startup pass.
type SweepReport struct {
	CatalogPricesUpdated int
	SequencesRepaired    bool
	Results              []TenantSweepResult
	UsageSynced          int
	UsageSyncFailed      int
}

// ReconcileOnStartup repairs state that drifted while the process was down
// or a webhook was lost. It re-fetches every tenant with an external
// subscription reference and merges the provider's view, refreshes the plan
// catalog from the provider's price records, runs store sequence repair, and
// recomputes every tenant's cached usage counter.
//
// One tenant's failure never aborts the sweep for the others; each result is
// isolated, logged, and returned.
func (s *Service) ReconcileOnStartup(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}

	s.syncCatalog(ctx, report)

	if s.maintenance != nil {
		if err := s.maintenance.RepairSequences(ctx); err != nil {
			s.log.ErrorContext(ctx, "sequence repair failed", "error", err)
		} else {
			report.SequencesRepaired = true
		}
	}

	subs, err := s.subs.ListWithProviderSub(ctx)
	if err != nil {
		return report, err
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.sweepWorkers)
	)
	// On cancellation, stop launching workers but wait for in-flight ones
	// before handing the report to the caller.
	var ctxErr error
	for _, sub := range subs {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(sub *Subscription) {
			defer wg.Done()
			defer func() { <-sem }()

			result := s.sweepTenant(ctx, sub)
			mu.Lock()
			report.Results = append(report.Results, result)
			mu.Unlock()
		}(sub)
	}
	wg.Wait()
	if ctxErr != nil {
		return report, ctxErr
	}

	s.syncAllUsage(ctx, report)
	return report, nil
}

// sweepTenant reconciles one tenant against the provider. Fetch, merge and
// stale-reference cleanup share the on-demand validation path so all three
// triggers behave identically.
func (s *Service) sweepTenant(ctx context.Context, sub *Subscription) TenantSweepResult {
	if !sub.HasProviderSub() {
		return TenantSweepResult{TenantID: sub.TenantID, Outcome: SweepSkipped}
	}

	if err := s.validateProviderRefs(ctx, sub); err != nil {
		s.log.WarnContext(ctx, "startup reconcile failed for tenant",
			"tenant_id", sub.TenantID, "error", err)
		return TenantSweepResult{TenantID: sub.TenantID, Outcome: SweepFailed, Err: err}
	}

	return TenantSweepResult{TenantID: sub.TenantID, Outcome: SweepOK}
}

// syncCatalog refreshes plan name and price from the provider's product
// records for both modes. Provider unavailability here is logged and the
// locally loaded catalog keeps serving.
func (s *Service) syncCatalog(ctx context.Context, report *SweepReport) {
	for _, mode := range []Mode{ModeLive, ModeTest} {
		prices, err := s.provider.ListPrices(ctx, mode)
		if err != nil {
			s.log.WarnContext(ctx, "catalog sync skipped",
				"mode", mode, "error", err)
			continue
		}
		report.CatalogPricesUpdated += s.catalog.ApplyProviderPrices(mode, prices)
	}
}

// syncAllUsage recomputes the cached usage counter for every tenant.
func (s *Service) syncAllUsage(ctx context.Context, report *SweepReport) {
	subs, err := s.subs.List(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "usage recompute pass failed to list tenants", "error", err)
		return
	}

	for _, sub := range subs {
		if err := s.SyncUsage(ctx, sub.TenantID); err != nil {
			report.UsageSyncFailed++
			s.log.WarnContext(ctx, "usage recompute failed for tenant",
				"tenant_id", sub.TenantID, "error", err)
			continue
		}
		report.UsageSynced++
	}
}
