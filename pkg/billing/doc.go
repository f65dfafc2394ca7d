// Package billing implements Pawtrait's subscription and usage
// reconciliation engine: the component that keeps each rescue
// organization's plan, trial window, add-on capacity and monthly usage
// counters consistent between local state and the external billing
// provider.
//
// Two independently mutable sources of truth, the local subscription
// record and the provider's ledger, are kept convergent despite
// asynchronous webhook delivery, out-of-order events, crash-restart gaps
// and administrator overrides. The design goal is simple to state: never
// grant a tenant pet slots or generation credits they have not paid for,
// and never revoke access because of a transient reconciliation failure.
//
// # Architecture
//
//   - Catalog: purchasable tiers, loaded from a CatalogSource (in-memory or
//     YAML) and refreshed from the provider's price records at startup.
//   - Subscription: the authoritative local snapshot per tenant.
//   - Usage accounting: exact credit counts over the append-only event log,
//     anchored to a rolling billing-cycle start; the counter on the record
//     is only a cache.
//   - Capacity resolver: effective pet limit from plan base plus add-ons.
//   - Plan change orchestration: immediate upgrades through checkout,
//     deferred downgrades at the next cycle boundary without proration.
//   - Reconciliation: one idempotent merge fed by three triggers: inbound
//     webhooks, the startup sweep, and on-demand validation before any
//     action that trusts a stored provider reference.
//
// All three triggers may run concurrently for the same tenant. Correctness
// comes from conditional, watermark-guarded merges rather than locks; only
// provider-mutating operations (add-on and plan changes) are serialized per
// tenant through a TenantLocker.
//
// # Quick start
//
//	catalog, err := billing.NewCatalog(ctx, billing.NewYAMLSource("plans.yaml"), nil)
//	if err != nil { ... }
//
//	provider, err := billing.NewPaddleProvider(paddleCfg)
//	if err != nil { ... }
//
//	svc := billing.NewService(catalog, subStore, eventStore, provider,
//		billing.WithPetCounter(countActivePets),
//		billing.WithAddOnPriceIDs(map[billing.Mode]string{
//			billing.ModeLive: "pri_live_addon",
//			billing.ModeTest: "pri_test_addon",
//		}),
//	)
//
//	report, err := svc.ReconcileOnStartup(ctx)
//
// Resource gates sit in front of the CRUD layer:
//
//	if err := svc.CanCreatePet(ctx, tenantID); errors.Is(err, billing.ErrPetLimitReached) {
//		// surface "remove a pet or buy an add-on slot"
//	}
//	if err := svc.CanConsumeCredit(ctx, tenantID); err == nil {
//		_ = svc.RecordUsage(ctx, tenantID)
//	}
package billing
