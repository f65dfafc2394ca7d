package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pawtrait-app/pawtrait/pkg/cache"
)

// defaultPriceCacheTTL bounds how long a price-ID→plan mapping is trusted
// before the next lookup consults the full index again.
const defaultPriceCacheTTL = 10 * time.Minute

// Catalog holds the loaded plan definitions and answers lookups by plan ID
// and by provider price ID. The price-ID index is fronted by an injected TTL
// cache rather than a package-level map so reconciliation-heavy paths stay
// cheap without hiding state in globals.
type Catalog struct {
	mu     sync.RWMutex
	plans  map[string]Plan
	prices *cache.TTLCache[string, string] // "<mode>/<priceID>" -> planID
}

// NewCatalog loads plans from src and validates them. A nil priceCache gets
// a default-sized one.
func NewCatalog(ctx context.Context, src CatalogSource, priceCache *cache.TTLCache[string, string]) (*Catalog, error) {
	if src == nil {
		panic("billing: CatalogSource is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrPlanNotFound, err)
	}
	if err := validatePlans(plans); err != nil {
		return nil, err
	}

	if priceCache == nil {
		priceCache = cache.NewTTL[string, string](cache.DefaultCapacity, defaultPriceCacheTTL)
	}

	return &Catalog{plans: plans, prices: priceCache}, nil
}

// Get returns the plan with the given ID.
func (c *Catalog) Get(planID string) (Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	plan, ok := c.plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return plan, nil
}

// List returns all plans. The slice is freshly allocated on every call.
func (c *Catalog) List() []Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	return out
}

// ByPriceID resolves a provider price identifier to a plan for the given
// mode. Unrecognized price IDs return ok=false; reconciliation leaves the
// local plan unchanged in that case instead of guessing.
func (c *Catalog) ByPriceID(mode Mode, priceID string) (Plan, bool) {
	if priceID == "" {
		return Plan{}, false
	}

	key := string(mode) + "/" + priceID
	if planID, ok := c.prices.Get(key); ok {
		return c.lookup(planID)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, plan := range c.plans {
		if plan.PriceID(mode) == priceID {
			c.prices.Set(key, id)
			return plan, true
		}
	}
	return Plan{}, false
}

// TrialPlan returns the zero-cost plan that opens a trial window, if the
// catalog defines one.
func (c *Catalog) TrialPlan() (Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, plan := range c.plans {
		if plan.IsFree() && plan.HasTrial() {
			return plan, true
		}
	}
	return Plan{}, false
}

// PriceRecord is one price pulled from the provider's product catalog during
// the startup sweep.
type PriceRecord struct {
	PriceID     string
	ProductName string
	Amount      int64
	Currency    string
}

// ApplyProviderPrices refreshes plan name and price from the provider's
// records, matched by price ID for the given mode. Plans without a matching
// record are left untouched; records without a matching plan are ignored.
// The price cache is purged afterwards since mappings may have changed.
func (c *Catalog) ApplyProviderPrices(mode Mode, records []PriceRecord) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated := 0
	for _, rec := range records {
		for id, plan := range c.plans {
			if plan.PriceID(mode) != rec.PriceID {
				continue
			}
			if rec.ProductName != "" {
				plan.Name = rec.ProductName
			}
			plan.Price = Money{Amount: rec.Amount, Currency: rec.Currency}
			c.plans[id] = plan
			updated++
		}
	}

	if updated > 0 {
		c.prices.Purge()
	}
	return updated
}

func (c *Catalog) lookup(planID string) (Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	plan, ok := c.plans[planID]
	return plan, ok
}

// validatePlans ensures plan configurations are internally consistent before
// the catalog is served from.
func validatePlans(plans map[string]Plan) error {
	for planID, plan := range plans {
		if plan.ID != planID {
			return errors.Join(ErrValidation,
				fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", planID, plan.ID))
		}
		if plan.TrialDays < 0 {
			return errors.Join(ErrValidation,
				fmt.Errorf("plan %s has negative trial days: %d", planID, plan.TrialDays))
		}
		if plan.PetLimit != nil && *plan.PetLimit < 0 {
			return errors.Join(ErrValidation,
				fmt.Errorf("plan %s has negative pet limit: %d", planID, *plan.PetLimit))
		}
		if plan.MonthlyCredits < 0 {
			return errors.Join(ErrValidation,
				fmt.Errorf("plan %s has negative monthly credits: %d", planID, plan.MonthlyCredits))
		}
	}
	return nil
}
