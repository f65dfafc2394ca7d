package billing

import (
	"context"
	"maps"
	"sync"
)

type inMemSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemSource returns an in-memory CatalogSource with a copy of the given
// plans. Panics if no plans are provided so a misconfigured service fails at
// startup rather than at the first lookup.
func NewInMemSource(plans ...Plan) CatalogSource {
	if len(plans) < 1 {
		panic("billing: at least one plan is required")
	}
	copied := make(map[string]Plan, len(plans))
	for _, plan := range plans {
		copied[plan.ID] = clonePlan(plan)
	}
	return &inMemSource{plans: copied}
}

// Load returns a copy of all plans so callers cannot mutate source state.
func (s *inMemSource) Load(ctx context.Context) (map[string]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Plan, len(s.plans))
	for id, plan := range s.plans {
		out[id] = clonePlan(plan)
	}
	return out, nil
}

func clonePlan(p Plan) Plan {
	out := p
	out.PriceIDs = maps.Clone(p.PriceIDs)
	if p.PetLimit != nil {
		limit := *p.PetLimit
		out.PetLimit = &limit
	}
	if p.OveragePrice != nil {
		price := *p.OveragePrice
		out.OveragePrice = &price
	}
	return out
}
