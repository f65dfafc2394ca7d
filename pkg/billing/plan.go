package billing

import (
	"context"
	"time"
)

// Plan describes a purchasable tier. Plans are immutable per version: they
// are loaded from a CatalogSource at startup and refreshed only by the
// catalog-sync step of the startup sweep, never edited in place by the
// engine.
type Plan struct {
	ID             string          `yaml:"id"`
	Name           string          `yaml:"name"`
	Description    string          `yaml:"description"`
	Price          Money           `yaml:"price"`
	PetLimit       *int            `yaml:"pet_limit"`       // nil = unlimited
	MonthlyCredits int             `yaml:"monthly_credits"` // generation credits per cycle
	OveragePrice   *Money          `yaml:"overage_price"`   // nil = overage not allowed
	TrialDays      int             `yaml:"trial_days"`      // 0 = not a trial plan
	PriceIDs       map[Mode]string `yaml:"price_ids"`       // provider price ID per mode
	Public         bool            `yaml:"public"`          // available for self-service signup
}

// CatalogSource loads plan definitions into the catalog.
type CatalogSource interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// IsFree reports whether the plan costs nothing.
func (p Plan) IsFree() bool {
	return p.Price.Amount == 0
}

// HasTrial reports whether selecting this plan starts a trial window.
func (p Plan) HasTrial() bool {
	return p.TrialDays > 0
}

// TrialEndsAt calculates when a trial started at the given instant expires.
// Returns startedAt unchanged for plans without a trial.
func (p Plan) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

// PriceID returns the provider price identifier for the given mode.
// Empty string means the plan is not purchasable in that mode (free plans).
func (p Plan) PriceID(mode Mode) string {
	if p.PriceIDs == nil {
		return ""
	}
	return p.PriceIDs[mode]
}

// Unlimited reports whether the plan has no pet limit.
func (p Plan) Unlimited() bool {
	return p.PetLimit == nil
}
