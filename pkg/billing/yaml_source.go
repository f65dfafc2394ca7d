package billing

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type yamlSource struct {
	path string
}

// NewYAMLSource returns a CatalogSource that reads plan definitions from a
// YAML file. The file is re-read on every Load, so the startup sweep picks
// up edits without a rebuild.
//
// Expected shape:
//
//	plans:
//	  - id: shelter
//	    name: Shelter
//	    price: {amount: 3900, currency: USD}
//	    pet_limit: 15
//	    monthly_credits: 45
//	    trial_days: 0
//	    price_ids: {live: pri_abc, test: pri_xyz}
func NewYAMLSource(path string) CatalogSource {
	return &yamlSource{path: path}
}

func (s *yamlSource) Load(ctx context.Context) (map[string]Plan, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrValidation, fmt.Errorf("read plan catalog %s: %w", s.path, err))
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrValidation, fmt.Errorf("parse plan catalog %s: %w", s.path, err))
	}
	if len(doc.Plans) == 0 {
		return nil, errors.Join(ErrValidation, fmt.Errorf("plan catalog %s defines no plans", s.path))
	}

	out := make(map[string]Plan, len(doc.Plans))
	for _, plan := range doc.Plans {
		if plan.ID == "" {
			return nil, errors.Join(ErrValidation, fmt.Errorf("plan catalog %s contains a plan without an id", s.path))
		}
		if _, dup := out[plan.ID]; dup {
			return nil, errors.Join(ErrValidation, fmt.Errorf("plan catalog %s defines plan %s twice", s.path, plan.ID))
		}
		out[plan.ID] = plan
	}
	return out, nil
}
