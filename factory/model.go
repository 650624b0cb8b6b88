/*
Package factory provides JSON to Go model-table conversion.

PURPOSE:
  Converts JSON model definitions into usage.Model values, so pricing can be
  changed without code changes. The same JSON shape is accepted from the
  admin console, the config file and the seed presets.

JSON SCHEMA:
  {
    "id": "qwen-plus",
    "name": "Qwen Plus",
    "provider": "dashscope",
    "timeout_seconds": 60,
    "pricing": {
      "mode": "tiered",
      "base": 3,
      "threshold": 1000,
      "increment": 1000,
      "increment_cost": 2
    }
  }

KEY FEATURES:
  - Fills unset pricing parameters with the defaults from points/cost.go
  - Rejects unknown pricing modes, and zero or negative parameters that are
    present (leave a parameter out to get its default)
  - Rejects duplicate ids in a model list

USAGE:
  f := NewModelFactory()
  models, err := f.ParseModels(DefaultModelsJSON())
  svc := usage.NewService(ledger, completer, history, log, models)

SEE ALSO:
  - points/cost.go: Pricing type and formula
  - usage/service.go: Consumes the model table
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wordcheck/points-engine/points"
	"github.com/wordcheck/points-engine/usage"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ModelJSON is the JSON representation of a model.
type ModelJSON struct {
	ID             string       `json:"id" mapstructure:"id"`
	Name           string       `json:"name" mapstructure:"name"`
	Provider       string       `json:"provider" mapstructure:"provider"`
	TimeoutSeconds int          `json:"timeout_seconds,omitempty" mapstructure:"timeout_seconds"`
	Pricing        *PricingJSON `json:"pricing,omitempty" mapstructure:"pricing"`
}

// PricingJSON represents a model's cost configuration. A nil parameter
// takes its default; a present one must be positive.
type PricingJSON struct {
	Mode          string `json:"mode,omitempty" mapstructure:"mode"` // flat, tiered
	Base          *int64 `json:"base,omitempty" mapstructure:"base"`
	Threshold     *int   `json:"threshold,omitempty" mapstructure:"threshold"`
	Increment     *int   `json:"increment,omitempty" mapstructure:"increment"`
	IncrementCost *int64 `json:"increment_cost,omitempty" mapstructure:"increment_cost"`
}

// ErrDuplicateModel is returned when a model list repeats an id.
var ErrDuplicateModel = errors.New("duplicate model id")

// =============================================================================
// MODEL FACTORY
// =============================================================================

// ModelFactory converts JSON models to usage.Model.
type ModelFactory struct{}

// NewModelFactory creates a new model factory.
func NewModelFactory() *ModelFactory {
	return &ModelFactory{}
}

// ParseModel parses one JSON model.
func (f *ModelFactory) ParseModel(jsonStr string) (usage.Model, error) {
	var mj ModelJSON
	if err := json.Unmarshal([]byte(jsonStr), &mj); err != nil {
		return usage.Model{}, fmt.Errorf("failed to parse model JSON: %w", err)
	}
	return f.FromJSON(mj)
}

// ParseModels parses a JSON array of models.
func (f *ModelFactory) ParseModels(jsonStr string) ([]usage.Model, error) {
	var list []ModelJSON
	if err := json.Unmarshal([]byte(jsonStr), &list); err != nil {
		return nil, fmt.Errorf("failed to parse models JSON: %w", err)
	}
	return f.FromJSONList(list)
}

// FromJSONList converts a list, rejecting duplicate ids.
func (f *ModelFactory) FromJSONList(list []ModelJSON) ([]usage.Model, error) {
	seen := make(map[string]bool, len(list))
	models := make([]usage.Model, 0, len(list))
	for _, mj := range list {
		m, err := f.FromJSON(mj)
		if err != nil {
			return nil, err
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModel, m.ID)
		}
		seen[m.ID] = true
		models = append(models, m)
	}
	return models, nil
}

// FromJSON converts ModelJSON to usage.Model.
func (f *ModelFactory) FromJSON(mj ModelJSON) (usage.Model, error) {
	if mj.ID == "" {
		return usage.Model{}, fmt.Errorf("model id is required")
	}
	if mj.TimeoutSeconds < 0 {
		return usage.Model{}, fmt.Errorf("model %s: timeout must not be negative", mj.ID)
	}

	pricing, err := parsePricing(mj.Pricing)
	if err != nil {
		return usage.Model{}, fmt.Errorf("model %s: %w", mj.ID, err)
	}

	m := usage.Model{
		ID:       mj.ID,
		Name:     mj.Name,
		Provider: mj.Provider,
		Timeout:  time.Duration(mj.TimeoutSeconds) * time.Second,
		Pricing:  pricing,
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if m.Timeout == 0 {
		m.Timeout = usage.DefaultTimeout
	}
	return m, nil
}

// ToJSON converts a usage.Model back to its JSON form.
func (f *ModelFactory) ToJSON(m usage.Model) ModelJSON {
	return ModelJSON{
		ID:             m.ID,
		Name:           m.Name,
		Provider:       m.Provider,
		TimeoutSeconds: int(m.Timeout / time.Second),
		Pricing: &PricingJSON{
			Mode:          string(m.Pricing.Mode),
			Base:          setOrNil(m.Pricing.Base),
			Threshold:     setOrNil(m.Pricing.Threshold),
			Increment:     setOrNil(m.Pricing.Increment),
			IncrementCost: setOrNil(m.Pricing.IncrementCost),
		},
	}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parsePricing(pj *PricingJSON) (points.Pricing, error) {
	if pj == nil {
		return points.Pricing{}.Normalize(), nil
	}
	p := points.Pricing{Mode: points.PricingMode(pj.Mode)}
	var err error
	if p.Base, err = positive("base", pj.Base); err != nil {
		return points.Pricing{}, err
	}
	if p.Threshold, err = positive("threshold", pj.Threshold); err != nil {
		return points.Pricing{}, err
	}
	if p.Increment, err = positive("increment", pj.Increment); err != nil {
		return points.Pricing{}, err
	}
	if p.IncrementCost, err = positive("increment_cost", pj.IncrementCost); err != nil {
		return points.Pricing{}, err
	}
	if err := p.Validate(); err != nil {
		return points.Pricing{}, err
	}
	return p.Normalize(), nil
}

// positive returns 0 (use the default) for an absent parameter and rejects a
// present one that is not positive.
func positive[T int | int64](name string, v *T) (T, error) {
	if v == nil {
		return 0, nil
	}
	if *v <= 0 {
		return 0, fmt.Errorf("pricing %s must be positive, got %d", name, *v)
	}
	return *v, nil
}

func setOrNil[T int | int64](v T) *T {
	if v == 0 {
		return nil
	}
	return &v
}

// =============================================================================
// PRESET MODELS
// =============================================================================

// DefaultModelsJSON returns the seed model table: a flat-priced quick check
// and a tiered model for long documents.
func DefaultModelsJSON() string {
	return `[
  {
    "id": "quick-check",
    "name": "Quick Check",
    "provider": "openai",
    "timeout_seconds": 30,
    "pricing": {"mode": "flat", "base": 3}
  },
  {
    "id": "deep-check",
    "name": "Deep Check",
    "provider": "openai",
    "timeout_seconds": 60,
    "pricing": {"mode": "tiered", "base": 3, "threshold": 1000, "increment": 1000, "increment_cost": 2}
  }
]`
}
