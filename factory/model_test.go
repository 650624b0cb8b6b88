package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wordcheck/points-engine/points"
	"github.com/wordcheck/points-engine/usage"
)

func TestParseModel_AppliesDefaults(t *testing.T) {
	f := NewModelFactory()

	// GIVEN: A tiered model with only the mode set
	m, err := f.ParseModel(`{"id":"m1","provider":"openai","pricing":{"mode":"tiered"}}`)

	// THEN: Every unset parameter takes its default
	require.NoError(t, err)
	assert.Equal(t, "m1", m.Name)
	assert.Equal(t, usage.DefaultTimeout, m.Timeout)
	assert.Equal(t, points.Pricing{
		Mode:          points.PricingTiered,
		Base:          points.DefaultBaseCost,
		Threshold:     points.DefaultThreshold,
		Increment:     points.DefaultIncrement,
		IncrementCost: points.DefaultIncrementCost,
	}, m.Pricing)
}

func TestParseModel_NoPricingIsFlat(t *testing.T) {
	m, err := NewModelFactory().ParseModel(`{"id":"m1","timeout_seconds":5}`)

	require.NoError(t, err)
	assert.Equal(t, points.PricingFlat, m.Pricing.Mode)
	assert.Equal(t, int64(3), points.Cost(50000, m.Pricing))
	assert.Equal(t, 5*time.Second, m.Timeout)
}

func TestParseModel_Rejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"bad json", `{"id":`},
		{"missing id", `{"name":"x"}`},
		{"unknown mode", `{"id":"m","pricing":{"mode":"per_token"}}`},
		{"negative base", `{"id":"m","pricing":{"mode":"flat","base":-1}}`},
		{"explicit zero base", `{"id":"m","pricing":{"mode":"flat","base":0}}`},
		{"explicit zero increment", `{"id":"m","pricing":{"mode":"tiered","increment":0}}`},
		{"negative timeout", `{"id":"m","timeout_seconds":-3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModelFactory().ParseModel(tt.json)
			assert.Error(t, err)
		})
	}
}

func TestParseModels_DuplicateID(t *testing.T) {
	_, err := NewModelFactory().ParseModels(`[{"id":"a"},{"id":"a"}]`)
	assert.ErrorIs(t, err, ErrDuplicateModel)
}

func TestDefaultModelsJSON_Parses(t *testing.T) {
	f := NewModelFactory()

	models, err := f.ParseModels(DefaultModelsJSON())

	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, int64(3), points.Cost(2500, models[0].Pricing))
	assert.Equal(t, int64(7), points.Cost(2500, models[1].Pricing))
}

func TestToJSON_RoundTripsThroughFromJSON(t *testing.T) {
	f := NewModelFactory()
	models, err := f.ParseModels(DefaultModelsJSON())
	require.NoError(t, err)

	back, err := f.FromJSON(f.ToJSON(models[1]))

	require.NoError(t, err)
	assert.Equal(t, models[1], back)
}

func TestParseModel_ZeroBaseIsRejectedNotDefaulted(t *testing.T) {
	// GIVEN: A model whose config says it should be free
	_, err := NewModelFactory().ParseModel(`{"id":"free","pricing":{"mode":"flat","base":0}}`)

	// THEN: It is refused rather than charged the default base of 3
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pricing base must be positive")
}

func TestFromJSONList_ConfigZeroBase(t *testing.T) {
	zero := int64(0)

	_, err := NewModelFactory().FromJSONList([]ModelJSON{
		{ID: "m", Pricing: &PricingJSON{Mode: "flat", Base: &zero}},
	})

	assert.ErrorContains(t, err, "model m: pricing base must be positive")
}
