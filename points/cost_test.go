package points_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wordcheck/points-engine/points"
)

func TestCost_TieredDefaults(t *testing.T) {
	tiered := points.Pricing{Mode: points.PricingTiered}

	tests := []struct {
		length int
		want   int64
	}{
		{0, 3},
		{1, 3},
		{1000, 3},
		{1001, 5},
		{2000, 5},
		{2001, 7},
		{3000, 7},
		{10_500, 3 + 10*2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, points.Cost(tt.length, tiered), "length=%d", tt.length)
	}
}

func TestCost_Flat(t *testing.T) {
	// GIVEN: Flat pricing with base 8
	p := points.Pricing{Mode: points.PricingFlat, Base: 8}

	// THEN: Length never matters
	assert.Equal(t, int64(8), points.Cost(0, p))
	assert.Equal(t, int64(8), points.Cost(50_000, p))

	// AND: An empty config is flat at the default base
	assert.Equal(t, int64(3), points.Cost(5000, points.Pricing{}))
}

func TestCost_CustomTiers(t *testing.T) {
	p := points.Pricing{Mode: points.PricingTiered, Base: 10, Threshold: 500, Increment: 250, IncrementCost: 4}

	assert.Equal(t, int64(10), points.Cost(500, p))
	assert.Equal(t, int64(14), points.Cost(501, p))
	assert.Equal(t, int64(14), points.Cost(750, p))
	assert.Equal(t, int64(18), points.Cost(751, p))
}

func TestPricing_Validate(t *testing.T) {
	assert.NoError(t, points.Pricing{}.Validate())
	assert.NoError(t, points.Pricing{Mode: points.PricingTiered, Threshold: 10}.Validate())
	assert.Error(t, points.Pricing{Mode: "per-token"}.Validate())
	assert.Error(t, points.Pricing{Mode: points.PricingFlat, Base: -1}.Validate())
}

func TestPricing_Normalize(t *testing.T) {
	p := points.Pricing{Mode: points.PricingTiered}.Normalize()

	assert.Equal(t, points.DefaultBaseCost, p.Base)
	assert.Equal(t, points.DefaultThreshold, p.Threshold)
	assert.Equal(t, points.DefaultIncrement, p.Increment)
	assert.Equal(t, points.DefaultIncrementCost, p.IncrementCost)
}
