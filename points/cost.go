package points

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COST - Points charged for a piece of content
// =============================================================================

// PricingMode selects how content length affects cost.
type PricingMode string

const (
	PricingFlat   PricingMode = "flat"
	PricingTiered PricingMode = "tiered"
)

// Default tiered parameters.
const (
	DefaultBaseCost      int64 = 3
	DefaultThreshold           = 1000
	DefaultIncrement           = 1000
	DefaultIncrementCost int64 = 2
)

// Pricing is a model's cost configuration. Zero fields take the defaults;
// configuration input (factory) rejects an explicit zero before it gets here.
type Pricing struct {
	Mode          PricingMode `json:"mode" mapstructure:"mode"`
	Base          int64       `json:"base" mapstructure:"base"`
	Threshold     int         `json:"threshold" mapstructure:"threshold"`
	Increment     int         `json:"increment" mapstructure:"increment"`
	IncrementCost int64       `json:"incrementCost" mapstructure:"increment_cost"`
}

// Normalize fills unset parameters with defaults. An empty mode means flat.
func (p Pricing) Normalize() Pricing {
	if p.Mode == "" {
		p.Mode = PricingFlat
	}
	if p.Base <= 0 {
		p.Base = DefaultBaseCost
	}
	if p.Mode == PricingTiered {
		if p.Threshold <= 0 {
			p.Threshold = DefaultThreshold
		}
		if p.Increment <= 0 {
			p.Increment = DefaultIncrement
		}
		if p.IncrementCost <= 0 {
			p.IncrementCost = DefaultIncrementCost
		}
	}
	return p
}

// Validate rejects unknown modes and negative parameters.
func (p Pricing) Validate() error {
	switch p.Mode {
	case "", PricingFlat, PricingTiered:
	default:
		return fmt.Errorf("unknown pricing mode %q", p.Mode)
	}
	if p.Base < 0 || p.Threshold < 0 || p.Increment < 0 || p.IncrementCost < 0 {
		return fmt.Errorf("pricing parameters must not be negative")
	}
	return nil
}

// Cost returns the points charged for content of the given length.
//
//	flat:   base
//	tiered: base                                                if length <= threshold
//	        base + ceil((length-threshold)/increment)*incCost  otherwise
func Cost(contentLength int, p Pricing) int64 {
	p = p.Normalize()
	if p.Mode != PricingTiered || contentLength <= p.Threshold {
		return p.Base
	}
	over := decimal.NewFromInt(int64(contentLength - p.Threshold))
	steps := over.Div(decimal.NewFromInt(int64(p.Increment))).Ceil()
	return p.Base + steps.IntPart()*p.IncrementCost
}
