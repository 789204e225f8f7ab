package domain

import (
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
)

// GoldPegMetrics is the process-wide gold reference snapshot. It is
// replaced wholesale on each accepted price-feed update so readers never
// observe a half-written state.
type GoldPegMetrics struct {
	// Price is the current gold reference price.
	Price fixedpoint.Value

	// MovingAverage and StdDev come from the external price feed.
	MovingAverage fixedpoint.Value
	StdDev        fixedpoint.Value

	// Deviation is the signed distance of Price from MovingAverage in
	// standard-deviation units.
	Deviation fixedpoint.Value

	// MarketPressure is |Price - MovingAverage| / MovingAverage.
	MarketPressure fixedpoint.Value

	UpdatedAt int64
}

// StabilityIndex maps the absolute deviation onto [0,1]: 1.0 at 0σ
// falling linearly to 0.0 at 4σ and beyond. The demurrage calculator uses
// it to interpolate between base and max rates.
func (m GoldPegMetrics) StabilityIndex() fixedpoint.Value {
	four := fixedpoint.FromInt(4)
	dev := m.Deviation.Abs().Min(four)
	frac, err := dev.DivDown(four)
	if err != nil {
		return fixedpoint.One()
	}
	return fixedpoint.One().Sub(frac)
}

// PriceObservation is one accepted feed update retained for analytics.
type PriceObservation struct {
	Timestamp     int64
	Price         fixedpoint.Value
	MovingAverage fixedpoint.Value
	StdDev        fixedpoint.Value
	Deviation     fixedpoint.Value
	Confidence    fixedpoint.Value
}
