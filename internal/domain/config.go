package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
)

// ErrInvalidConfig is returned when a configuration update violates an
// invariant. The update is rejected wholesale; no field is applied.
var ErrInvalidConfig = errors.New("invalid economic config")

// EconomicConfig holds the process-wide tunable parameters of the engine.
// It is an immutable value object: updates go through Validate and replace
// the whole struct (version bumped), never mutate fields in place.
type EconomicConfig struct {
	// Version increments on every accepted update.
	Version uint64

	// Demurrage rates, per hour, in fixed-point units.
	BaseDemurrageRate fixedpoint.Value
	MinDemurrageRate  fixedpoint.Value
	MaxDemurrageRate  fixedpoint.Value

	// Stability index thresholds controlling rate interpolation.
	// Index >= VeryStableThreshold applies BaseDemurrageRate/4;
	// index <= VeryUnstableThreshold applies MaxDemurrageRate.
	VeryStableThreshold   fixedpoint.Value
	VeryUnstableThreshold fixedpoint.Value

	// FiatActivityDiscount is the fractional rate discount for accounts
	// with qualifying fiat activity (0.25 = 25% off).
	FiatActivityDiscount fixedpoint.Value

	// GracePeriod suspends demurrage after account creation.
	GracePeriod time.Duration

	// Anti-speculation penalty parameters.
	BasePenaltyRate fixedpoint.Value // fraction of amount, e.g. 0.01
	MaxPenaltyRate  fixedpoint.Value // hard cap as fraction of amount

	// LargeTransactionUnits is the cold-start absolute-amount reference
	// for volume risk when an account has no history, in whole units.
	LargeTransactionUnits int64

	// MarketImpactThreshold is the estimated price-impact fraction above
	// which a transaction scores maximum market-impact risk.
	MarketImpactThreshold fixedpoint.Value

	// AssumedMarketDepth is the notional depth, in whole units, used for
	// the amount-based price-impact estimate.
	AssumedMarketDepth int64

	// Manipulation detection windows.
	FrontRunningWindow time.Duration
	WashTradeWindow    time.Duration
	PumpDumpWindow     time.Duration

	// CircuitBreakerCooldown is how long a tripped per-account breaker
	// forces maximum risk output.
	CircuitBreakerCooldown time.Duration

	// FeedConfidenceThreshold rejects gold price updates below it.
	FeedConfidenceThreshold fixedpoint.Value

	// BaseTransactionFee is the base dynamic fee fraction before
	// pressure/volatility scaling.
	BaseTransactionFee fixedpoint.Value
}

// DefaultConfig returns the engine defaults, Version 1.
func DefaultConfig() EconomicConfig {
	return EconomicConfig{
		Version:                 1,
		BaseDemurrageRate:       fp("0.0001"), // 0.01%/hour
		MinDemurrageRate:        fp("0.000025"),
		MaxDemurrageRate:        fp("0.001"), // 0.1%/hour
		VeryStableThreshold:     fp("0.8"),
		VeryUnstableThreshold:   fp("0.2"),
		FiatActivityDiscount:    fp("0.25"),
		GracePeriod:             30 * 24 * time.Hour,
		BasePenaltyRate:         fp("0.01"),
		MaxPenaltyRate:          fp("0.10"),
		LargeTransactionUnits:   10_000,
		MarketImpactThreshold:   fp("0.05"),
		AssumedMarketDepth:      1_000_000,
		FrontRunningWindow:      5 * time.Minute,
		WashTradeWindow:         time.Hour,
		PumpDumpWindow:          24 * time.Hour,
		CircuitBreakerCooldown:  time.Hour,
		FeedConfidenceThreshold: fp("0.8"),
		BaseTransactionFee:      fp("0.001"),
	}
}

// fp parses a decimal literal into a fixed-point value. Panics on bad
// literals; only used with compile-time constants.
func fp(s string) fixedpoint.Value {
	return fixedpoint.FromDecimal(decimal.RequireFromString(s))
}

// Validate checks all configuration invariants. An error means the config
// must be rejected in full.
func (c EconomicConfig) Validate() error {
	if c.BaseDemurrageRate.Sign() < 0 || c.MaxDemurrageRate.Sign() < 0 || c.MinDemurrageRate.Sign() < 0 {
		return fmt.Errorf("%w: negative demurrage rate", ErrInvalidConfig)
	}
	if c.BaseDemurrageRate.Cmp(c.MaxDemurrageRate) > 0 {
		return fmt.Errorf("%w: base rate %s exceeds max rate %s", ErrInvalidConfig, c.BaseDemurrageRate, c.MaxDemurrageRate)
	}
	if c.MinDemurrageRate.Cmp(c.MaxDemurrageRate) > 0 {
		return fmt.Errorf("%w: min rate %s exceeds max rate %s", ErrInvalidConfig, c.MinDemurrageRate, c.MaxDemurrageRate)
	}
	if c.VeryUnstableThreshold.Cmp(c.VeryStableThreshold) >= 0 {
		return fmt.Errorf("%w: unstable threshold %s must be below stable threshold %s", ErrInvalidConfig, c.VeryUnstableThreshold, c.VeryStableThreshold)
	}
	if c.FiatActivityDiscount.Sign() < 0 || c.FiatActivityDiscount.Cmp(fixedpoint.One()) > 0 {
		return fmt.Errorf("%w: fiat discount %s outside [0,1]", ErrInvalidConfig, c.FiatActivityDiscount)
	}
	if c.BasePenaltyRate.Cmp(c.MaxPenaltyRate) > 0 {
		return fmt.Errorf("%w: base penalty rate %s exceeds max %s", ErrInvalidConfig, c.BasePenaltyRate, c.MaxPenaltyRate)
	}
	if c.GracePeriod < 0 || c.CircuitBreakerCooldown < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	if c.FrontRunningWindow <= 0 || c.WashTradeWindow <= 0 || c.PumpDumpWindow <= 0 {
		return fmt.Errorf("%w: detection windows must be positive", ErrInvalidConfig)
	}
	if c.AssumedMarketDepth <= 0 {
		return fmt.Errorf("%w: assumed market depth must be positive", ErrInvalidConfig)
	}
	if c.FeedConfidenceThreshold.Sign() < 0 || c.FeedConfidenceThreshold.Cmp(fixedpoint.One()) > 0 {
		return fmt.Errorf("%w: feed confidence threshold %s outside [0,1]", ErrInvalidConfig, c.FeedConfidenceThreshold)
	}
	return nil
}
