// Package demurrage computes time-decayed balance reduction. Rates adapt
// to the gold-peg stability index and per-account fiat-activity discounts;
// a single application never removes more than half a balance.
package demurrage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hypermesh-online/caesar-sub000/internal/clock"
	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// secondsPerPeriod is one demurrage period: one hour.
const secondsPerPeriod = 3600

// Calculator computes and applies demurrage.
type Calculator struct {
	states  storage.DemurrageStateStore
	metrics storage.GoldMetricsStore
	clk     clock.Clock
}

// New creates a demurrage calculator.
func New(states storage.DemurrageStateStore, metrics storage.GoldMetricsStore, clk clock.Clock) *Calculator {
	return &Calculator{states: states, metrics: metrics, clk: clk}
}

// Calculate returns the demurrage owed by an account on the given balance,
// without mutating any state. Returns zero when the account is exempt,
// unknown, within its grace period, or less than one full period has
// elapsed since the last application.
func (c *Calculator) Calculate(ctx context.Context, cfg domain.EconomicConfig, acct string, balance fixedpoint.Value) (fixedpoint.Value, error) {
	state, err := c.states.Get(ctx, acct)
	if errors.Is(err, storage.ErrNotFound) {
		// No recorded state means no measurable holding period.
		return fixedpoint.Zero(), nil
	}
	if err != nil {
		return fixedpoint.Zero(), fmt.Errorf("get demurrage state: %w", err)
	}
	return c.calculate(ctx, cfg, state, balance, c.clk.Now())
}

// Apply recomputes demurrage and, when positive, advances the account's
// last-application timestamp and accumulates the total paid. Calling it
// again within the same period returns zero, so double application inside
// one period is impossible.
func (c *Calculator) Apply(ctx context.Context, cfg domain.EconomicConfig, acct string, balance fixedpoint.Value) (fixedpoint.Value, error) {
	state, err := c.states.Get(ctx, acct)
	if errors.Is(err, storage.ErrNotFound) {
		return fixedpoint.Zero(), nil
	}
	if err != nil {
		return fixedpoint.Zero(), fmt.Errorf("get demurrage state: %w", err)
	}

	now := c.clk.Now()
	amount, err := c.calculate(ctx, cfg, state, balance, now)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	if amount.IsZero() {
		return fixedpoint.Zero(), nil
	}

	state.LastApplication = now
	state.TotalPaid = state.TotalPaid.Add(amount)
	if err := c.states.Put(ctx, state); err != nil {
		return fixedpoint.Zero(), fmt.Errorf("put demurrage state: %w", err)
	}
	return amount, nil
}

// Register creates demurrage state for a newly seen account, starting its
// holding period and grace window at now. Existing state is left alone.
func (c *Calculator) Register(ctx context.Context, cfg domain.EconomicConfig, acct string) error {
	_, err := c.states.Get(ctx, acct)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("get demurrage state: %w", err)
	}

	now := c.clk.Now()
	state := &domain.DemurrageAccountState{
		Account:         acct,
		LastApplication: now,
		GraceUntil:      now + int64(cfg.GracePeriod.Seconds()),
	}
	if err := c.states.Put(ctx, state); err != nil {
		return fmt.Errorf("put demurrage state: %w", err)
	}
	return nil
}

func (c *Calculator) calculate(ctx context.Context, cfg domain.EconomicConfig, state *domain.DemurrageAccountState, balance fixedpoint.Value, now int64) (fixedpoint.Value, error) {
	if state.Exempt || balance.Sign() <= 0 {
		return fixedpoint.Zero(), nil
	}
	if state.GraceUntil != 0 && now < state.GraceUntil {
		return fixedpoint.Zero(), nil
	}

	periods := (now - state.LastApplication) / secondsPerPeriod
	if periods < 1 {
		return fixedpoint.Zero(), nil
	}

	rate, err := c.effectiveRate(ctx, cfg, state)
	if err != nil {
		return fixedpoint.Zero(), err
	}

	decayed := fixedpoint.ExponentialDecay(balance, rate, periods)
	amount := balance.Sub(decayed)

	// Safety clamp: one application never takes more than half the
	// balance, whatever the rate or elapsed time says.
	half, err := balance.DivDown(fixedpoint.FromInt(2))
	if err != nil {
		return fixedpoint.Zero(), err
	}
	if amount.Cmp(half) > 0 {
		amount = half
	}
	if amount.Sign() < 0 {
		amount = fixedpoint.Zero()
	}
	return amount, nil
}

// effectiveRate derives the per-period rate: the stability-interpolated
// base rate, discounted for fiat activity, clamped to [min, max].
func (c *Calculator) effectiveRate(ctx context.Context, cfg domain.EconomicConfig, state *domain.DemurrageAccountState) (fixedpoint.Value, error) {
	rate := c.stabilityAdjustedRate(ctx, cfg)

	if state.FiatActivityEligible {
		rate = rate.MulDown(fixedpoint.One().Sub(cfg.FiatActivityDiscount))
	}

	return rate.Clamp(cfg.MinDemurrageRate, cfg.MaxDemurrageRate), nil
}

// stabilityAdjustedRate interpolates between base and max demurrage rates
// from the gold-peg stability index, saturating at the thresholds:
// very stable pays base/4, very unstable pays the max. Without any gold
// metrics yet the base rate applies unmodified.
func (c *Calculator) stabilityAdjustedRate(ctx context.Context, cfg domain.EconomicConfig) fixedpoint.Value {
	m, err := c.metrics.Get(ctx)
	if err != nil {
		return cfg.BaseDemurrageRate
	}
	index := m.StabilityIndex()

	if index.Cmp(cfg.VeryStableThreshold) >= 0 {
		quarter, err := cfg.BaseDemurrageRate.DivDown(fixedpoint.FromInt(4))
		if err != nil {
			return cfg.BaseDemurrageRate
		}
		return quarter
	}
	if index.Cmp(cfg.VeryUnstableThreshold) <= 0 {
		return cfg.MaxDemurrageRate
	}

	// Linear interpolation: rate falls from max at the unstable threshold
	// to base at the stable threshold.
	span := cfg.VeryStableThreshold.Sub(cfg.VeryUnstableThreshold)
	pos := index.Sub(cfg.VeryUnstableThreshold)
	frac, err := pos.DivDown(span)
	if err != nil {
		return cfg.BaseDemurrageRate
	}
	spread := cfg.MaxDemurrageRate.Sub(cfg.BaseDemurrageRate)
	return cfg.MaxDemurrageRate.Sub(spread.MulDown(frac))
}
