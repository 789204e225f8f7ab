// Package stability implements the gold-peg stability engine: it turns
// price-feed quotes into the process-wide GoldPegMetrics snapshot and
// derives deviation scores, circuit-breaker states and dynamic fees from
// it.
package stability

import (
	"context"
	"errors"
	"fmt"

	"github.com/hypermesh-online/caesar-sub000/internal/clock"
	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/feed"
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
	"github.com/hypermesh-online/caesar-sub000/internal/observability"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// Circuit-breaker thresholds in standard-deviation units. Evaluated
// independently, not mutually exclusive.
const (
	emergencySigma = 2
	haltSigma      = 3
	rebaseSigma    = 4
)

// feeCapPct caps the dynamic fee at 2% of the transaction amount.
const feeCapPct = 2

// Breakers reports which circuit breakers a deviation has tripped.
type Breakers struct {
	Halt      bool
	Emergency bool
	Rebase    bool
}

// Engine maintains the gold-peg snapshot and answers stability queries.
type Engine struct {
	store   storage.GoldMetricsStore
	clk     clock.Clock
	metrics *observability.Metrics
}

// NewEngine creates a stability engine. metrics may be nil.
func NewEngine(store storage.GoldMetricsStore, clk clock.Clock, metrics *observability.Metrics) *Engine {
	return &Engine{store: store, clk: clk, metrics: metrics}
}

// UpdateMetrics evaluates a feed quote and, if acceptable, swaps in a new
// GoldPegMetrics snapshot and records the observation. It returns false
// without touching state when the feed reports unhealthy, confidence is
// below the configured threshold, or the quote values are degenerate.
// A rejected update is a routine condition, not an error.
func (e *Engine) UpdateMetrics(ctx context.Context, cfg *domain.EconomicConfig, q feed.Quote) (bool, error) {
	if !q.Healthy {
		e.reject("unhealthy")
		return false, nil
	}
	if q.Confidence.Cmp(cfg.FeedConfidenceThreshold) < 0 {
		e.reject("low_confidence")
		return false, nil
	}
	if q.Price.Sign() <= 0 || q.MovingAverage.Sign() <= 0 || q.StdDev.Sign() < 0 {
		e.reject("degenerate")
		return false, nil
	}

	deviation := deviationSigma(q.Price, q.MovingAverage, q.StdDev)
	pressure := marketPressure(q.Price, q.MovingAverage)

	ts := q.Timestamp
	if ts <= 0 {
		ts = e.clk.Now()
	}

	m := domain.GoldPegMetrics{
		Price:          q.Price,
		MovingAverage:  q.MovingAverage,
		StdDev:         q.StdDev,
		Deviation:      deviation,
		MarketPressure: pressure,
		UpdatedAt:      ts,
	}

	if err := e.store.Swap(ctx, m); err != nil {
		return false, fmt.Errorf("swap gold metrics: %w", err)
	}
	obs := &domain.PriceObservation{
		Timestamp:     ts,
		Price:         q.Price,
		MovingAverage: q.MovingAverage,
		StdDev:        q.StdDev,
		Deviation:     deviation,
		Confidence:    q.Confidence,
	}
	if err := e.store.AppendObservation(ctx, obs); err != nil {
		return false, fmt.Errorf("append observation: %w", err)
	}

	if e.metrics != nil {
		e.metrics.FeedUpdatesAccepted.Inc()
		e.metrics.PegDeviationSigma.Set(deviation.Decimal().InexactFloat64())
		e.metrics.MarketPressure.Set(pressure.Decimal().InexactFloat64())
	}
	return true, nil
}

// DeviationScore returns the signed distance of currentPrice from the
// stored moving average, in standard-deviation units. With no snapshot or
// a zero standard deviation the score is zero.
func (e *Engine) DeviationScore(ctx context.Context, currentPrice fixedpoint.Value) (fixedpoint.Value, error) {
	m, err := e.store.Get(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fixedpoint.Zero(), nil
		}
		return fixedpoint.Zero(), fmt.Errorf("get gold metrics: %w", err)
	}
	return deviationSigma(currentPrice, m.MovingAverage, m.StdDev), nil
}

// CheckCircuitBreakers evaluates the three breaker thresholds against the
// deviation of currentPrice: emergency at >=2 sigma, halt at >=3 sigma,
// rebase at >=4 sigma.
func (e *Engine) CheckCircuitBreakers(ctx context.Context, currentPrice fixedpoint.Value) (Breakers, error) {
	dev, err := e.DeviationScore(ctx, currentPrice)
	if err != nil {
		return Breakers{}, err
	}
	abs := dev.Abs()
	return Breakers{
		Halt:      abs.Cmp(fixedpoint.FromInt(haltSigma)) >= 0,
		Emergency: abs.Cmp(fixedpoint.FromInt(emergencySigma)) >= 0,
		Rebase:    abs.Cmp(fixedpoint.FromInt(rebaseSigma)) >= 0,
	}, nil
}

// DynamicFee computes the transaction fee for amount under the current
// peg state: base fee rate scaled up multiplicatively by market pressure
// and the external volatility index, then capped at 2% of the amount. The
// signed deviation is returned alongside so callers can bias buys and
// sells by peg direction. With no snapshot the base fee applies.
func (e *Engine) DynamicFee(ctx context.Context, cfg *domain.EconomicConfig, amount, volatilityIndex fixedpoint.Value) (fee, deviation fixedpoint.Value, err error) {
	pressure := fixedpoint.Zero()
	deviation = fixedpoint.Zero()

	m, err := e.store.Get(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fixedpoint.Zero(), fixedpoint.Zero(), fmt.Errorf("get gold metrics: %w", err)
	}
	if err == nil {
		pressure = m.MarketPressure
		deviation = m.Deviation
	}

	rate := cfg.BaseTransactionFee.
		MulUp(fixedpoint.One().Add(pressure)).
		MulUp(fixedpoint.One().Add(volatilityIndex.Abs()))

	fee = amount.MulUp(rate)
	capFee, derr := amount.MulInt(feeCapPct).DivDown(fixedpoint.FromInt(100))
	if derr != nil {
		return fixedpoint.Zero(), fixedpoint.Zero(), derr
	}
	fee = fee.Min(capFee)
	return fee, deviation, nil
}

// deviationSigma computes (price - ma) / sigma, zero when sigma is zero.
func deviationSigma(price, ma, sigma fixedpoint.Value) fixedpoint.Value {
	if sigma.Sign() <= 0 {
		return fixedpoint.Zero()
	}
	diff := price.Sub(ma)
	dev, err := diff.DivDown(sigma)
	if err != nil {
		return fixedpoint.Zero()
	}
	return dev
}

// marketPressure computes |price - ma| / ma.
func marketPressure(price, ma fixedpoint.Value) fixedpoint.Value {
	if ma.Sign() <= 0 {
		return fixedpoint.Zero()
	}
	p, err := price.Sub(ma).Abs().DivDown(ma)
	if err != nil {
		return fixedpoint.Zero()
	}
	return p
}

func (e *Engine) reject(reason string) {
	if e.metrics != nil {
		e.metrics.FeedUpdatesRejected.WithLabelValues(reason).Inc()
	}
}
