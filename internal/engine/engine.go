// Package engine wires the risk scorer, manipulation detector, demurrage
// calculator and gold-peg stability engine over a set of stores into a
// single facade. Flow per transaction: account validation → manipulation
// detection → risk analysis → audit record.
package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/hypermesh-online/caesar-sub000/internal/account"
	"github.com/hypermesh-online/caesar-sub000/internal/clock"
	"github.com/hypermesh-online/caesar-sub000/internal/demurrage"
	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/feed"
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
	"github.com/hypermesh-online/caesar-sub000/internal/manipulation"
	"github.com/hypermesh-online/caesar-sub000/internal/observability"
	"github.com/hypermesh-online/caesar-sub000/internal/risk"
	"github.com/hypermesh-online/caesar-sub000/internal/stability"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// Engine is the economic engine facade.
type Engine struct {
	configStore storage.ConfigStore
	assessments storage.AssessmentStore

	scorer     *risk.Scorer
	detector   *manipulation.Detector
	demurrage  *demurrage.Calculator
	stability  *stability.Engine
	feed       feed.PriceFeed
	clk        clock.Clock
	metrics    *observability.Metrics
	logger     *log.Logger
	validateFn func(string) error
}

// Options for creating an Engine.
type Options struct {
	// Required stores
	ConfigStore     storage.ConfigStore
	ProfileStore    storage.RiskProfileStore
	DemurrageStore  storage.DemurrageStateStore
	HistoryStore    storage.TransactionHistoryStore
	GoldStore       storage.GoldMetricsStore
	AssessmentStore storage.AssessmentStore

	// Collaborators
	Feed  feed.PriceFeed // may be nil when UpdateGoldMetrics is unused
	Clock clock.Clock

	// Optional
	Metrics *observability.Metrics
	Logger  *log.Logger

	// SkipKeyValidation disables account key validation, for synthetic
	// workloads whose account IDs are not real ledger keys.
	SkipKeyValidation bool
}

// New creates an Engine from its stores and collaborators.
func New(opts Options) *Engine {
	e := &Engine{
		configStore: opts.ConfigStore,
		assessments: opts.AssessmentStore,
		scorer:      risk.NewScorer(opts.ProfileStore, opts.HistoryStore, opts.GoldStore, opts.Clock),
		detector:    manipulation.NewDetector(opts.HistoryStore, opts.Clock, opts.Metrics),
		demurrage:   demurrage.New(opts.DemurrageStore, opts.GoldStore, opts.Clock),
		stability:   stability.NewEngine(opts.GoldStore, opts.Clock, opts.Metrics),
		feed:        opts.Feed,
		clk:         opts.Clock,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		validateFn:  account.Validate,
	}
	if opts.SkipKeyValidation {
		e.validateFn = func(string) error { return nil }
	}
	return e
}

// ProcessTransaction runs the full per-transaction pipeline and returns
// the resulting assessment. Manipulation detection runs before risk
// analysis so the detectors compare the incoming transaction against
// history that does not yet contain it; the analysis then records the
// transaction. The assessment is appended to the audit trail.
func (e *Engine) ProcessTransaction(ctx context.Context, tx risk.Transaction) (*domain.RiskAssessment, error) {
	if err := e.validateFn(tx.Account); err != nil {
		return nil, fmt.Errorf("account %q: %w", tx.Account, err)
	}
	if tx.Counterparty != "" {
		if err := e.validateFn(tx.Counterparty); err != nil {
			return nil, fmt.Errorf("counterparty %q: %w", tx.Counterparty, err)
		}
	}

	cfg, err := e.configStore.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}

	// First sight of an account starts its demurrage grace period.
	if err := e.demurrage.Register(ctx, cfg, tx.Account); err != nil {
		return nil, fmt.Errorf("register demurrage state: %w", err)
	}

	manipFlags, err := e.detectManipulation(ctx, cfg, tx)
	if err != nil {
		return nil, err
	}

	assessment, err := e.scorer.Analyze(ctx, cfg, tx)
	if err != nil {
		return nil, fmt.Errorf("analyze transaction: %w", err)
	}
	// A fresh trip carries dimension flags alongside the breaker flag;
	// assessments inside the cooldown window carry it alone.
	freshTrip := assessment.HasFlag(domain.FlagCircuitBreaker) && len(assessment.Flags) > 1
	for _, f := range manipFlags {
		if !assessment.HasFlag(f) {
			assessment.Flags = append(assessment.Flags, f)
		}
	}

	if err := e.assessments.Append(ctx, assessment); err != nil {
		return nil, fmt.Errorf("append assessment: %w", err)
	}

	if e.metrics != nil {
		e.metrics.TransactionsAnalyzed.Inc()
		e.metrics.RiskScores.Observe(float64(assessment.Score))
		if assessment.Penalty.Sign() > 0 {
			e.metrics.PenaltiesCharged.Inc()
		}
		if freshTrip {
			e.metrics.CircuitBreakerTrips.Inc()
		}
	}
	if e.logger != nil && assessment.Score >= domain.HighRiskThreshold {
		e.logger.Printf("high-risk transaction: account=%s score=%d flags=%v",
			tx.Account, assessment.Score, assessment.Flags)
	}
	return assessment, nil
}

// detectManipulation runs the three detectors against the incoming
// transaction and returns the flags they raise.
func (e *Engine) detectManipulation(ctx context.Context, cfg domain.EconomicConfig, tx risk.Transaction) ([]domain.Flag, error) {
	var flags []domain.Flag

	if tx.Counterparty != "" {
		wash, err := e.detector.DetectWashTrading(ctx, cfg, tx.Account, tx.Counterparty)
		if err != nil {
			return nil, fmt.Errorf("detect wash trading: %w", err)
		}
		if wash {
			flags = append(flags, domain.FlagWashTrading)
		}
	}

	front, err := e.detector.DetectFrontRunning(ctx, cfg, tx.Account, tx.Amount, tx.Type)
	if err != nil {
		return nil, fmt.Errorf("detect front running: %w", err)
	}
	if front {
		flags = append(flags, domain.FlagFrontRunning)
	}

	pump, err := e.detector.DetectPumpAndDump(ctx, cfg, tx.Account, tx.Amount, tx.Type)
	if err != nil {
		return nil, fmt.Errorf("detect pump and dump: %w", err)
	}
	if pump {
		flags = append(flags, domain.FlagPumpAndDump)
	}
	return flags, nil
}

// CalculateDemurrage previews the demurrage owed without applying it.
func (e *Engine) CalculateDemurrage(ctx context.Context, acct string, balance fixedpoint.Value) (fixedpoint.Value, error) {
	cfg, err := e.configStore.Get(ctx)
	if err != nil {
		return fixedpoint.Zero(), fmt.Errorf("get config: %w", err)
	}
	return e.demurrage.Calculate(ctx, cfg, acct, balance)
}

// ApplyDemurrage charges the demurrage owed and returns the amount
// collected. A second application within the same period collects zero.
func (e *Engine) ApplyDemurrage(ctx context.Context, acct string, balance fixedpoint.Value) (fixedpoint.Value, error) {
	cfg, err := e.configStore.Get(ctx)
	if err != nil {
		return fixedpoint.Zero(), fmt.Errorf("get config: %w", err)
	}
	collected, err := e.demurrage.Apply(ctx, cfg, acct, balance)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	if e.metrics != nil && collected.Sign() > 0 {
		e.metrics.DemurrageApplications.Inc()
		e.metrics.DemurrageCollected.Add(collected.Decimal().InexactFloat64())
	}
	return collected, nil
}

// UpdateGoldMetrics pulls the latest quote from the price feed and
// applies it. It reports whether the update was accepted.
func (e *Engine) UpdateGoldMetrics(ctx context.Context) (bool, error) {
	if e.feed == nil {
		return false, fmt.Errorf("no price feed configured")
	}
	q, err := e.feed.Quote(ctx)
	if err != nil {
		return false, fmt.Errorf("feed quote: %w", err)
	}
	cfg, err := e.configStore.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("get config: %w", err)
	}
	return e.stability.UpdateMetrics(ctx, &cfg, q)
}

// DeviationScore returns the current signed gold-peg deviation of price
// in standard-deviation units.
func (e *Engine) DeviationScore(ctx context.Context, price fixedpoint.Value) (fixedpoint.Value, error) {
	return e.stability.DeviationScore(ctx, price)
}

// CheckCircuitBreakers evaluates the peg circuit breakers for price.
func (e *Engine) CheckCircuitBreakers(ctx context.Context, price fixedpoint.Value) (stability.Breakers, error) {
	return e.stability.CheckCircuitBreakers(ctx, price)
}

// DynamicFee computes the stability-adjusted fee for a transaction
// amount, along with the signed deviation driving it.
func (e *Engine) DynamicFee(ctx context.Context, amount, volatilityIndex fixedpoint.Value) (fee, deviation fixedpoint.Value, err error) {
	cfg, err := e.configStore.Get(ctx)
	if err != nil {
		return fixedpoint.Zero(), fixedpoint.Zero(), fmt.Errorf("get config: %w", err)
	}
	return e.stability.DynamicFee(ctx, &cfg, amount, volatilityIndex)
}

// UpdateConfig validates next and installs it as the successor of the
// current configuration. The version is assigned here; concurrent
// updaters race on the swap and the loser gets ErrStaleVersion. A config
// that fails validation is never partially applied.
func (e *Engine) UpdateConfig(ctx context.Context, next domain.EconomicConfig) error {
	if err := next.Validate(); err != nil {
		return err
	}
	cur, err := e.configStore.Get(ctx)
	if err != nil {
		return fmt.Errorf("get config: %w", err)
	}
	next.Version = cur.Version + 1
	if err := e.configStore.Swap(ctx, next); err != nil {
		return fmt.Errorf("swap config: %w", err)
	}
	if e.metrics != nil {
		e.metrics.ConfigUpdates.Inc()
		e.metrics.ConfigVersion.Set(float64(next.Version))
	}
	return nil
}

// Config returns the current economic configuration.
func (e *Engine) Config(ctx context.Context) (domain.EconomicConfig, error) {
	return e.configStore.Get(ctx)
}
