// Package risk implements multi-factor speculation risk scoring. Every
// transaction is scored across seven dimensions (frequency, volume,
// pattern, market impact, social graph, behavior, timing), each 0..1000,
// combined into a weighted composite that drives a progressive penalty
// and a per-account circuit breaker.
package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/hypermesh-online/caesar-sub000/internal/clock"
	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// Composite weights, in percent. The remaining 7% is reserved for an ML
// term that is an extension point and currently contributes zero.
const (
	weightFrequency    = 20
	weightVolume       = 18
	weightPattern      = 15
	weightMarketImpact = 12
	weightSocial       = 10
	weightBehavioral   = 10
	weightTemporal     = 8
)

// Scoring windows and tiers.
const (
	frequencyWindowSecs = 3600
	rapidGapSecs        = 300
	volumeWindowSecs    = 86400

	// minPatternHistory is the history length below which pattern risk
	// stays silent.
	minPatternHistory = 5

	// minTemporalIntervals is the minimum inter-transaction interval
	// count before timing regularity is scored.
	minTemporalIntervals = 4

	// dominantSubScore marks a near-saturated dimension. A weighted
	// average would dilute a single saturated signal below every action
	// threshold, so dominant dimensions floor the composite instead:
	// one dominant dimension floors it at the high-risk threshold, two
	// at the critical threshold.
	dominantSubScore = 900

	// subScoreFlagThreshold is the per-dimension score at which the
	// dimension's categorical flag is raised.
	subScoreFlagThreshold = 500
)

// Transaction is one incoming transaction event to analyze.
type Transaction struct {
	Account      string
	Amount       fixedpoint.Value
	Type         domain.TransactionType
	Counterparty string // empty if none
}

// ErrInvalidTransaction is returned for transactions the scorer cannot
// analyze (missing account, non-positive amount).
var ErrInvalidTransaction = errors.New("risk: invalid transaction")

// Scorer analyzes transactions against per-account history and profile.
type Scorer struct {
	profiles storage.RiskProfileStore
	history  storage.TransactionHistoryStore
	metrics  storage.GoldMetricsStore
	clk      clock.Clock
}

// NewScorer creates a risk scorer.
func NewScorer(profiles storage.RiskProfileStore, history storage.TransactionHistoryStore, metrics storage.GoldMetricsStore, clk clock.Clock) *Scorer {
	return &Scorer{profiles: profiles, history: history, metrics: metrics, clk: clk}
}

// Analyze scores a transaction, records it in the account's history,
// updates the account profile, and returns the assessment. When the
// account's circuit breaker is tripped the analysis short-circuits to
// maximum risk and the maximum penalty until the breaker expires.
func (s *Scorer) Analyze(ctx context.Context, cfg domain.EconomicConfig, tx Transaction) (*domain.RiskAssessment, error) {
	if tx.Account == "" || tx.Amount.Sign() <= 0 {
		return nil, ErrInvalidTransaction
	}

	now := s.clk.Now()

	profile, err := s.profiles.Get(ctx, tx.Account)
	if errors.Is(err, storage.ErrNotFound) {
		profile = &domain.AccountRiskProfile{Account: tx.Account}
	} else if err != nil {
		return nil, fmt.Errorf("get risk profile: %w", err)
	}

	if profile.BreakerTripped(now) {
		return s.breakerAssessment(ctx, cfg, profile, tx, now)
	}
	if profile.BreakerActive {
		// Cooldown elapsed: breaker resets before normal scoring.
		profile.BreakerActive = false
		profile.BreakerExpiry = 0
	}

	prior, err := s.history.Recent(ctx, tx.Account, 0)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	breakdown := domain.RiskBreakdown{
		Frequency:    frequencyRisk(prior, now),
		Volume:       volumeRisk(cfg, prior, tx.Amount, now),
		Pattern:      patternRisk(prior, tx),
		MarketImpact: s.marketImpactRisk(ctx, cfg, tx.Amount),
		Social:       s.socialRisk(ctx, prior, tx, now),
		Behavioral:   behavioralRisk(profile),
		Temporal:     temporalRisk(prior, now),
	}

	score := composite(breakdown)
	flags := dimensionFlags(breakdown)
	penalty := s.penalty(cfg, profile, tx.Amount, score)

	// Profile bookkeeping.
	if score >= domain.HighRiskThreshold {
		profile.ConsecutiveHighRisk++
	} else {
		profile.ConsecutiveHighRisk = 0
	}
	if len(flags) > 0 {
		profile.FlagCount++
	}
	if score >= domain.CriticalRiskThreshold {
		profile.BreakerActive = true
		profile.BreakerExpiry = now + int64(cfg.CircuitBreakerCooldown.Seconds())
		flags = append(flags, domain.FlagCircuitBreaker)
	}
	profile.Score = score
	profile.Breakdown = breakdown
	profile.TotalPenaltiesPaid = profile.TotalPenaltiesPaid.Add(penalty)
	profile.UpdatedAt = now

	if err := s.record(ctx, profile, tx, now, score); err != nil {
		return nil, err
	}

	return &domain.RiskAssessment{
		Account:      tx.Account,
		Timestamp:    now,
		Amount:       tx.Amount,
		Type:         tx.Type,
		Counterparty: tx.Counterparty,
		Score:        score,
		Breakdown:    breakdown,
		Penalty:      penalty,
		Flags:        flags,
	}, nil
}

// breakerAssessment is the short-circuit path while the breaker holds:
// maximum score, maximum penalty, no sub-score computation.
func (s *Scorer) breakerAssessment(ctx context.Context, cfg domain.EconomicConfig, profile *domain.AccountRiskProfile, tx Transaction, now int64) (*domain.RiskAssessment, error) {
	penalty := cfg.MaxPenaltyRate.MulDown(tx.Amount)

	profile.Score = domain.MaxRiskScore
	profile.ConsecutiveHighRisk++
	profile.TotalPenaltiesPaid = profile.TotalPenaltiesPaid.Add(penalty)
	profile.UpdatedAt = now

	if err := s.record(ctx, profile, tx, now, domain.MaxRiskScore); err != nil {
		return nil, err
	}

	return &domain.RiskAssessment{
		Account:      tx.Account,
		Timestamp:    now,
		Amount:       tx.Amount,
		Type:         tx.Type,
		Counterparty: tx.Counterparty,
		Score:        domain.MaxRiskScore,
		Penalty:      penalty,
		Flags:        []domain.Flag{domain.FlagCircuitBreaker},
	}, nil
}

// record appends the transaction to history and persists the profile.
func (s *Scorer) record(ctx context.Context, profile *domain.AccountRiskProfile, tx Transaction, now, score int64) error {
	rec := &domain.TransactionRecord{
		Account:      tx.Account,
		Timestamp:    now,
		Amount:       tx.Amount,
		Type:         tx.Type,
		Counterparty: tx.Counterparty,
		RiskScore:    score,
	}
	if err := s.history.Append(ctx, rec); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if err := s.profiles.Put(ctx, profile); err != nil {
		return fmt.Errorf("put risk profile: %w", err)
	}
	return nil
}

// composite combines the sub-scores into the 0..1000 composite. Dominant
// (near-saturated) dimensions floor the result so a single unambiguous
// abuse signal cannot be averaged away.
func composite(b domain.RiskBreakdown) int64 {
	weighted := (b.Frequency*weightFrequency +
		b.Volume*weightVolume +
		b.Pattern*weightPattern +
		b.MarketImpact*weightMarketImpact +
		b.Social*weightSocial +
		b.Behavioral*weightBehavioral +
		b.Temporal*weightTemporal) / 100

	dominant := int64(0)
	for _, sub := range []int64{b.Frequency, b.Volume, b.Pattern, b.MarketImpact, b.Social, b.Behavioral, b.Temporal} {
		if sub >= dominantSubScore {
			dominant++
		}
	}
	switch {
	case dominant >= 2 && weighted < domain.CriticalRiskThreshold:
		weighted = domain.CriticalRiskThreshold
	case dominant == 1 && weighted < domain.HighRiskThreshold:
		weighted = domain.HighRiskThreshold
	}

	if weighted > domain.MaxRiskScore {
		weighted = domain.MaxRiskScore
	}
	if weighted < 0 {
		weighted = 0
	}
	return weighted
}

// penalty computes the progressive anti-speculation penalty: zero below
// the low-risk threshold, then base rate scaled by the risk tier and the
// repeat-offender multiplier, capped at the configured maximum.
func (s *Scorer) penalty(cfg domain.EconomicConfig, profile *domain.AccountRiskProfile, amount fixedpoint.Value, score int64) fixedpoint.Value {
	if score < domain.LowRiskThreshold {
		return fixedpoint.Zero()
	}

	base := cfg.BasePenaltyRate.MulDown(amount)

	// Risk tier: 3x at or above high risk, 1.5x otherwise.
	if score >= domain.HighRiskThreshold {
		base = base.MulInt(3)
	} else {
		base = base.MulInt(3)
		half, err := base.DivDown(fixedpoint.FromInt(2))
		if err == nil {
			base = half
		}
	}

	// Repeat offender: (100 + 25*flags)%.
	multiplier := fixedpoint.FromInt(100 + 25*profile.FlagCount)
	scaled, err := base.MulDown(multiplier).DivDown(fixedpoint.FromInt(100))
	if err != nil {
		scaled = base
	}

	cap := cfg.MaxPenaltyRate.MulDown(amount)
	return scaled.Min(cap)
}

// dimensionFlags raises the categorical flag for every dimension at or
// above the flag threshold.
func dimensionFlags(b domain.RiskBreakdown) []domain.Flag {
	var flags []domain.Flag
	if b.Frequency >= subScoreFlagThreshold {
		flags = append(flags, domain.FlagHighFrequency)
	}
	if b.Volume >= subScoreFlagThreshold {
		flags = append(flags, domain.FlagLargeVolume)
	}
	if b.Pattern >= subScoreFlagThreshold {
		flags = append(flags, domain.FlagPatternAnomaly)
	}
	if b.MarketImpact >= subScoreFlagThreshold {
		flags = append(flags, domain.FlagMarketImpact)
	}
	if b.Social >= subScoreFlagThreshold {
		flags = append(flags, domain.FlagSocialGraph)
	}
	if b.Behavioral >= subScoreFlagThreshold {
		flags = append(flags, domain.FlagBehavioral)
	}
	if b.Temporal >= subScoreFlagThreshold {
		flags = append(flags, domain.FlagTemporalAnomaly)
	}
	return flags
}
