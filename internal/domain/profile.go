package domain

import (
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
)

// Risk score bounds and decision thresholds. Scores are integers on a
// 0..1000 scale.
const (
	MaxRiskScore = 1000

	// LowRiskThreshold is the score below which no penalty applies.
	LowRiskThreshold = 300

	// HighRiskThreshold applies the 3x penalty multiplier at or above it.
	HighRiskThreshold = 700

	// CriticalRiskThreshold trips the per-account circuit breaker.
	CriticalRiskThreshold = 900
)

// RiskBreakdown holds the seven per-dimension sub-scores, each 0..1000.
type RiskBreakdown struct {
	Frequency    int64
	Volume       int64
	Pattern      int64
	MarketImpact int64
	Social       int64
	Behavioral   int64
	Temporal     int64
}

// AccountRiskProfile is the mutable per-account risk state. Only the
// latest snapshot is retained; history lives in the transaction record
// store.
type AccountRiskProfile struct {
	Account string

	// Score is the composite risk score from the latest analysis.
	Score     int64
	Breakdown RiskBreakdown

	// TotalPenaltiesPaid accumulates every penalty charged.
	TotalPenaltiesPaid fixedpoint.Value

	// FlagCount is the number of times the account has been flagged;
	// it drives the repeat-offender penalty multiplier.
	FlagCount int64

	// ConsecutiveHighRisk counts back-to-back transactions at or above
	// HighRiskThreshold; reset by any lower-scoring transaction.
	ConsecutiveHighRisk int64

	// Circuit breaker state: while BreakerActive and now < BreakerExpiry,
	// every analysis short-circuits to maximum risk.
	BreakerActive bool
	BreakerExpiry int64

	UpdatedAt int64
}

// BreakerTripped reports whether the breaker forces maximum risk at the
// given time. An expired breaker counts as cleared.
func (p *AccountRiskProfile) BreakerTripped(now int64) bool {
	return p.BreakerActive && now < p.BreakerExpiry
}

// DemurrageAccountState is the per-account demurrage bookkeeping, mutated
// only by the demurrage calculator's apply operation.
type DemurrageAccountState struct {
	Account string

	// LastApplication is when demurrage was last applied; the account's
	// creation time before any application.
	LastApplication int64

	// TotalPaid accumulates all demurrage ever collected.
	TotalPaid fixedpoint.Value

	// GraceUntil suspends demurrage until this time; 0 if not applicable.
	GraceUntil int64

	// Exempt disables demurrage entirely for this account.
	Exempt bool

	// FiatActivityEligible grants the configured fiat-activity discount.
	FiatActivityEligible bool
}
