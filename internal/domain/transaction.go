package domain

import (
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
)

// TransactionType classifies an analyzed transaction.
type TransactionType string

// Transaction type constants.
const (
	TxTransfer TransactionType = "transfer"
	TxBuy      TransactionType = "buy"
	TxSell     TransactionType = "sell"
)

// HistoryCapacity is the fixed per-account transaction history size.
// The oldest record is evicted when a 51st record is appended.
const HistoryCapacity = 50

// TransactionRecord is an immutable log entry for one analyzed
// transaction. Records are never mutated after creation and are evicted
// only by history capacity, never by age.
type TransactionRecord struct {
	Account      string           // account key the record belongs to
	Timestamp    int64            // Unix timestamp in seconds
	Amount       fixedpoint.Value // transaction amount
	Type         TransactionType  // transfer | buy | sell
	Counterparty string           // empty if none
	RiskScore    int64            // composite score computed at analysis time
}

// Flag is a categorical signal attached to an analyzed transaction.
type Flag string

// Risk and manipulation flags.
const (
	FlagHighFrequency   Flag = "high_frequency"
	FlagLargeVolume     Flag = "large_volume"
	FlagPatternAnomaly  Flag = "pattern_anomaly"
	FlagMarketImpact    Flag = "market_impact"
	FlagSocialGraph     Flag = "social_graph"
	FlagBehavioral      Flag = "behavioral"
	FlagTemporalAnomaly Flag = "temporal_anomaly"
	FlagCircuitBreaker  Flag = "circuit_breaker"
	FlagWashTrading     Flag = "wash_trading"
	FlagFrontRunning    Flag = "front_running"
	FlagPumpAndDump     Flag = "pump_and_dump"
)
