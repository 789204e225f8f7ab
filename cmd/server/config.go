package main

import (
	"fmt"
	"time"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
)

// ConfigPayload is the JSON wire form of the economic configuration.
// Fixed-point fields travel as decimal strings, durations as seconds.
// Version is assigned by the engine and ignored on input.
type ConfigPayload struct {
	Version uint64 `json:"version,omitempty"`

	BaseDemurrageRate string `json:"base_demurrage_rate"`
	MinDemurrageRate  string `json:"min_demurrage_rate"`
	MaxDemurrageRate  string `json:"max_demurrage_rate"`

	VeryStableThreshold   string `json:"very_stable_threshold"`
	VeryUnstableThreshold string `json:"very_unstable_threshold"`
	FiatActivityDiscount  string `json:"fiat_activity_discount"`
	GracePeriodSecs       int64  `json:"grace_period_secs"`

	BasePenaltyRate       string `json:"base_penalty_rate"`
	MaxPenaltyRate        string `json:"max_penalty_rate"`
	LargeTransactionUnits int64  `json:"large_transaction_units"`
	MarketImpactThreshold string `json:"market_impact_threshold"`
	AssumedMarketDepth    int64  `json:"assumed_market_depth"`

	FrontRunningWindowSecs     int64 `json:"front_running_window_secs"`
	WashTradeWindowSecs        int64 `json:"wash_trade_window_secs"`
	PumpDumpWindowSecs         int64 `json:"pump_dump_window_secs"`
	CircuitBreakerCooldownSecs int64 `json:"circuit_breaker_cooldown_secs"`

	FeedConfidenceThreshold string `json:"feed_confidence_threshold"`
	BaseTransactionFee      string `json:"base_transaction_fee"`
}

func configToPayload(cfg domain.EconomicConfig) ConfigPayload {
	return ConfigPayload{
		Version:                    cfg.Version,
		BaseDemurrageRate:          cfg.BaseDemurrageRate.String(),
		MinDemurrageRate:           cfg.MinDemurrageRate.String(),
		MaxDemurrageRate:           cfg.MaxDemurrageRate.String(),
		VeryStableThreshold:        cfg.VeryStableThreshold.String(),
		VeryUnstableThreshold:      cfg.VeryUnstableThreshold.String(),
		FiatActivityDiscount:       cfg.FiatActivityDiscount.String(),
		GracePeriodSecs:            int64(cfg.GracePeriod / time.Second),
		BasePenaltyRate:            cfg.BasePenaltyRate.String(),
		MaxPenaltyRate:             cfg.MaxPenaltyRate.String(),
		LargeTransactionUnits:      cfg.LargeTransactionUnits,
		MarketImpactThreshold:      cfg.MarketImpactThreshold.String(),
		AssumedMarketDepth:         cfg.AssumedMarketDepth,
		FrontRunningWindowSecs:     int64(cfg.FrontRunningWindow / time.Second),
		WashTradeWindowSecs:        int64(cfg.WashTradeWindow / time.Second),
		PumpDumpWindowSecs:         int64(cfg.PumpDumpWindow / time.Second),
		CircuitBreakerCooldownSecs: int64(cfg.CircuitBreakerCooldown / time.Second),
		FeedConfidenceThreshold:    cfg.FeedConfidenceThreshold.String(),
		BaseTransactionFee:         cfg.BaseTransactionFee.String(),
	}
}

func (p ConfigPayload) toConfig() (domain.EconomicConfig, error) {
	var cfg domain.EconomicConfig
	fields := []struct {
		name string
		src  string
		dst  *fixedpoint.Value
	}{
		{"base_demurrage_rate", p.BaseDemurrageRate, &cfg.BaseDemurrageRate},
		{"min_demurrage_rate", p.MinDemurrageRate, &cfg.MinDemurrageRate},
		{"max_demurrage_rate", p.MaxDemurrageRate, &cfg.MaxDemurrageRate},
		{"very_stable_threshold", p.VeryStableThreshold, &cfg.VeryStableThreshold},
		{"very_unstable_threshold", p.VeryUnstableThreshold, &cfg.VeryUnstableThreshold},
		{"fiat_activity_discount", p.FiatActivityDiscount, &cfg.FiatActivityDiscount},
		{"base_penalty_rate", p.BasePenaltyRate, &cfg.BasePenaltyRate},
		{"max_penalty_rate", p.MaxPenaltyRate, &cfg.MaxPenaltyRate},
		{"market_impact_threshold", p.MarketImpactThreshold, &cfg.MarketImpactThreshold},
		{"feed_confidence_threshold", p.FeedConfidenceThreshold, &cfg.FeedConfidenceThreshold},
		{"base_transaction_fee", p.BaseTransactionFee, &cfg.BaseTransactionFee},
	}
	for _, f := range fields {
		v, err := parseAmount(f.src)
		if err != nil {
			return domain.EconomicConfig{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}

	cfg.GracePeriod = time.Duration(p.GracePeriodSecs) * time.Second
	cfg.LargeTransactionUnits = p.LargeTransactionUnits
	cfg.AssumedMarketDepth = p.AssumedMarketDepth
	cfg.FrontRunningWindow = time.Duration(p.FrontRunningWindowSecs) * time.Second
	cfg.WashTradeWindow = time.Duration(p.WashTradeWindowSecs) * time.Second
	cfg.PumpDumpWindow = time.Duration(p.PumpDumpWindowSecs) * time.Second
	cfg.CircuitBreakerCooldown = time.Duration(p.CircuitBreakerCooldownSecs) * time.Second
	return cfg, nil
}
