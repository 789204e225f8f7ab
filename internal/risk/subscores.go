package risk

import (
	"context"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
)

// frequencyRisk scores transaction velocity: tiered by count inside the
// trailing hour (current transaction included) plus 300 points per rapid
// gap (<= 5 minutes between consecutive transactions; a zero gap counts).
func frequencyRisk(prior []*domain.TransactionRecord, now int64) int64 {
	var inWindow []*domain.TransactionRecord
	for _, r := range prior {
		if now-r.Timestamp <= frequencyWindowSecs {
			inWindow = append(inWindow, r)
		}
	}
	count := int64(len(inWindow)) + 1

	var score int64
	switch {
	case count >= 5:
		score = 800
	case count >= 3:
		score = 500
	case count >= 2:
		score = 200
	}

	// Gaps between consecutive window transactions, plus the gap from
	// the newest prior to the current one.
	var rapid int64
	for i := 1; i < len(inWindow); i++ {
		if inWindow[i].Timestamp-inWindow[i-1].Timestamp <= rapidGapSecs {
			rapid++
		}
	}
	if len(inWindow) > 0 && now-inWindow[len(inWindow)-1].Timestamp <= rapidGapSecs {
		rapid++
	}
	score += rapid * 300

	return capScore(score)
}

// volumeRisk compares the amount against the trailing-24h average. With
// no history the absolute-amount cold-start tiers apply.
func volumeRisk(cfg domain.EconomicConfig, prior []*domain.TransactionRecord, amount fixedpoint.Value, now int64) int64 {
	var sum fixedpoint.Value
	var n int64
	for _, r := range prior {
		if now-r.Timestamp <= volumeWindowSecs {
			sum = sum.Add(r.Amount)
			n++
		}
	}

	if n == 0 {
		large := fixedpoint.FromInt(cfg.LargeTransactionUnits)
		moderate, err := large.DivDown(fixedpoint.FromInt(10))
		if err != nil {
			return 0
		}
		switch {
		case amount.Cmp(large) >= 0:
			return 800
		case amount.Cmp(moderate) >= 0:
			return 400
		default:
			return 0
		}
	}

	avg, err := sum.DivDown(fixedpoint.FromInt(n))
	if err != nil || avg.Sign() <= 0 {
		return 0
	}
	switch {
	case amount.Cmp(avg.MulInt(5)) > 0:
		return 900
	case amount.Cmp(avg.MulInt(3)) > 0:
		return 700
	case amount.Cmp(avg.MulInt(2)) > 0:
		return 500
	case amount.Cmp(avg) > 0:
		return 300
	}
	return 0
}

// patternRisk detects wash-style buy/sell alternation and counterparty
// concentration. Silent until the account has minPatternHistory records.
func patternRisk(prior []*domain.TransactionRecord, tx Transaction) int64 {
	if len(prior) < minPatternHistory {
		return 0
	}

	// Alternation ratio over the sequence ending with the current
	// transaction, counting buy<->sell direction changes.
	types := make([]domain.TransactionType, 0, len(prior)+1)
	for _, r := range prior {
		types = append(types, r.Type)
	}
	types = append(types, tx.Type)

	var changes, pairs int64
	for i := 1; i < len(types); i++ {
		a, b := types[i-1], types[i]
		if (a == domain.TxBuy || a == domain.TxSell) && (b == domain.TxBuy || b == domain.TxSell) {
			pairs++
			if a != b {
				changes++
			}
		}
	}

	var score int64
	if pairs > 0 {
		ratioPct := changes * 100 / pairs
		switch {
		case ratioPct >= 80:
			score += 600
		case ratioPct >= 60:
			score += 400
		case ratioPct >= 40:
			score += 200
		}
	}

	// Counterparty concentration across prior history.
	counts := make(map[string]int64)
	var withCp int64
	for _, r := range prior {
		if r.Counterparty != "" {
			counts[r.Counterparty]++
			withCp++
		}
	}
	if tx.Counterparty != "" {
		counts[tx.Counterparty]++
		withCp++
	}
	if withCp > 0 {
		var top int64
		for _, c := range counts {
			if c > top {
				top = c
			}
		}
		sharePct := top * 100 / withCp
		switch {
		case sharePct >= 80:
			score += 400
		case sharePct >= 50:
			score += 250
		case sharePct >= 30:
			score += 100
		}
	}

	return capScore(score)
}

// marketImpactRisk estimates price impact against the configured notional
// depth, scaled up by the current gold-peg deviation when metrics exist:
// trading into an already stressed peg scores higher.
func (s *Scorer) marketImpactRisk(ctx context.Context, cfg domain.EconomicConfig, amount fixedpoint.Value) int64 {
	depth := fixedpoint.FromInt(cfg.AssumedMarketDepth)
	impact, err := amount.DivDown(depth)
	if err != nil {
		return 0
	}

	ratio, err := impact.DivDown(cfg.MarketImpactThreshold)
	if err != nil {
		return 0
	}
	score := ratio.Min(fixedpoint.One()).MulInt(1000).Int()

	if m, err := s.metrics.Get(ctx); err == nil {
		// Amplify by up to 2x at 4 sigma deviation.
		four := fixedpoint.FromInt(4)
		dev := m.Deviation.Abs().Min(four)
		if frac, err := dev.DivDown(four); err == nil {
			score += fixedpoint.FromInt(score).MulDown(frac).Int()
		}
	}

	return capScore(score)
}

// socialRisk elevates when the counterparty is independently flagged or
// when the pair trades together unusually often.
func (s *Scorer) socialRisk(ctx context.Context, prior []*domain.TransactionRecord, tx Transaction, now int64) int64 {
	if tx.Counterparty == "" {
		return 0
	}

	var score int64
	if cp, err := s.profiles.Get(ctx, tx.Counterparty); err == nil {
		if cp.BreakerTripped(now) || cp.FlagCount > 0 {
			score += 500
		}
	}

	var pairCount int64
	for _, r := range prior {
		if r.Counterparty == tx.Counterparty {
			pairCount++
		}
	}
	switch {
	case pairCount > 10:
		score += 400
	case pairCount > 5:
		score += 200
	}

	return capScore(score)
}

// behavioralRisk scores the account's own track record: consecutive
// high-risk transactions and accumulated flags.
func behavioralRisk(profile *domain.AccountRiskProfile) int64 {
	return capScore(profile.ConsecutiveHighRisk*200 + profile.FlagCount*100)
}

// temporalRisk detects bot-like regular timing via the coefficient of
// variation of recent inter-transaction intervals. A burst of identical
// timestamps (zero mean interval) is maximally regular.
func temporalRisk(prior []*domain.TransactionRecord, now int64) int64 {
	if len(prior) < minTemporalIntervals {
		return 0
	}

	// Intervals over the most recent records plus the current one.
	recent := prior
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	times := make([]int64, 0, len(recent)+1)
	for _, r := range recent {
		times = append(times, r.Timestamp)
	}
	times = append(times, now)

	intervals := make([]int64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals = append(intervals, times[i]-times[i-1])
	}
	if len(intervals) < minTemporalIntervals {
		return 0
	}

	var sum int64
	for _, iv := range intervals {
		sum += iv
	}
	mean := sum / int64(len(intervals))
	if mean == 0 {
		return 1000
	}
	if mean > frequencyWindowSecs {
		// Sparse activity is not bot-like regardless of regularity.
		return 0
	}

	// Variance in integer arithmetic; CV compared in percent.
	var varSum int64
	for _, iv := range intervals {
		d := iv - mean
		varSum += d * d
	}
	variance := varSum / int64(len(intervals))
	std, err := fixedpoint.Sqrt(fixedpoint.FromInt(variance))
	if err != nil {
		return 0
	}
	cv, err := std.MulInt(100).DivDown(fixedpoint.FromInt(mean))
	if err != nil {
		return 0
	}
	cvPct := cv.Int()

	switch {
	case cvPct < 10:
		return 800
	case cvPct < 25:
		return 500
	case cvPct < 50:
		return 200
	}
	return 0
}

func capScore(s int64) int64 {
	if s > domain.MaxRiskScore {
		return domain.MaxRiskScore
	}
	if s < 0 {
		return 0
	}
	return s
}
