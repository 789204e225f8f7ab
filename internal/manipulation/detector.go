// Package manipulation implements market-manipulation heuristics over
// per-account transaction history: wash trading, front running, and
// pump-and-dump. Detections are categorical signals for off-engine
// enforcement; they never feed the numeric penalty formula.
package manipulation

import (
	"context"
	"fmt"
	"sync"

	"github.com/hypermesh-online/caesar-sub000/internal/account"
	"github.com/hypermesh-online/caesar-sub000/internal/clock"
	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
	"github.com/hypermesh-online/caesar-sub000/internal/observability"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// Detection kinds reported to the metrics counter.
const (
	KindWashTrading  = "wash_trading"
	KindFrontRunning = "front_running"
	KindPumpAndDump  = "pump_and_dump"
)

// Wash-trading thresholds: both directions need at least two trades, and
// the smaller direction must be within 40% of the larger by ratio.
const (
	minPairTrades        = 2
	washRatioPct         = 60
	minBackAndForthCount = 3
)

// Detector runs the manipulation heuristics. Detection is read-only:
// history is never mutated.
type Detector struct {
	history storage.TransactionHistoryStore
	clk     clock.Clock
	metrics *observability.Metrics // optional

	// flaggedPairs memoizes positive wash detections by pair ID until
	// the wash window past the detection elapses.
	mu           sync.Mutex
	flaggedPairs map[string]int64
}

// NewDetector creates a manipulation detector. metrics may be nil.
func NewDetector(history storage.TransactionHistoryStore, clk clock.Clock, metrics *observability.Metrics) *Detector {
	return &Detector{
		history:      history,
		clk:          clk,
		metrics:      metrics,
		flaggedPairs: make(map[string]int64),
	}
}

// DetectWashTrading reports whether account and counterparty show
// reciprocal trading: balanced bidirectional trade counts, or at least
// three back-and-forth trades inside the wash window.
func (d *Detector) DetectWashTrading(ctx context.Context, cfg domain.EconomicConfig, acct, counterparty string) (bool, error) {
	if acct == "" || counterparty == "" || acct == counterparty {
		return false, nil
	}

	pairID := account.PairID(acct, counterparty)
	if d.pairFlagged(pairID) {
		return true, nil
	}

	outbound, err := d.pairTrades(ctx, acct, counterparty)
	if err != nil {
		return false, err
	}
	inbound, err := d.pairTrades(ctx, counterparty, acct)
	if err != nil {
		return false, err
	}

	now := d.clk.Now()
	windowSecs := int64(cfg.WashTradeWindow.Seconds())

	if balancedCounts(int64(len(outbound)), int64(len(inbound))) {
		d.flagPair(pairID, now+windowSecs)
		return d.report(KindWashTrading), nil
	}

	// Back-and-forth burst: enough trades in both directions inside the
	// window.
	var recentOut, recentIn int64
	for _, r := range outbound {
		if now-r.Timestamp <= windowSecs {
			recentOut++
		}
	}
	for _, r := range inbound {
		if now-r.Timestamp <= windowSecs {
			recentIn++
		}
	}
	if recentOut+recentIn >= minBackAndForthCount && recentOut > 0 && recentIn > 0 {
		d.flagPair(pairID, now+windowSecs)
		return d.report(KindWashTrading), nil
	}

	return false, nil
}

// pairFlagged reports whether the pair has an unexpired positive
// detection. Expired entries are dropped on the way.
func (d *Detector) pairFlagged(pairID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	expiry, ok := d.flaggedPairs[pairID]
	if !ok {
		return false
	}
	if d.clk.Now() >= expiry {
		delete(d.flaggedPairs, pairID)
		return false
	}
	return true
}

func (d *Detector) flagPair(pairID string, expiry int64) {
	d.mu.Lock()
	d.flaggedPairs[pairID] = expiry
	d.mu.Unlock()
}

// DetectFrontRunning reports whether the account's most recent
// transaction looks like positioning ahead of the current one: more than
// twice the size, inside the front-running window, and of a different
// type.
func (d *Detector) DetectFrontRunning(ctx context.Context, cfg domain.EconomicConfig, acct string, amount fixedpoint.Value, txType domain.TransactionType) (bool, error) {
	recent, err := d.history.Recent(ctx, acct, 1)
	if err != nil {
		return false, fmt.Errorf("get history: %w", err)
	}
	if len(recent) == 0 {
		return false, nil
	}
	last := recent[len(recent)-1]

	if d.clk.Now()-last.Timestamp > int64(cfg.FrontRunningWindow.Seconds()) {
		return false, nil
	}
	if last.Type == txType {
		return false, nil
	}
	if last.Amount.Cmp(amount.MulInt(2)) <= 0 {
		return false, nil
	}
	return d.report(KindFrontRunning), nil
}

// DetectPumpAndDump reports whether a sell looks like the dump phase of
// an accumulation pattern: at least five buys and at most two sells in
// the trailing window, with the sell exceeding five times the average
// buy.
func (d *Detector) DetectPumpAndDump(ctx context.Context, cfg domain.EconomicConfig, acct string, amount fixedpoint.Value, txType domain.TransactionType) (bool, error) {
	if txType != domain.TxSell {
		return false, nil
	}

	recent, err := d.history.Recent(ctx, acct, 0)
	if err != nil {
		return false, fmt.Errorf("get history: %w", err)
	}

	now := d.clk.Now()
	windowSecs := int64(cfg.PumpDumpWindow.Seconds())
	var buys, sells int64
	var buySum fixedpoint.Value
	for _, r := range recent {
		if now-r.Timestamp > windowSecs {
			continue
		}
		switch r.Type {
		case domain.TxBuy:
			buys++
			buySum = buySum.Add(r.Amount)
		case domain.TxSell:
			sells++
		}
	}

	if buys < 5 || sells > 2 {
		return false, nil
	}
	avgBuy, err := buySum.DivDown(fixedpoint.FromInt(buys))
	if err != nil || avgBuy.Sign() <= 0 {
		return false, nil
	}
	if amount.Cmp(avgBuy.MulInt(5)) <= 0 {
		return false, nil
	}
	return d.report(KindPumpAndDump), nil
}

// pairTrades returns all retained trades from acct to counterparty.
func (d *Detector) pairTrades(ctx context.Context, acct, counterparty string) ([]*domain.TransactionRecord, error) {
	recent, err := d.history.Recent(ctx, acct, 0)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	var out []*domain.TransactionRecord
	for _, r := range recent {
		if r.Counterparty == counterparty {
			out = append(out, r)
		}
	}
	return out, nil
}

// balancedCounts reports whether both directions have at least
// minPairTrades trades and the smaller is within 40% of the larger.
func balancedCounts(a, b int64) bool {
	if a < minPairTrades || b < minPairTrades {
		return false
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo*100/hi >= washRatioPct
}

// report counts a positive detection and returns true.
func (d *Detector) report(kind string) bool {
	if d.metrics != nil {
		d.metrics.ManipulationDetected.WithLabelValues(kind).Inc()
	}
	return true
}
