package engine

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/hypermesh-online/caesar-sub000/internal/account"
	"github.com/hypermesh-online/caesar-sub000/internal/clock"
	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/feed"
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
	"github.com/hypermesh-online/caesar-sub000/internal/risk"
	"github.com/hypermesh-online/caesar-sub000/internal/storage/memory"
)

const testStart = int64(1_700_000_000)

func fp(s string) fixedpoint.Value {
	return fixedpoint.FromDecimal(decimal.RequireFromString(s))
}

func validKey(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base58.Encode(pub)
}

type testEnv struct {
	engine      *Engine
	clk         *clock.Fake
	feed        *feed.Static
	history     *memory.HistoryStore
	assessments *memory.AssessmentStore
	demurrage   *memory.DemurrageStateStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewFake(testStart)
	f := feed.NewStatic()
	history := memory.NewHistoryStore()
	assessments := memory.NewAssessmentStore()
	states := memory.NewDemurrageStateStore()

	eng := New(Options{
		ConfigStore:     memory.NewConfigStore(domain.DefaultConfig()),
		ProfileStore:    memory.NewProfileStore(),
		DemurrageStore:  states,
		HistoryStore:    history,
		GoldStore:       memory.NewGoldMetricsStore(),
		AssessmentStore: assessments,
		Feed:            f,
		Clock:           clk,
	})
	return &testEnv{
		engine:      eng,
		clk:         clk,
		feed:        f,
		history:     history,
		assessments: assessments,
		demurrage:   states,
	}
}

func TestProcessTransactionColdStart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := validKey(t)

	a, err := env.engine.ProcessTransaction(ctx, risk.Transaction{
		Account: acct,
		Amount:  fixedpoint.FromInt(10000),
		Type:    domain.TxBuy,
	})
	if err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}

	if a.Score >= domain.LowRiskThreshold {
		t.Errorf("cold-start score %d should be below %d", a.Score, domain.LowRiskThreshold)
	}
	if a.Penalty.Sign() != 0 {
		t.Errorf("expected zero penalty, got %s", a.Penalty.String())
	}
	if a.Breakdown.Volume < 800 {
		t.Errorf("very large initial transaction should score volume >= 800, got %d", a.Breakdown.Volume)
	}

	// Audit trail records the assessment.
	stored, err := env.assessments.RecentByAccount(ctx, acct, 0)
	if err != nil {
		t.Fatalf("RecentByAccount: %v", err)
	}
	if len(stored) != 1 || stored[0].Score != a.Score {
		t.Errorf("expected 1 stored assessment with score %d, got %+v", a.Score, stored)
	}

	// First sight registers demurrage state with a grace period.
	state, err := env.demurrage.Get(ctx, acct)
	if err != nil {
		t.Fatalf("demurrage state: %v", err)
	}
	if state.GraceUntil <= testStart {
		t.Errorf("expected grace period to extend past now, got %d", state.GraceUntil)
	}
}

func TestProcessTransactionRejectsInvalidAccount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.ProcessTransaction(context.Background(), risk.Transaction{
		Account: "not-a-key",
		Amount:  fixedpoint.FromInt(10),
		Type:    domain.TxTransfer,
	})
	if !errors.Is(err, account.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}

	_, err = env.engine.ProcessTransaction(context.Background(), risk.Transaction{
		Account:      validKey(t),
		Amount:       fixedpoint.FromInt(10),
		Type:         domain.TxTransfer,
		Counterparty: "junk",
	})
	if !errors.Is(err, account.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for counterparty, got %v", err)
	}
}

func TestProcessTransactionRapidFireTripsBreaker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := validKey(t)

	var last *domain.RiskAssessment
	for i := 0; i < 6; i++ {
		a, err := env.engine.ProcessTransaction(ctx, risk.Transaction{
			Account: acct,
			Amount:  fixedpoint.FromInt(100),
			Type:    domain.TxTransfer,
		})
		if err != nil {
			t.Fatalf("tx %d: %v", i, err)
		}
		last = a
	}

	if last.Score != domain.MaxRiskScore {
		t.Errorf("expected score %d after rapid fire, got %d", domain.MaxRiskScore, last.Score)
	}
	if !last.HasFlag(domain.FlagCircuitBreaker) {
		t.Errorf("expected circuit breaker flag, got %v", last.Flags)
	}
}

func TestProcessTransactionMergesWashTradingFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, b := validKey(t), validKey(t)

	// Seed reciprocal history in both directions.
	for i := 0; i < 3; i++ {
		ts := testStart - int64(600-i*60)
		env.history.Append(ctx, &domain.TransactionRecord{
			Account: a, Counterparty: b, Timestamp: ts,
			Amount: fixedpoint.FromInt(100), Type: domain.TxSell,
		})
		env.history.Append(ctx, &domain.TransactionRecord{
			Account: b, Counterparty: a, Timestamp: ts + 30,
			Amount: fixedpoint.FromInt(100), Type: domain.TxBuy,
		})
	}

	got, err := env.engine.ProcessTransaction(ctx, risk.Transaction{
		Account:      a,
		Amount:       fixedpoint.FromInt(100),
		Type:         domain.TxSell,
		Counterparty: b,
	})
	if err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}
	if !got.HasFlag(domain.FlagWashTrading) {
		t.Errorf("expected wash trading flag, got %v", got.Flags)
	}
}

func TestApplyDemurrageThroughFacade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := validKey(t)
	balance := fixedpoint.FromInt(100000)

	// Unknown account: conservative zero, no error.
	got, err := env.engine.ApplyDemurrage(ctx, acct, balance)
	if err != nil {
		t.Fatalf("ApplyDemurrage: %v", err)
	}
	if got.Sign() != 0 {
		t.Errorf("expected zero for unknown account, got %s", got.String())
	}

	// Register via a transaction, then move past the grace period.
	if _, err := env.engine.ProcessTransaction(ctx, risk.Transaction{
		Account: acct,
		Amount:  fixedpoint.FromInt(10),
		Type:    domain.TxTransfer,
	}); err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}
	env.clk.Advance(31 * 24 * time.Hour)

	collected, err := env.engine.ApplyDemurrage(ctx, acct, balance)
	if err != nil {
		t.Fatalf("ApplyDemurrage: %v", err)
	}
	if collected.Sign() <= 0 {
		t.Error("expected positive demurrage after grace period")
	}

	// Second application within the same hour collects nothing.
	again, err := env.engine.ApplyDemurrage(ctx, acct, balance.Sub(collected))
	if err != nil {
		t.Fatalf("ApplyDemurrage: %v", err)
	}
	if again.Sign() != 0 {
		t.Errorf("expected idempotent zero, got %s", again.String())
	}
}

func TestUpdateGoldMetricsFromFeed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No quote yet.
	if _, err := env.engine.UpdateGoldMetrics(ctx); err == nil {
		t.Error("expected error without a quote")
	}

	env.feed.Set(feed.Quote{
		Price:         fp("2004"),
		MovingAverage: fp("2000"),
		StdDev:        fp("2"),
		Confidence:    fp("0.95"),
		Healthy:       true,
		Timestamp:     testStart,
	})

	ok, err := env.engine.UpdateGoldMetrics(ctx)
	if err != nil {
		t.Fatalf("UpdateGoldMetrics: %v", err)
	}
	if !ok {
		t.Fatal("expected accepted update")
	}

	dev, err := env.engine.DeviationScore(ctx, fp("2006"))
	if err != nil {
		t.Fatalf("DeviationScore: %v", err)
	}
	if dev.Cmp(fixedpoint.FromInt(3)) != 0 {
		t.Errorf("expected 3 sigma, got %s", dev.String())
	}

	br, err := env.engine.CheckCircuitBreakers(ctx, fp("2006"))
	if err != nil {
		t.Fatalf("CheckCircuitBreakers: %v", err)
	}
	if !br.Halt || !br.Emergency || br.Rebase {
		t.Errorf("expected halt+emergency at 3 sigma, got %+v", br)
	}

	// A degraded feed is a rejected update, not an error.
	env.feed.Set(feed.Quote{
		Price:         fp("2004"),
		MovingAverage: fp("2000"),
		StdDev:        fp("2"),
		Confidence:    fp("0.1"),
		Healthy:       true,
		Timestamp:     testStart,
	})
	ok, err = env.engine.UpdateGoldMetrics(ctx)
	if err != nil {
		t.Fatalf("UpdateGoldMetrics: %v", err)
	}
	if ok {
		t.Error("low-confidence update should be rejected")
	}
}

func TestUpdateConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bad := domain.DefaultConfig()
	bad.BaseDemurrageRate = fp("0.5")
	bad.MaxDemurrageRate = fp("0.001")
	if err := env.engine.UpdateConfig(ctx, bad); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	before, err := env.engine.Config(ctx)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}

	next := domain.DefaultConfig()
	next.BaseTransactionFee = fp("0.002")
	if err := env.engine.UpdateConfig(ctx, next); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	after, err := env.engine.Config(ctx)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if after.Version != before.Version+1 {
		t.Errorf("expected version %d, got %d", before.Version+1, after.Version)
	}
	if after.BaseTransactionFee.Cmp(fp("0.002")) != 0 {
		t.Errorf("expected new fee to apply, got %s", after.BaseTransactionFee.String())
	}
}
