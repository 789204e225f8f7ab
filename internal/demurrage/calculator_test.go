package demurrage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hypermesh-online/caesar-sub000/internal/clock"
	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
	"github.com/hypermesh-online/caesar-sub000/internal/storage/memory"
)

const testStart = int64(1_700_000_000)

func newTestCalculator(t *testing.T) (*Calculator, *memory.DemurrageStateStore, *memory.GoldMetricsStore, *clock.Fake) {
	t.Helper()
	states := memory.NewDemurrageStateStore()
	metrics := memory.NewGoldMetricsStore()
	clk := clock.NewFake(testStart)
	return New(states, metrics, clk), states, metrics, clk
}

func putState(t *testing.T, states *memory.DemurrageStateStore, st *domain.DemurrageAccountState) {
	t.Helper()
	if err := states.Put(context.Background(), st); err != nil {
		t.Fatalf("Put state: %v", err)
	}
}

func TestCalculate_ZeroCases(t *testing.T) {
	calc, states, _, clk := newTestCalculator(t)
	cfg := domain.DefaultConfig()
	ctx := context.Background()
	balance := fixedpoint.FromInt(1000)

	// Unknown account.
	got, err := calc.Calculate(ctx, cfg, "unknown", balance)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("unknown account: got %s, want 0", got)
	}

	// Exempt account.
	putState(t, states, &domain.DemurrageAccountState{Account: "exempt", LastApplication: testStart - 86400, Exempt: true})
	got, err = calc.Calculate(ctx, cfg, "exempt", balance)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("exempt account: got %s, want 0", got)
	}

	// Zero balance.
	putState(t, states, &domain.DemurrageAccountState{Account: "zero", LastApplication: testStart - 86400})
	got, err = calc.Calculate(ctx, cfg, "zero", fixedpoint.Zero())
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("zero balance: got %s, want 0", got)
	}

	// Within grace period.
	putState(t, states, &domain.DemurrageAccountState{
		Account:         "grace",
		LastApplication: testStart - 86400,
		GraceUntil:      clk.Now() + 3600,
	})
	got, err = calc.Calculate(ctx, cfg, "grace", balance)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("grace period: got %s, want 0", got)
	}

	// Less than one full period elapsed.
	putState(t, states, &domain.DemurrageAccountState{Account: "fresh", LastApplication: testStart - 1800})
	got, err = calc.Calculate(ctx, cfg, "fresh", balance)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("partial period: got %s, want 0", got)
	}
}

func TestCalculate_BaseRateDecay(t *testing.T) {
	calc, states, _, _ := newTestCalculator(t)
	cfg := domain.DefaultConfig()
	ctx := context.Background()

	// 24 hours of holding at the base rate (no gold metrics yet).
	putState(t, states, &domain.DemurrageAccountState{Account: "acct", LastApplication: testStart - 24*3600})
	balance := fixedpoint.FromInt(10_000)

	got, err := calc.Calculate(ctx, cfg, "acct", balance)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	// 10000 * (1 - e^(-0.0001*24)) ≈ 23.97
	want := fixedpoint.FromDecimal(decimal.RequireFromString("23.971227"))
	diff := got.Sub(want).Abs()
	if diff.Cmp(fixedpoint.FromDecimal(decimal.RequireFromString("0.001"))) > 0 {
		t.Errorf("demurrage = %s, want ≈ %s", got, want)
	}
}

func TestCalculate_NeverExceedsHalfBalance(t *testing.T) {
	calc, states, _, _ := newTestCalculator(t)
	cfg := domain.DefaultConfig()
	// Misconfigured-high rate and a decade of elapsed time.
	cfg.BaseDemurrageRate = fixedpoint.FromDecimal(decimal.RequireFromString("0.001"))
	cfg.MaxDemurrageRate = fixedpoint.FromDecimal(decimal.RequireFromString("0.5"))
	ctx := context.Background()

	putState(t, states, &domain.DemurrageAccountState{Account: "acct", LastApplication: testStart - 10*365*24*3600})
	balance := fixedpoint.FromInt(1000)

	got, err := calc.Calculate(ctx, cfg, "acct", balance)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	half, _ := balance.DivDown(fixedpoint.FromInt(2))
	if got.Cmp(half) != 0 {
		t.Errorf("demurrage = %s, want exactly half = %s", got, half)
	}
}

func TestCalculate_FiatDiscountLowersDemurrage(t *testing.T) {
	calc, states, _, _ := newTestCalculator(t)
	cfg := domain.DefaultConfig()
	ctx := context.Background()

	putState(t, states, &domain.DemurrageAccountState{Account: "plain", LastApplication: testStart - 48*3600})
	putState(t, states, &domain.DemurrageAccountState{Account: "fiat", LastApplication: testStart - 48*3600, FiatActivityEligible: true})
	balance := fixedpoint.FromInt(10_000)

	plain, err := calc.Calculate(ctx, cfg, "plain", balance)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	fiat, err := calc.Calculate(ctx, cfg, "fiat", balance)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if fiat.Cmp(plain) >= 0 {
		t.Errorf("fiat-discounted demurrage %s should be below plain %s", fiat, plain)
	}
	if fiat.IsZero() {
		t.Error("discount should not zero out demurrage")
	}
}

func TestCalculate_StabilityAdjustsRate(t *testing.T) {
	ctx := context.Background()
	balance := fixedpoint.FromInt(10_000)
	cfg := domain.DefaultConfig()

	run := func(deviation string) fixedpoint.Value {
		calc, states, metrics, _ := newTestCalculator(t)
		putState(t, states, &domain.DemurrageAccountState{Account: "acct", LastApplication: testStart - 24*3600})
		m := domain.GoldPegMetrics{
			Price:         fixedpoint.FromInt(85),
			MovingAverage: fixedpoint.FromInt(84),
			StdDev:        fixedpoint.One(),
			Deviation:     fixedpoint.FromDecimal(decimal.RequireFromString(deviation)),
			UpdatedAt:     testStart,
		}
		if err := metrics.Swap(ctx, m); err != nil {
			t.Fatalf("Swap metrics: %v", err)
		}
		got, err := calc.Calculate(ctx, cfg, "acct", balance)
		if err != nil {
			t.Fatalf("Calculate: %v", err)
		}
		return got
	}

	stable := run("0.1")   // index 0.975 >= 0.8 -> base/4
	middling := run("2.0") // index 0.5 -> interpolated
	unstable := run("3.5") // index 0.125 <= 0.2 -> max rate

	if stable.Cmp(middling) >= 0 {
		t.Errorf("stable demurrage %s should be below middling %s", stable, middling)
	}
	if middling.Cmp(unstable) >= 0 {
		t.Errorf("middling demurrage %s should be below unstable %s", middling, unstable)
	}
}

func TestApply_IdempotentWithinPeriod(t *testing.T) {
	calc, states, _, clk := newTestCalculator(t)
	cfg := domain.DefaultConfig()
	ctx := context.Background()

	putState(t, states, &domain.DemurrageAccountState{Account: "acct", LastApplication: testStart - 24*3600})
	balance := fixedpoint.FromInt(10_000)

	first, err := calc.Apply(ctx, cfg, "acct", balance)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if first.IsZero() {
		t.Fatal("first application should collect demurrage")
	}

	// Second call a half hour later: still inside the same period.
	clk.Advance(30 * time.Minute)
	second, err := calc.Apply(ctx, cfg, "acct", balance)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !second.IsZero() {
		t.Errorf("second application within the period = %s, want 0", second)
	}

	st, err := states.Get(ctx, "acct")
	if err != nil {
		t.Fatalf("Get state: %v", err)
	}
	if st.TotalPaid.Cmp(first) != 0 {
		t.Errorf("TotalPaid = %s, want %s", st.TotalPaid, first)
	}
	if st.LastApplication != testStart {
		t.Errorf("LastApplication = %d, want %d", st.LastApplication, testStart)
	}
}

func TestApply_AccumulatesAcrossPeriods(t *testing.T) {
	calc, states, _, clk := newTestCalculator(t)
	cfg := domain.DefaultConfig()
	ctx := context.Background()

	putState(t, states, &domain.DemurrageAccountState{Account: "acct", LastApplication: testStart - 24*3600})
	balance := fixedpoint.FromInt(10_000)

	first, err := calc.Apply(ctx, cfg, "acct", balance)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	clk.Advance(24 * time.Hour)
	second, err := calc.Apply(ctx, cfg, "acct", balance)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if second.IsZero() {
		t.Fatal("second application after a day should collect demurrage")
	}

	st, err := states.Get(ctx, "acct")
	if err != nil {
		t.Fatalf("Get state: %v", err)
	}
	if st.TotalPaid.Cmp(first.Add(second)) != 0 {
		t.Errorf("TotalPaid = %s, want %s", st.TotalPaid, first.Add(second))
	}
}

func TestRegister_StartsGracePeriod(t *testing.T) {
	calc, states, _, clk := newTestCalculator(t)
	cfg := domain.DefaultConfig()
	ctx := context.Background()

	if err := calc.Register(ctx, cfg, "acct"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	st, err := states.Get(ctx, "acct")
	if err != nil {
		t.Fatalf("Get state: %v", err)
	}
	if st.GraceUntil != clk.Now()+int64(cfg.GracePeriod.Seconds()) {
		t.Errorf("GraceUntil = %d", st.GraceUntil)
	}

	// Registering again must not reset anything.
	st.GraceUntil = 42
	putState(t, states, st)
	if err := calc.Register(ctx, cfg, "acct"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	again, err := states.Get(ctx, "acct")
	if err != nil {
		t.Fatalf("Get state: %v", err)
	}
	if again.GraceUntil != 42 {
		t.Error("Register overwrote existing state")
	}
}
