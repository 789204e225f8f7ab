package manipulation

import (
	"context"
	"testing"
	"time"

	"github.com/hypermesh-online/caesar-sub000/internal/clock"
	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
	"github.com/hypermesh-online/caesar-sub000/internal/storage/memory"
)

const testStart = int64(1_700_000_000)

func newDetector(t *testing.T) (*Detector, *memory.HistoryStore, *clock.Fake) {
	t.Helper()
	history := memory.NewHistoryStore()
	clk := clock.NewFake(testStart)
	return NewDetector(history, clk, nil), history, clk
}

func seed(t *testing.T, history *memory.HistoryStore, acct string, ts int64, amount int64, typ domain.TransactionType, cp string) {
	t.Helper()
	err := history.Append(context.Background(), &domain.TransactionRecord{
		Account:      acct,
		Timestamp:    ts,
		Amount:       fixedpoint.FromInt(amount),
		Type:         typ,
		Counterparty: cp,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestDetectWashTrading_BalancedReciprocalTrades(t *testing.T) {
	det, history, _ := newDetector(t)
	cfg := domain.DefaultConfig()
	ctx := context.Background()

	// 5 trades each way over a couple of days: 100% ratio.
	for i := int64(0); i < 5; i++ {
		seed(t, history, "A", testStart-172800+i*7200, 100, domain.TxTransfer, "B")
		seed(t, history, "B", testStart-172800+i*7200+600, 100, domain.TxTransfer, "A")
	}

	got, err := det.DetectWashTrading(ctx, cfg, "A", "B")
	if err != nil {
		t.Fatalf("DetectWashTrading: %v", err)
	}
	if !got {
		t.Error("5/5 reciprocal trades should flag wash trading")
	}
}

func TestDetectWashTrading_LopsidedRatio(t *testing.T) {
	det, history, _ := newDetector(t)
	cfg := domain.DefaultConfig()
	ctx := context.Background()

	// 10 one way, 1 back: 10% ratio, and the lone return trade is old so
	// no back-and-forth burst either.
	for i := int64(0); i < 10; i++ {
		seed(t, history, "A", testStart-172800+i*7200, 100, domain.TxTransfer, "B")
	}
	seed(t, history, "B", testStart-172800, 100, domain.TxTransfer, "A")

	got, err := det.DetectWashTrading(ctx, cfg, "A", "B")
	if err != nil {
		t.Fatalf("DetectWashTrading: %v", err)
	}
	if got {
		t.Error("10/1 reciprocal trades should not flag wash trading")
	}
}

func TestDetectWashTrading_BackAndForthBurst(t *testing.T) {
	det, history, _ := newDetector(t)
	cfg := domain.DefaultConfig()
	ctx := context.Background()

	// Counts are unbalanced (2 vs 1 below the pair minimum on one side),
	// but three trades bounce inside the last hour.
	seed(t, history, "A", testStart-1800, 100, domain.TxTransfer, "B")
	seed(t, history, "B", testStart-1200, 100, domain.TxTransfer, "A")
	seed(t, history, "A", testStart-600, 100, domain.TxTransfer, "B")

	got, err := det.DetectWashTrading(ctx, cfg, "A", "B")
	if err != nil {
		t.Fatalf("DetectWashTrading: %v", err)
	}
	if !got {
		t.Error("3 back-and-forth trades within the hour should flag wash trading")
	}
}

func TestDetectWashTrading_FlaggedPairPersistsForWindow(t *testing.T) {
	det, history, clk := newDetector(t)
	cfg := domain.DefaultConfig()
	ctx := context.Background()

	// Burst trades just inside the window at detection time; they age
	// out of the window shortly after.
	seed(t, history, "A", testStart-3590, 100, domain.TxTransfer, "B")
	seed(t, history, "B", testStart-3580, 100, domain.TxTransfer, "A")
	seed(t, history, "B", testStart-3570, 100, domain.TxTransfer, "A")

	got, err := det.DetectWashTrading(ctx, cfg, "A", "B")
	if err != nil {
		t.Fatalf("DetectWashTrading: %v", err)
	}
	if !got {
		t.Fatal("burst inside window should flag wash trading")
	}

	// The trades are now stale, but the pair stays flagged until a full
	// window past the detection.
	clk.Advance(time.Minute)
	got, err = det.DetectWashTrading(ctx, cfg, "A", "B")
	if err != nil {
		t.Fatalf("DetectWashTrading: %v", err)
	}
	if !got {
		t.Error("flagged pair should stay flagged inside the wash window")
	}

	clk.Advance(cfg.WashTradeWindow)
	got, err = det.DetectWashTrading(ctx, cfg, "A", "B")
	if err != nil {
		t.Fatalf("DetectWashTrading: %v", err)
	}
	if got {
		t.Error("flag should expire a window after detection")
	}
}

func TestDetectWashTrading_NoCounterparty(t *testing.T) {
	det, _, _ := newDetector(t)
	cfg := domain.DefaultConfig()

	got, err := det.DetectWashTrading(context.Background(), cfg, "A", "")
	if err != nil {
		t.Fatalf("DetectWashTrading: %v", err)
	}
	if got {
		t.Error("empty counterparty should never flag")
	}
}

func TestDetectFrontRunning(t *testing.T) {
	cfg := domain.DefaultConfig()
	ctx := context.Background()

	tests := []struct {
		name       string
		lastAmount int64
		lastAge    time.Duration
		lastType   domain.TransactionType
		curAmount  int64
		curType    domain.TransactionType
		want       bool
	}{
		{"classic front run", 5000, time.Minute, domain.TxBuy, 1000, domain.TxSell, true},
		{"too small", 1500, time.Minute, domain.TxBuy, 1000, domain.TxSell, false},
		{"too old", 5000, time.Hour, domain.TxBuy, 1000, domain.TxSell, false},
		{"same type", 5000, time.Minute, domain.TxSell, 1000, domain.TxSell, false},
		{"exactly double is not enough", 2000, time.Minute, domain.TxBuy, 1000, domain.TxSell, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, history, clk := newDetector(t)
			seed(t, history, "A", clk.Now()-int64(tt.lastAge.Seconds()), tt.lastAmount, tt.lastType, "")

			got, err := det.DetectFrontRunning(ctx, cfg, "A", fixedpoint.FromInt(tt.curAmount), tt.curType)
			if err != nil {
				t.Fatalf("DetectFrontRunning: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectFrontRunning_EmptyHistory(t *testing.T) {
	det, _, _ := newDetector(t)
	cfg := domain.DefaultConfig()

	got, err := det.DetectFrontRunning(context.Background(), cfg, "A", fixedpoint.FromInt(100), domain.TxSell)
	if err != nil {
		t.Fatalf("DetectFrontRunning: %v", err)
	}
	if got {
		t.Error("no history should never flag")
	}
}

func TestDetectPumpAndDump(t *testing.T) {
	cfg := domain.DefaultConfig()
	ctx := context.Background()

	setup := func(t *testing.T, buys, sells int) (*Detector, *memory.HistoryStore) {
		det, history, _ := newDetector(t)
		ts := testStart - 43200
		for i := 0; i < buys; i++ {
			seed(t, history, "A", ts+int64(i)*600, 100, domain.TxBuy, "")
		}
		for i := 0; i < sells; i++ {
			seed(t, history, "A", ts+10_000+int64(i)*600, 50, domain.TxSell, "")
		}
		return det, history
	}

	t.Run("dump after accumulation", func(t *testing.T) {
		det, _ := setup(t, 6, 1)
		got, err := det.DetectPumpAndDump(ctx, cfg, "A", fixedpoint.FromInt(1000), domain.TxSell)
		if err != nil {
			t.Fatalf("DetectPumpAndDump: %v", err)
		}
		if !got {
			t.Error("large sell after 6 buys should flag")
		}
	})

	t.Run("not a sell", func(t *testing.T) {
		det, _ := setup(t, 6, 1)
		got, err := det.DetectPumpAndDump(ctx, cfg, "A", fixedpoint.FromInt(1000), domain.TxBuy)
		if err != nil {
			t.Fatalf("DetectPumpAndDump: %v", err)
		}
		if got {
			t.Error("buys never flag as dumps")
		}
	})

	t.Run("too few buys", func(t *testing.T) {
		det, _ := setup(t, 3, 0)
		got, err := det.DetectPumpAndDump(ctx, cfg, "A", fixedpoint.FromInt(1000), domain.TxSell)
		if err != nil {
			t.Fatalf("DetectPumpAndDump: %v", err)
		}
		if got {
			t.Error("3 buys is below the accumulation threshold")
		}
	})

	t.Run("too many sells already", func(t *testing.T) {
		det, _ := setup(t, 6, 3)
		got, err := det.DetectPumpAndDump(ctx, cfg, "A", fixedpoint.FromInt(1000), domain.TxSell)
		if err != nil {
			t.Fatalf("DetectPumpAndDump: %v", err)
		}
		if got {
			t.Error("3 prior sells means this is not a single dump")
		}
	})

	t.Run("sell not large enough", func(t *testing.T) {
		det, _ := setup(t, 6, 1)
		got, err := det.DetectPumpAndDump(ctx, cfg, "A", fixedpoint.FromInt(400), domain.TxSell)
		if err != nil {
			t.Fatalf("DetectPumpAndDump: %v", err)
		}
		if got {
			t.Error("sell at 4x average buy is below the 5x threshold")
		}
	})
}
