// Package main runs a deterministic offline simulation of the economic
// engine: synthetic accounts trade against a random-walk gold quote over
// in-memory stores, and a summary of risk, penalty, demurrage and peg
// behavior is printed at the end. The same seed always produces the same
// report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hypermesh-online/caesar-sub000/internal/clock"
	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/engine"
	"github.com/hypermesh-online/caesar-sub000/internal/feed"
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
	"github.com/hypermesh-online/caesar-sub000/internal/risk"
	"github.com/hypermesh-online/caesar-sub000/internal/storage/memory"
)

const simStart = 1_750_000_000 // fixed epoch so runs are reproducible

// SimulationReport is the aggregate outcome of one simulation run.
type SimulationReport struct {
	Seed         int64 `json:"seed"`
	Accounts     int   `json:"accounts"`
	Transactions int   `json:"transactions"`
	SimulatedHrs int   `json:"simulated_hours"`

	ScoresLow      int `json:"scores_low"`      // < 300
	ScoresElevated int `json:"scores_elevated"` // 300..699
	ScoresHigh     int `json:"scores_high"`     // 700..899
	ScoresCritical int `json:"scores_critical"` // >= 900
	BreakerTrips   int `json:"breaker_trips"`

	FlagCounts map[string]int `json:"flag_counts"`

	PenaltiesTotal  string `json:"penalties_total"`
	DemurrageTotal  string `json:"demurrage_total"`
	FeedAccepted    int    `json:"feed_accepted"`
	FeedRejected    int    `json:"feed_rejected"`
	FinalGoldPrice  string `json:"final_gold_price"`
	FinalDeviation  string `json:"final_deviation_sigma"`
	HaltTriggered   int    `json:"halt_triggered"`
	RebaseTriggered int    `json:"rebase_triggered"`
}

func main() {
	accounts := flag.Int("accounts", 20, "Number of synthetic accounts")
	transactions := flag.Int("transactions", 500, "Number of transactions to simulate")
	seed := flag.Int64("seed", 1, "Deterministic random seed")
	hours := flag.Int("hours", 72, "Simulated wall-clock span in hours")
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[simulate] ", log.LstdFlags)

	if *accounts < 2 {
		logger.Fatal("--accounts must be at least 2")
	}
	if *transactions < 1 {
		logger.Fatal("--transactions must be at least 1")
	}

	report, err := run(*accounts, *transactions, *seed, *hours, logger)
	if err != nil {
		logger.Fatalf("simulation failed: %v", err)
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
	} else {
		printReport(report)
	}
}

func run(accounts, transactions int, seed int64, hours int, logger *log.Logger) (*SimulationReport, error) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(seed))
	clk := clock.NewFake(simStart)
	quotes := feed.NewStatic()

	eng := engine.New(engine.Options{
		ConfigStore:       memory.NewConfigStore(domain.DefaultConfig()),
		ProfileStore:      memory.NewProfileStore(),
		DemurrageStore:    memory.NewDemurrageStateStore(),
		HistoryStore:      memory.NewHistoryStore(),
		GoldStore:         memory.NewGoldMetricsStore(),
		AssessmentStore:   memory.NewAssessmentStore(),
		Feed:              quotes,
		Clock:             clk,
		Logger:            logger,
		SkipKeyValidation: true,
	})

	report := &SimulationReport{
		Seed:         seed,
		Accounts:     accounts,
		Transactions: transactions,
		SimulatedHrs: hours,
		FlagCounts:   map[string]int{},
	}

	names := make([]string, accounts)
	balances := make([]fixedpoint.Value, accounts)
	for i := range names {
		names[i] = fmt.Sprintf("sim-account-%03d", i)
		balances[i] = fixedpoint.FromInt(int64(1000 + rng.Intn(50_000)))
	}

	// Gold quote random walk around 2000 with slowly drifting moving
	// average; the occasional shock exercises the circuit breakers.
	price := 2000.0
	ma := 2000.0
	stepSecs := int64(hours) * 3600 / int64(transactions)
	if stepSecs < 1 {
		stepSecs = 1
	}
	penalties := fixedpoint.Zero()
	demurrage := fixedpoint.Zero()
	lastSweep := clk.Now()

	for i := 0; i < transactions; i++ {
		clk.Advance(time.Duration(stepSecs) * time.Second)

		price += rng.NormFloat64() * 1.5
		if rng.Intn(200) == 0 {
			price += (rng.Float64() - 0.5) * 40 // shock
		}
		ma = ma*0.99 + price*0.01
		quotes.Set(feed.Quote{
			Price:         fromFloat(price),
			MovingAverage: fromFloat(ma),
			StdDev:        fromFloat(2.0),
			Confidence:    fromFloat(0.95),
			Healthy:       true,
			Timestamp:     clk.Now(),
		})
		accepted, err := eng.UpdateGoldMetrics(ctx)
		if err != nil {
			return nil, fmt.Errorf("gold update: %w", err)
		}
		if accepted {
			report.FeedAccepted++
		} else {
			report.FeedRejected++
		}

		breakers, err := eng.CheckCircuitBreakers(ctx, fromFloat(price))
		if err != nil {
			return nil, fmt.Errorf("breakers: %w", err)
		}
		if breakers.Halt {
			report.HaltTriggered++
		}
		if breakers.Rebase {
			report.RebaseTriggered++
		}

		from := rng.Intn(accounts)
		tx := risk.Transaction{
			Account: names[from],
			Amount:  fixedpoint.FromInt(int64(1 + rng.Intn(20_000))),
			Type:    pickType(rng),
		}
		// A slice of traders keeps ping-ponging with a fixed partner,
		// which the wash trade detector should eventually flag.
		if from < accounts/5 && rng.Intn(2) == 0 {
			tx.Counterparty = names[(from+1)%accounts]
		}

		assessment, err := eng.ProcessTransaction(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		tally(report, assessment)
		penalties = penalties.Add(assessment.Penalty)

		// Hourly demurrage sweep over all balances.
		if clk.Now()-lastSweep >= 3600 {
			lastSweep = clk.Now()
			for j, name := range names {
				charged, err := eng.ApplyDemurrage(ctx, name, balances[j])
				if err != nil {
					return nil, fmt.Errorf("demurrage sweep: %w", err)
				}
				balances[j] = balances[j].Sub(charged)
				demurrage = demurrage.Add(charged)
			}
		}
	}

	report.PenaltiesTotal = penalties.String()
	report.DemurrageTotal = demurrage.String()
	report.FinalGoldPrice = fromFloat(price).String()
	deviation, err := eng.DeviationScore(ctx, fromFloat(price))
	if err != nil {
		return nil, fmt.Errorf("deviation: %w", err)
	}
	report.FinalDeviation = deviation.String()

	return report, nil
}

func tally(r *SimulationReport, a *domain.RiskAssessment) {
	switch {
	case a.Score < domain.LowRiskThreshold:
		r.ScoresLow++
	case a.Score < domain.HighRiskThreshold:
		r.ScoresElevated++
	case a.Score < domain.CriticalRiskThreshold:
		r.ScoresHigh++
	default:
		r.ScoresCritical++
	}
	if a.HasFlag(domain.FlagCircuitBreaker) {
		r.BreakerTrips++
	}
	for _, f := range a.Flags {
		r.FlagCounts[string(f)]++
	}
}

func pickType(rng *rand.Rand) domain.TransactionType {
	switch rng.Intn(3) {
	case 0:
		return domain.TxBuy
	case 1:
		return domain.TxSell
	default:
		return domain.TxTransfer
	}
}

func fromFloat(f float64) fixedpoint.Value {
	return fixedpoint.FromDecimal(decimal.NewFromFloat(f))
}

// printReport outputs a human-readable simulation summary.
func printReport(r *SimulationReport) {
	fmt.Println()
	fmt.Println("=== Simulation Report ===")
	fmt.Printf("Seed:               %d\n", r.Seed)
	fmt.Printf("Accounts:           %d\n", r.Accounts)
	fmt.Printf("Transactions:       %d\n", r.Transactions)
	fmt.Printf("Simulated Span:     %dh\n", r.SimulatedHrs)
	fmt.Println()

	fmt.Println("Risk Scores:")
	fmt.Printf("  Low (<300):       %d\n", r.ScoresLow)
	fmt.Printf("  Elevated:         %d\n", r.ScoresElevated)
	fmt.Printf("  High:             %d\n", r.ScoresHigh)
	fmt.Printf("  Critical (>=900): %d\n", r.ScoresCritical)
	fmt.Printf("  Breaker Trips:    %d\n", r.BreakerTrips)
	fmt.Println()

	if len(r.FlagCounts) > 0 {
		fmt.Println("Flags:")
		for flag, n := range r.FlagCounts {
			fmt.Printf("  %-18s%d\n", flag+":", n)
		}
		fmt.Println()
	}

	fmt.Println("Economics:")
	fmt.Printf("  Penalties:        %s\n", r.PenaltiesTotal)
	fmt.Printf("  Demurrage:        %s\n", r.DemurrageTotal)
	fmt.Println()

	fmt.Println("Gold Peg:")
	fmt.Printf("  Feed Accepted:    %d\n", r.FeedAccepted)
	fmt.Printf("  Feed Rejected:    %d\n", r.FeedRejected)
	fmt.Printf("  Final Price:      %s\n", r.FinalGoldPrice)
	fmt.Printf("  Final Deviation:  %s sigma\n", r.FinalDeviation)
	fmt.Printf("  Halts:            %d\n", r.HaltTriggered)
	fmt.Printf("  Rebases:          %d\n", r.RebaseTriggered)
}
