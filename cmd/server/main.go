// Package main runs the economic engine as a long-lived service:
// - Feed ingestion (continuous): gold quote WebSocket, peg metric updates
// - Transaction API: risk analysis, demurrage, fees, config over HTTP/JSON
// - Observability: Prometheus metrics, health, status
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/hypermesh-online/caesar-sub000/internal/clock"
	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/engine"
	"github.com/hypermesh-online/caesar-sub000/internal/feed"
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
	"github.com/hypermesh-online/caesar-sub000/internal/observability"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
	chstore "github.com/hypermesh-online/caesar-sub000/internal/storage/clickhouse"
	"github.com/hypermesh-online/caesar-sub000/internal/storage/memory"
	"github.com/hypermesh-online/caesar-sub000/internal/storage/migrations"
	pgstore "github.com/hypermesh-online/caesar-sub000/internal/storage/postgres"
)

// Server holds all components of the engine service.
type Server struct {
	// Configuration
	feedEndpoint  string
	postgresDSN   string
	clickhouseDSN string
	useMemory     bool
	feedInterval  time.Duration

	// Components
	engine     *engine.Engine
	feedClient *feed.WSClient
	logger     *log.Logger

	// State
	mu          sync.Mutex
	started     time.Time
	feedUpdates int
	feedRejects int
	txProcessed int
}

// allStores holds the storage implementations the engine runs over.
type allStores struct {
	configStore     storage.ConfigStore
	profileStore    storage.RiskProfileStore
	demurrageStore  storage.DemurrageStateStore
	historyStore    storage.TransactionHistoryStore
	goldStore       storage.GoldMetricsStore
	assessmentStore storage.AssessmentStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	feedEndpoint := flag.String("feed-endpoint", os.Getenv("GOLD_FEED_ENDPOINT"), "Gold price feed WebSocket endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	feedInterval := flag.Duration("feed-interval", 15*time.Second, "Gold peg update interval")
	listenAddr := flag.String("listen-addr", ":8080", "HTTP API address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *feedEndpoint == "" {
		logger.Fatal("--feed-endpoint is required")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Seed default config on first start
	if err := seedConfig(ctx, stores.configStore); err != nil {
		logger.Fatalf("Failed to seed config: %v", err)
	}

	// Connect to the gold price feed
	feedClient, err := feed.NewWSClient(ctx, *feedEndpoint, nil)
	if err != nil {
		logger.Fatalf("Failed to connect to feed %s: %v", *feedEndpoint, err)
	}
	defer feedClient.Close()
	logger.Printf("Connected to gold feed at %s", *feedEndpoint)

	metrics := observability.NewMetrics("", prometheus.DefaultRegisterer)

	eng := engine.New(engine.Options{
		ConfigStore:     stores.configStore,
		ProfileStore:    stores.profileStore,
		DemurrageStore:  stores.demurrageStore,
		HistoryStore:    stores.historyStore,
		GoldStore:       stores.goldStore,
		AssessmentStore: stores.assessmentStore,
		Feed:            feedClient,
		Clock:           clock.System{},
		Metrics:         metrics,
		Logger:          logger,
	})

	// Create server
	server := &Server{
		feedEndpoint:  *feedEndpoint,
		postgresDSN:   *postgresDSN,
		clickhouseDSN: *clickhouseDSN,
		useMemory:     *useMemory,
		feedInterval:  *feedInterval,
		engine:        eng,
		feedClient:    feedClient,
		logger:        logger,
		started:       time.Now(),
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Start HTTP servers
	go server.startMetricsServer(*metricsAddr)
	go server.startAPIServer(*listenAddr)

	// Run the feed update loop
	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// Run drives the periodic gold peg update loop until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.feedInterval)
	defer ticker.Stop()

	s.logger.Printf("Updating gold peg metrics every %v", s.feedInterval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			accepted, err := s.engine.UpdateGoldMetrics(ctx)
			if err != nil {
				if errors.Is(err, feed.ErrNoQuote) {
					s.logger.Println("No feed quote yet, skipping peg update")
					continue
				}
				s.logger.Printf("Gold peg update failed: %v", err)
				continue
			}
			s.mu.Lock()
			if accepted {
				s.feedUpdates++
			} else {
				s.feedRejects++
			}
			s.mu.Unlock()
		}
	}
}

// createStores creates storage implementations based on configuration.
// Returns the stores, a cleanup function, and any error.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		return &allStores{
			configStore:     memory.NewConfigStore(domain.DefaultConfig()),
			profileStore:    memory.NewProfileStore(),
			demurrageStore:  memory.NewDemurrageStateStore(),
			historyStore:    memory.NewHistoryStore(),
			goldStore:       memory.NewGoldMetricsStore(),
			assessmentStore: memory.NewAssessmentStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	cleanup := func() {
		pool.Close()
		conn.Close()
	}

	return &allStores{
		configStore:     pgstore.NewConfigStore(pool),
		profileStore:    pgstore.NewProfileStore(pool),
		demurrageStore:  pgstore.NewDemurrageStateStore(pool),
		historyStore:    pgstore.NewHistoryStore(pool),
		goldStore:       chstore.NewGoldMetricsStore(conn),
		assessmentStore: chstore.NewAssessmentStore(conn),
	}, cleanup, nil
}

// seedConfig installs the default configuration the first time the
// service runs against an empty config store.
func seedConfig(ctx context.Context, store storage.ConfigStore) error {
	_, err := store.Get(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return store.Swap(ctx, domain.DefaultConfig())
}

// startMetricsServer serves health and Prometheus metrics.
func (s *Server) startMetricsServer(addr string) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	s.logger.Printf("Starting metrics server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("Metrics server error: %v", err)
	}
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// parseAmount parses a decimal string into a fixed-point value.
func parseAmount(s string) (fixedpoint.Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fixedpoint.Zero(), fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return fixedpoint.FromDecimal(d), nil
}
