package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// ConfigStore implements storage.ConfigStore using PostgreSQL. Every
// accepted configuration is a new row keyed by version, so the table
// doubles as the config change log.
type ConfigStore struct {
	pool *Pool
}

// NewConfigStore creates a new ConfigStore.
func NewConfigStore(pool *Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ConfigStore = (*ConfigStore)(nil)

const configColumns = `
	version,
	base_demurrage_rate, min_demurrage_rate, max_demurrage_rate,
	very_stable_threshold, very_unstable_threshold, fiat_activity_discount,
	grace_period_secs, base_penalty_rate, max_penalty_rate,
	large_transaction_units, market_impact_threshold, assumed_market_depth,
	front_running_window_secs, wash_trade_window_secs, pump_dump_window_secs,
	circuit_breaker_cooldown_secs, feed_confidence_threshold, base_transaction_fee
`

// Get retrieves the current (highest-version) configuration. Returns
// ErrNotFound before the first swap.
func (s *ConfigStore) Get(ctx context.Context) (domain.EconomicConfig, error) {
	query := `SELECT` + configColumns + `
		FROM economic_configs
		ORDER BY version DESC
		LIMIT 1
	`

	cfg, err := scanConfig(s.pool.QueryRow(ctx, query))
	if err != nil {
		if isNotFoundError(err) {
			return domain.EconomicConfig{}, storage.ErrNotFound
		}
		return domain.EconomicConfig{}, fmt.Errorf("get config: %w", err)
	}
	return cfg, nil
}

// Swap installs cfg as the new current configuration. cfg.Version must
// equal the stored version plus one (or 1 with no prior rows); anything
// else fails with ErrStaleVersion, including races lost to a concurrent
// swap of the same version.
func (s *ConfigStore) Swap(ctx context.Context, cfg domain.EconomicConfig) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current uint64
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM economic_configs`).Scan(&current)
	if err != nil {
		return fmt.Errorf("read config version: %w", err)
	}
	if cfg.Version != current+1 {
		return storage.ErrStaleVersion
	}

	insert := `INSERT INTO economic_configs (` + configColumns + `) VALUES (
		$1,
		$2, $3, $4,
		$5, $6, $7,
		$8, $9, $10,
		$11, $12, $13,
		$14, $15, $16,
		$17, $18, $19
	)`

	_, err = tx.Exec(ctx, insert,
		cfg.Version,
		encodeFixed(cfg.BaseDemurrageRate), encodeFixed(cfg.MinDemurrageRate), encodeFixed(cfg.MaxDemurrageRate),
		encodeFixed(cfg.VeryStableThreshold), encodeFixed(cfg.VeryUnstableThreshold), encodeFixed(cfg.FiatActivityDiscount),
		int64(cfg.GracePeriod.Seconds()), encodeFixed(cfg.BasePenaltyRate), encodeFixed(cfg.MaxPenaltyRate),
		cfg.LargeTransactionUnits, encodeFixed(cfg.MarketImpactThreshold), cfg.AssumedMarketDepth,
		int64(cfg.FrontRunningWindow.Seconds()), int64(cfg.WashTradeWindow.Seconds()), int64(cfg.PumpDumpWindow.Seconds()),
		int64(cfg.CircuitBreakerCooldown.Seconds()), encodeFixed(cfg.FeedConfidenceThreshold), encodeFixed(cfg.BaseTransactionFee),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrStaleVersion
		}
		return fmt.Errorf("insert config: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanConfig(row pgx.Row) (domain.EconomicConfig, error) {
	var (
		cfg domain.EconomicConfig

		baseRate, minRate, maxRate     string
		stable, unstable, fiatDiscount string
		basePenalty, maxPenalty        string
		impactThreshold, feedConf, fee string
		graceSecs, frontSecs, washSecs int64
		pumpSecs, cooldownSecs         int64
	)

	err := row.Scan(
		&cfg.Version,
		&baseRate, &minRate, &maxRate,
		&stable, &unstable, &fiatDiscount,
		&graceSecs, &basePenalty, &maxPenalty,
		&cfg.LargeTransactionUnits, &impactThreshold, &cfg.AssumedMarketDepth,
		&frontSecs, &washSecs, &pumpSecs,
		&cooldownSecs, &feedConf, &fee,
	)
	if err != nil {
		return domain.EconomicConfig{}, err
	}

	if cfg.BaseDemurrageRate, err = decodeFixed(baseRate); err != nil {
		return domain.EconomicConfig{}, err
	}
	if cfg.MinDemurrageRate, err = decodeFixed(minRate); err != nil {
		return domain.EconomicConfig{}, err
	}
	if cfg.MaxDemurrageRate, err = decodeFixed(maxRate); err != nil {
		return domain.EconomicConfig{}, err
	}
	if cfg.VeryStableThreshold, err = decodeFixed(stable); err != nil {
		return domain.EconomicConfig{}, err
	}
	if cfg.VeryUnstableThreshold, err = decodeFixed(unstable); err != nil {
		return domain.EconomicConfig{}, err
	}
	if cfg.FiatActivityDiscount, err = decodeFixed(fiatDiscount); err != nil {
		return domain.EconomicConfig{}, err
	}
	if cfg.BasePenaltyRate, err = decodeFixed(basePenalty); err != nil {
		return domain.EconomicConfig{}, err
	}
	if cfg.MaxPenaltyRate, err = decodeFixed(maxPenalty); err != nil {
		return domain.EconomicConfig{}, err
	}
	if cfg.MarketImpactThreshold, err = decodeFixed(impactThreshold); err != nil {
		return domain.EconomicConfig{}, err
	}
	if cfg.FeedConfidenceThreshold, err = decodeFixed(feedConf); err != nil {
		return domain.EconomicConfig{}, err
	}
	if cfg.BaseTransactionFee, err = decodeFixed(fee); err != nil {
		return domain.EconomicConfig{}, err
	}

	cfg.GracePeriod = time.Duration(graceSecs) * time.Second
	cfg.FrontRunningWindow = time.Duration(frontSecs) * time.Second
	cfg.WashTradeWindow = time.Duration(washSecs) * time.Second
	cfg.PumpDumpWindow = time.Duration(pumpSecs) * time.Second
	cfg.CircuitBreakerCooldown = time.Duration(cooldownSecs) * time.Second
	return cfg, nil
}
