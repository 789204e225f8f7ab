package clickhouse

import (
	"context"
	"fmt"
	"sync"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// GoldMetricsStore implements storage.GoldMetricsStore. The current
// snapshot is held in memory behind a mutex, since it is ephemeral state
// the feed rebuilds within one update interval after a restart. Every
// accepted observation is persisted to ClickHouse for analytics.
type GoldMetricsStore struct {
	conn *Conn

	mu       sync.RWMutex
	snapshot domain.GoldPegMetrics
	set      bool
}

// NewGoldMetricsStore creates a new GoldMetricsStore.
func NewGoldMetricsStore(conn *Conn) *GoldMetricsStore {
	return &GoldMetricsStore{conn: conn}
}

// Compile-time interface check.
var _ storage.GoldMetricsStore = (*GoldMetricsStore)(nil)

// Get retrieves the current snapshot. Returns ErrNotFound before the
// first accepted update.
func (s *GoldMetricsStore) Get(_ context.Context) (domain.GoldPegMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return domain.GoldPegMetrics{}, storage.ErrNotFound
	}
	return s.snapshot, nil
}

// Swap atomically replaces the snapshot.
func (s *GoldMetricsStore) Swap(_ context.Context, metrics domain.GoldPegMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = metrics
	s.set = true
	return nil
}

// AppendObservation records an accepted feed update.
func (s *GoldMetricsStore) AppendObservation(ctx context.Context, obs *domain.PriceObservation) error {
	if obs == nil {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO gold_observations (
			ts, price, moving_average, std_dev, deviation, confidence
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		obs.Timestamp, encodeFixed(obs.Price), encodeFixed(obs.MovingAverage),
		encodeFixed(obs.StdDev), encodeFixed(obs.Deviation), encodeFixed(obs.Confidence),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ObservationsSince retrieves observations at or after ts, ascending.
func (s *GoldMetricsStore) ObservationsSince(ctx context.Context, ts int64) ([]*domain.PriceObservation, error) {
	query := `
		SELECT ts, price, moving_average, std_dev, deviation, confidence
		FROM gold_observations
		WHERE ts >= ?
		ORDER BY ts ASC
	`

	rows, err := s.conn.Query(ctx, query, ts)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []*domain.PriceObservation
	for rows.Next() {
		var (
			o                        domain.PriceObservation
			price, ma, sd, dev, conf string
		)
		if err := rows.Scan(&o.Timestamp, &price, &ma, &sd, &dev, &conf); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		if o.Price, err = decodeFixed(price); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		if o.MovingAverage, err = decodeFixed(ma); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		if o.StdDev, err = decodeFixed(sd); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		if o.Deviation, err = decodeFixed(dev); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		if o.Confidence, err = decodeFixed(conf); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observation rows: %w", err)
	}
	return out, nil
}
