package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

func TestGoldMetricsStore_SnapshotSwapAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewGoldMetricsStore(conn)

	_, err := store.Get(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	m := domain.GoldPegMetrics{
		Price:          fixedpoint.FromInt(2004),
		MovingAverage:  fixedpoint.FromInt(2000),
		StdDev:         fixedpoint.FromInt(2),
		Deviation:      fixedpoint.FromInt(2),
		MarketPressure: fixedpoint.Zero(),
		UpdatedAt:      1_700_000_000,
	}
	require.NoError(t, store.Swap(ctx, m))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Price.Cmp(m.Price))
	assert.Equal(t, 0, got.Deviation.Cmp(m.Deviation))
	assert.Equal(t, m.UpdatedAt, got.UpdatedAt)
}

func TestGoldMetricsStore_AppendAndReadObservations(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewGoldMetricsStore(conn)

	for i := 0; i < 3; i++ {
		err := store.AppendObservation(ctx, &domain.PriceObservation{
			Timestamp:     1_700_000_000 + int64(i*60),
			Price:         fixedpoint.FromInt(2000 + int64(i)),
			MovingAverage: fixedpoint.FromInt(2000),
			StdDev:        fixedpoint.FromInt(2),
			Deviation:     fixedpoint.FromInt(int64(i)),
			Confidence:    fixedpoint.One(),
		})
		require.NoError(t, err)
	}

	all, err := store.ObservationsSince(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1_700_000_000), all[0].Timestamp)
	assert.Equal(t, 0, all[2].Price.Cmp(fixedpoint.FromInt(2002)))

	recent, err := store.ObservationsSince(ctx, 1_700_000_060)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestGoldMetricsStore_AppendObservationInvalidInput(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewGoldMetricsStore(conn)

	err := store.AppendObservation(context.Background(), nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
