package memory

import (
	"context"
	"sync"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// GoldMetricsStore is an in-memory implementation of
// storage.GoldMetricsStore. The snapshot is replaced wholesale so readers
// never see a torn state.
type GoldMetricsStore struct {
	mu           sync.RWMutex
	current      domain.GoldPegMetrics
	hasCurrent   bool
	observations []*domain.PriceObservation
}

// NewGoldMetricsStore creates a new in-memory gold metrics store.
func NewGoldMetricsStore() *GoldMetricsStore {
	return &GoldMetricsStore{}
}

// Compile-time interface check.
var _ storage.GoldMetricsStore = (*GoldMetricsStore)(nil)

// Get retrieves the current snapshot. Returns ErrNotFound before the
// first accepted update.
func (s *GoldMetricsStore) Get(_ context.Context) (domain.GoldPegMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasCurrent {
		return domain.GoldPegMetrics{}, storage.ErrNotFound
	}
	return s.current, nil
}

// Swap atomically replaces the snapshot.
func (s *GoldMetricsStore) Swap(_ context.Context, metrics domain.GoldPegMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = metrics
	s.hasCurrent = true
	return nil
}

// AppendObservation records an accepted feed update.
func (s *GoldMetricsStore) AppendObservation(_ context.Context, obs *domain.PriceObservation) error {
	if obs == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *obs
	s.observations = append(s.observations, &cp)
	return nil
}

// Observations returns a copy of all recorded observations, oldest first.
func (s *GoldMetricsStore) Observations() []*domain.PriceObservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.PriceObservation, len(s.observations))
	for i, obs := range s.observations {
		cp := *obs
		out[i] = &cp
	}
	return out
}
