package memory

import (
	"context"
	"sync"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// ProfileStore is an in-memory implementation of storage.RiskProfileStore.
type ProfileStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AccountRiskProfile
}

// NewProfileStore creates a new in-memory profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{data: make(map[string]*domain.AccountRiskProfile)}
}

// Compile-time interface check.
var _ storage.RiskProfileStore = (*ProfileStore)(nil)

// Get retrieves the profile for an account. Returns ErrNotFound if absent.
func (s *ProfileStore) Get(_ context.Context, account string) (*domain.AccountRiskProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[account]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Put stores the latest profile snapshot, creating or replacing it.
func (s *ProfileStore) Put(_ context.Context, profile *domain.AccountRiskProfile) error {
	if profile == nil || profile.Account == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *profile
	s.data[profile.Account] = &cp
	return nil
}
