package memory

import (
	"context"
	"sync"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// DemurrageStateStore is an in-memory implementation of
// storage.DemurrageStateStore.
type DemurrageStateStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DemurrageAccountState
}

// NewDemurrageStateStore creates a new in-memory demurrage state store.
func NewDemurrageStateStore() *DemurrageStateStore {
	return &DemurrageStateStore{data: make(map[string]*domain.DemurrageAccountState)}
}

// Compile-time interface check.
var _ storage.DemurrageStateStore = (*DemurrageStateStore)(nil)

// Get retrieves the demurrage state. Returns ErrNotFound if absent.
func (s *DemurrageStateStore) Get(_ context.Context, account string) (*domain.DemurrageAccountState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.data[account]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

// Put stores the state, creating or replacing it.
func (s *DemurrageStateStore) Put(_ context.Context, state *domain.DemurrageAccountState) error {
	if state == nil || state.Account == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *state
	s.data[state.Account] = &cp
	return nil
}
