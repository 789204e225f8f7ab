package memory

import (
	"context"
	"sync"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// ConfigStore is an in-memory implementation of storage.ConfigStore.
// Readers get a copy; writers swap the whole struct under version check.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg domain.EconomicConfig
}

// NewConfigStore creates a config store seeded with the given config.
func NewConfigStore(cfg domain.EconomicConfig) *ConfigStore {
	return &ConfigStore{cfg: cfg}
}

// Compile-time interface check.
var _ storage.ConfigStore = (*ConfigStore)(nil)

// Get retrieves the current configuration.
func (s *ConfigStore) Get(_ context.Context) (domain.EconomicConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, nil
}

// Swap replaces the configuration. cfg.Version must equal the stored
// version plus one; otherwise ErrStaleVersion.
func (s *ConfigStore) Swap(_ context.Context, cfg domain.EconomicConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Version != s.cfg.Version+1 {
		return storage.ErrStaleVersion
	}
	s.cfg = cfg
	return nil
}
