package memory

import (
	"context"
	"sync"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// AssessmentStore is an in-memory implementation of
// storage.AssessmentStore.
type AssessmentStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.RiskAssessment
}

// NewAssessmentStore creates a new in-memory assessment store.
func NewAssessmentStore() *AssessmentStore {
	return &AssessmentStore{data: make(map[string][]*domain.RiskAssessment)}
}

// Compile-time interface check.
var _ storage.AssessmentStore = (*AssessmentStore)(nil)

// Append records an assessment. Records are never updated.
func (s *AssessmentStore) Append(_ context.Context, a *domain.RiskAssessment) error {
	if a == nil || a.Account == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	cp.Flags = append([]domain.Flag(nil), a.Flags...)
	s.data[a.Account] = append(s.data[a.Account], &cp)
	return nil
}

// RecentByAccount retrieves up to limit most-recent assessments, ordered
// by timestamp ASC. limit <= 0 returns all.
func (s *AssessmentStore) RecentByAccount(_ context.Context, account string, limit int) ([]*domain.RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.data[account]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}

	out := make([]*domain.RiskAssessment, len(all))
	for i, a := range all {
		cp := *a
		cp.Flags = append([]domain.Flag(nil), a.Flags...)
		out[i] = &cp
	}
	return out, nil
}
