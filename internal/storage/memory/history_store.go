package memory

import (
	"context"
	"sync"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// HistoryStore is an in-memory implementation of
// storage.TransactionHistoryStore backed by fixed-capacity ring buffers.
// Insertion and eviction are O(1).
type HistoryStore struct {
	mu    sync.RWMutex
	rings map[string]*ring
}

// NewHistoryStore creates a new in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{rings: make(map[string]*ring)}
}

// Compile-time interface check.
var _ storage.TransactionHistoryStore = (*HistoryStore)(nil)

// ring is a circular buffer of transaction records. next points at the
// slot the next append overwrites.
type ring struct {
	buf  [domain.HistoryCapacity]*domain.TransactionRecord
	next int
	size int
}

func (r *ring) append(rec *domain.TransactionRecord) {
	r.buf[r.next] = rec
	r.next = (r.next + 1) % domain.HistoryCapacity
	if r.size < domain.HistoryCapacity {
		r.size++
	}
}

// inOrder returns records oldest-first.
func (r *ring) inOrder() []*domain.TransactionRecord {
	out := make([]*domain.TransactionRecord, 0, r.size)
	start := r.next - r.size
	if start < 0 {
		start += domain.HistoryCapacity
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%domain.HistoryCapacity])
	}
	return out
}

// Append adds a record, evicting the oldest if the account is at capacity.
func (s *HistoryStore) Append(_ context.Context, record *domain.TransactionRecord) error {
	if record == nil || record.Account == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rings[record.Account]
	if !ok {
		r = &ring{}
		s.rings[record.Account] = r
	}
	cp := *record
	r.append(&cp)
	return nil
}

// Recent retrieves up to limit most-recent records, ordered by timestamp
// ASC. limit <= 0 returns all retained records.
func (s *HistoryStore) Recent(_ context.Context, acct string, limit int) ([]*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rings[acct]
	if !ok {
		return nil, nil
	}

	all := r.inOrder()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}

	out := make([]*domain.TransactionRecord, len(all))
	for i, rec := range all {
		cp := *rec
		out[i] = &cp
	}
	return out, nil
}
