package postgres

import (
	"context"
	"fmt"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// DemurrageStateStore implements storage.DemurrageStateStore using
// PostgreSQL.
type DemurrageStateStore struct {
	pool *Pool
}

// NewDemurrageStateStore creates a new DemurrageStateStore.
func NewDemurrageStateStore(pool *Pool) *DemurrageStateStore {
	return &DemurrageStateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DemurrageStateStore = (*DemurrageStateStore)(nil)

// Get retrieves the demurrage state. Returns ErrNotFound if the account
// has no state yet.
func (s *DemurrageStateStore) Get(ctx context.Context, account string) (*domain.DemurrageAccountState, error) {
	query := `
		SELECT account, last_application, total_paid, grace_until,
		       exempt, fiat_activity_eligible
		FROM demurrage_states
		WHERE account = $1
	`

	var (
		st   domain.DemurrageAccountState
		paid string
	)
	err := s.pool.QueryRow(ctx, query, account).Scan(
		&st.Account, &st.LastApplication, &paid, &st.GraceUntil,
		&st.Exempt, &st.FiatActivityEligible,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get demurrage state: %w", err)
	}

	st.TotalPaid, err = decodeFixed(paid)
	if err != nil {
		return nil, fmt.Errorf("get demurrage state: %w", err)
	}
	return &st, nil
}

// Put stores the state, creating or replacing it.
func (s *DemurrageStateStore) Put(ctx context.Context, state *domain.DemurrageAccountState) error {
	if state == nil || state.Account == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO demurrage_states (
			account, last_application, total_paid, grace_until,
			exempt, fiat_activity_eligible
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account) DO UPDATE SET
			last_application = EXCLUDED.last_application,
			total_paid = EXCLUDED.total_paid,
			grace_until = EXCLUDED.grace_until,
			exempt = EXCLUDED.exempt,
			fiat_activity_eligible = EXCLUDED.fiat_activity_eligible
	`

	_, err := s.pool.Exec(ctx, query,
		state.Account, state.LastApplication, encodeFixed(state.TotalPaid),
		state.GraceUntil, state.Exempt, state.FiatActivityEligible,
	)
	if err != nil {
		return fmt.Errorf("put demurrage state: %w", err)
	}
	return nil
}
