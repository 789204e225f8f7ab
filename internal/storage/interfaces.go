package storage

import (
	"context"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
)

// RiskProfileStore provides access to per-account risk profiles. Only the
// latest snapshot per account is retained.
type RiskProfileStore interface {
	// Get retrieves the profile for an account. Returns ErrNotFound if
	// the account has never been analyzed.
	Get(ctx context.Context, account string) (*domain.AccountRiskProfile, error)

	// Put stores the latest profile snapshot, creating or replacing it.
	Put(ctx context.Context, profile *domain.AccountRiskProfile) error
}

// DemurrageStateStore provides access to per-account demurrage state.
type DemurrageStateStore interface {
	// Get retrieves the demurrage state. Returns ErrNotFound if the
	// account has no state yet.
	Get(ctx context.Context, account string) (*domain.DemurrageAccountState, error)

	// Put stores the state, creating or replacing it.
	Put(ctx context.Context, state *domain.DemurrageAccountState) error
}

// TransactionHistoryStore provides bounded per-account transaction
// history. Each account retains at most domain.HistoryCapacity records;
// appending beyond capacity evicts the oldest record.
type TransactionHistoryStore interface {
	// Append adds a record, evicting the oldest if at capacity.
	Append(ctx context.Context, record *domain.TransactionRecord) error

	// Recent retrieves up to limit most-recent records for an account,
	// ordered by timestamp ASC. limit <= 0 means all retained records.
	Recent(ctx context.Context, acct string, limit int) ([]*domain.TransactionRecord, error)
}

// ConfigStore holds the singleton economic configuration. Updates are
// whole-struct swaps guarded by the version number: a swap whose version
// is not exactly current+1 fails with ErrStaleVersion.
type ConfigStore interface {
	// Get retrieves the current configuration.
	Get(ctx context.Context) (domain.EconomicConfig, error)

	// Swap replaces the configuration. cfg.Version must equal the stored
	// version plus one.
	Swap(ctx context.Context, cfg domain.EconomicConfig) error
}

// GoldMetricsStore holds the singleton gold-peg snapshot plus an
// append-only history of accepted observations.
type GoldMetricsStore interface {
	// Get retrieves the current snapshot. Returns ErrNotFound before the
	// first accepted update.
	Get(ctx context.Context) (domain.GoldPegMetrics, error)

	// Swap atomically replaces the snapshot.
	Swap(ctx context.Context, metrics domain.GoldPegMetrics) error

	// AppendObservation records an accepted feed update for analytics.
	AppendObservation(ctx context.Context, obs *domain.PriceObservation) error
}

// AssessmentStore is the append-only audit trail of analyzed
// transactions.
type AssessmentStore interface {
	// Append records an assessment. Records are never updated.
	Append(ctx context.Context, a *domain.RiskAssessment) error

	// RecentByAccount retrieves up to limit most-recent assessments for
	// an account, ordered by timestamp ASC.
	RecentByAccount(ctx context.Context, account string, limit int) ([]*domain.RiskAssessment, error)
}
