package postgres

import (
	"context"
	"fmt"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// ProfileStore implements storage.RiskProfileStore using PostgreSQL.
type ProfileStore struct {
	pool *Pool
}

// NewProfileStore creates a new ProfileStore.
func NewProfileStore(pool *Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RiskProfileStore = (*ProfileStore)(nil)

// Get retrieves the profile for an account. Returns ErrNotFound if the
// account has never been analyzed.
func (s *ProfileStore) Get(ctx context.Context, account string) (*domain.AccountRiskProfile, error) {
	query := `
		SELECT
			account, score,
			freq_score, volume_score, pattern_score, market_impact_score,
			social_score, behavioral_score, temporal_score,
			total_penalties_paid, flag_count, consecutive_high_risk,
			breaker_active, breaker_expiry, updated_at
		FROM risk_profiles
		WHERE account = $1
	`

	var (
		p       domain.AccountRiskProfile
		penalty string
	)
	err := s.pool.QueryRow(ctx, query, account).Scan(
		&p.Account, &p.Score,
		&p.Breakdown.Frequency, &p.Breakdown.Volume, &p.Breakdown.Pattern,
		&p.Breakdown.MarketImpact, &p.Breakdown.Social, &p.Breakdown.Behavioral,
		&p.Breakdown.Temporal,
		&penalty, &p.FlagCount, &p.ConsecutiveHighRisk,
		&p.BreakerActive, &p.BreakerExpiry, &p.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get risk profile: %w", err)
	}

	p.TotalPenaltiesPaid, err = decodeFixed(penalty)
	if err != nil {
		return nil, fmt.Errorf("get risk profile: %w", err)
	}
	return &p, nil
}

// Put stores the latest profile snapshot, creating or replacing it.
func (s *ProfileStore) Put(ctx context.Context, profile *domain.AccountRiskProfile) error {
	if profile == nil || profile.Account == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO risk_profiles (
			account, score,
			freq_score, volume_score, pattern_score, market_impact_score,
			social_score, behavioral_score, temporal_score,
			total_penalties_paid, flag_count, consecutive_high_risk,
			breaker_active, breaker_expiry, updated_at
		) VALUES (
			$1, $2,
			$3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13, $14, $15
		)
		ON CONFLICT (account) DO UPDATE SET
			score = EXCLUDED.score,
			freq_score = EXCLUDED.freq_score,
			volume_score = EXCLUDED.volume_score,
			pattern_score = EXCLUDED.pattern_score,
			market_impact_score = EXCLUDED.market_impact_score,
			social_score = EXCLUDED.social_score,
			behavioral_score = EXCLUDED.behavioral_score,
			temporal_score = EXCLUDED.temporal_score,
			total_penalties_paid = EXCLUDED.total_penalties_paid,
			flag_count = EXCLUDED.flag_count,
			consecutive_high_risk = EXCLUDED.consecutive_high_risk,
			breaker_active = EXCLUDED.breaker_active,
			breaker_expiry = EXCLUDED.breaker_expiry,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		profile.Account, profile.Score,
		profile.Breakdown.Frequency, profile.Breakdown.Volume, profile.Breakdown.Pattern,
		profile.Breakdown.MarketImpact, profile.Breakdown.Social, profile.Breakdown.Behavioral,
		profile.Breakdown.Temporal,
		encodeFixed(profile.TotalPenaltiesPaid), profile.FlagCount, profile.ConsecutiveHighRisk,
		profile.BreakerActive, profile.BreakerExpiry, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put risk profile: %w", err)
	}
	return nil
}
