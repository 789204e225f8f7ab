package clickhouse

import (
	"context"
	"fmt"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// AssessmentStore implements storage.AssessmentStore using ClickHouse.
// Assessments are append-only; MergeTree ordering by (account, ts) keeps
// per-account reads cheap.
type AssessmentStore struct {
	conn *Conn
}

// NewAssessmentStore creates a new AssessmentStore.
func NewAssessmentStore(conn *Conn) *AssessmentStore {
	return &AssessmentStore{conn: conn}
}

// Compile-time interface check.
var _ storage.AssessmentStore = (*AssessmentStore)(nil)

// Append records an assessment. Records are never updated.
func (s *AssessmentStore) Append(ctx context.Context, a *domain.RiskAssessment) error {
	if a == nil || a.Account == "" {
		return storage.ErrInvalidInput
	}

	flags := make([]string, len(a.Flags))
	for i, f := range a.Flags {
		flags[i] = string(f)
	}

	query := `
		INSERT INTO risk_assessments (
			account, ts, amount, tx_type, counterparty,
			score, freq_score, volume_score, pattern_score,
			market_impact_score, social_score, behavioral_score, temporal_score,
			penalty, flags
		)
	`
	batch, err := s.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		a.Account, a.Timestamp, encodeFixed(a.Amount), string(a.Type), a.Counterparty,
		a.Score, a.Breakdown.Frequency, a.Breakdown.Volume, a.Breakdown.Pattern,
		a.Breakdown.MarketImpact, a.Breakdown.Social, a.Breakdown.Behavioral, a.Breakdown.Temporal,
		encodeFixed(a.Penalty), flags,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// RecentByAccount retrieves up to limit most-recent assessments for an
// account, ordered by timestamp ASC. limit <= 0 means all records.
func (s *AssessmentStore) RecentByAccount(ctx context.Context, account string, limit int) ([]*domain.RiskAssessment, error) {
	query := `
		SELECT account, ts, amount, tx_type, counterparty,
		       score, freq_score, volume_score, pattern_score,
		       market_impact_score, social_score, behavioral_score, temporal_score,
		       penalty, flags
		FROM risk_assessments
		WHERE account = ?
		ORDER BY ts DESC
	`
	args := []interface{}{account}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	var out []*domain.RiskAssessment
	for rows.Next() {
		var (
			a       domain.RiskAssessment
			amount  string
			txType  string
			penalty string
			flags   []string
		)
		err := rows.Scan(
			&a.Account, &a.Timestamp, &amount, &txType, &a.Counterparty,
			&a.Score, &a.Breakdown.Frequency, &a.Breakdown.Volume, &a.Breakdown.Pattern,
			&a.Breakdown.MarketImpact, &a.Breakdown.Social, &a.Breakdown.Behavioral, &a.Breakdown.Temporal,
			&penalty, &flags,
		)
		if err != nil {
			return nil, fmt.Errorf("scan assessment row: %w", err)
		}

		if a.Amount, err = decodeFixed(amount); err != nil {
			return nil, fmt.Errorf("scan assessment row: %w", err)
		}
		if a.Penalty, err = decodeFixed(penalty); err != nil {
			return nil, fmt.Errorf("scan assessment row: %w", err)
		}
		a.Type = domain.TransactionType(txType)
		for _, f := range flags {
			a.Flags = append(a.Flags, domain.Flag(f))
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assessment rows: %w", err)
	}

	// Reverse into ascending timestamp order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
