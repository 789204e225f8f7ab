package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// HistoryStore implements storage.TransactionHistoryStore using
// PostgreSQL. Each account retains at most domain.HistoryCapacity rows;
// the insert and the eviction of overflow rows run in one transaction.
type HistoryStore struct {
	pool *Pool
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(pool *Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionHistoryStore = (*HistoryStore)(nil)

// Append adds a record, evicting the oldest beyond capacity.
func (s *HistoryStore) Append(ctx context.Context, record *domain.TransactionRecord) error {
	if record == nil || record.Account == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO transaction_history (
			account, ts, amount, tx_type, counterparty, risk_score
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.Exec(ctx, insert,
		record.Account, record.Timestamp, encodeFixed(record.Amount),
		string(record.Type), record.Counterparty, record.RiskScore,
	)
	if err != nil {
		return fmt.Errorf("insert history record: %w", err)
	}

	evict := `
		DELETE FROM transaction_history
		WHERE account = $1 AND id IN (
			SELECT id FROM transaction_history
			WHERE account = $1
			ORDER BY ts DESC, id DESC
			OFFSET $2
		)
	`
	if _, err := tx.Exec(ctx, evict, record.Account, domain.HistoryCapacity); err != nil {
		return fmt.Errorf("evict history overflow: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Recent retrieves up to limit most-recent records for an account,
// ordered by timestamp ASC. limit <= 0 means all retained records.
func (s *HistoryStore) Recent(ctx context.Context, acct string, limit int) ([]*domain.TransactionRecord, error) {
	if limit <= 0 || limit > domain.HistoryCapacity {
		limit = domain.HistoryCapacity
	}

	query := `
		SELECT account, ts, amount, tx_type, counterparty, risk_score
		FROM (
			SELECT id, account, ts, amount, tx_type, counterparty, risk_score
			FROM transaction_history
			WHERE account = $1
			ORDER BY ts DESC, id DESC
			LIMIT $2
		) latest
		ORDER BY ts ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, acct, limit)
	if err != nil {
		return nil, fmt.Errorf("get history records: %w", err)
	}
	defer rows.Close()

	return scanHistoryRecords(rows)
}

func scanHistoryRecords(rows pgx.Rows) ([]*domain.TransactionRecord, error) {
	var records []*domain.TransactionRecord

	for rows.Next() {
		var (
			r      domain.TransactionRecord
			amount string
			txType string
		)
		err := rows.Scan(&r.Account, &r.Timestamp, &amount, &txType, &r.Counterparty, &r.RiskScore)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.Amount, err = decodeFixed(amount)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.Type = domain.TransactionType(txType)
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return records, nil
}
