package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainkit/txsim/internal/domain"
)

// TxRecordStore implements domain.TxJournal using PostgreSQL.
type TxRecordStore struct {
	pool *pgxpool.Pool
}

// NewTxRecordStore creates a journal backed by the given connection pool.
func NewTxRecordStore(pool *pgxpool.Pool) *TxRecordStore {
	return &TxRecordStore{pool: pool}
}

// Amounts round-trip through ::numeric/::text casts so wei values never pass
// through a float.
const txRecordSelectCols = `id, program, kind, endpoint, from_addr, to_addr,
	amount::TEXT, tx_hash, status, attempt, created_at`

func scanTxRecordRows(rows pgx.Rows) ([]domain.TxRecord, error) {
	var records []domain.TxRecord
	for rows.Next() {
		var r domain.TxRecord
		if err := rows.Scan(
			&r.ID, &r.Program, &r.Kind, &r.Endpoint,
			&r.From, &r.To, &r.Amount, &r.TxHash,
			&r.Status, &r.Attempt, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Insert writes one journal row.
func (s *TxRecordStore) Insert(ctx context.Context, rec domain.TxRecord) error {
	const query = `
		INSERT INTO tx_records (
			id, program, kind, endpoint, from_addr, to_addr,
			amount, tx_hash, status, attempt, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Program, rec.Kind, rec.Endpoint,
		rec.From, rec.To, rec.Amount, rec.TxHash,
		rec.Status, rec.Attempt, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert tx record: %w", err)
	}
	return nil
}

// ListRecent returns journal rows newest first.
func (s *TxRecordStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TxRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s FROM tx_records
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, txRecordSelectCols)

	rows, err := s.pool.Query(ctx, query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent tx records: %w", err)
	}
	defer rows.Close()

	records, err := scanTxRecordRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tx records: %w", err)
	}
	return records, nil
}

// ListBefore returns up to limit rows created before cutoff, oldest first.
func (s *TxRecordStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TxRecord, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := fmt.Sprintf(`
		SELECT %s FROM tx_records
		WHERE created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, txRecordSelectCols)

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tx records before cutoff: %w", err)
	}
	defer rows.Close()

	records, err := scanTxRecordRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tx records: %w", err)
	}
	return records, nil
}

// DeleteBefore removes rows created before cutoff and reports how many went.
func (s *TxRecordStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM tx_records WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete tx records before cutoff: %w", err)
	}
	return tag.RowsAffected(), nil
}
