package idempotency

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore implements Store backed by PostgreSQL using
// INSERT ... ON CONFLICT DO NOTHING plus a re-fetch, a first-writer-wins
// idiom for deduplicating concurrent requests on the same key.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed idempotency store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectIdemCols = `key, client_id, operation_type, request_hash, status, response_data, created_at, expires_at FROM idempotency_keys`

func scanRecord(row *sql.Row) (*Record, error) {
	r := &Record{}
	err := row.Scan(&r.Key, &r.ClientID, &r.OperationType, &r.RequestHash, &r.Status, &r.ResponseData, &r.CreatedAt, &r.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) Begin(ctx context.Context, r Record) (*Record, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, client_id, operation_type, request_hash, status, response_data, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7)
		ON CONFLICT (key) DO NOTHING
	`, r.Key, r.ClientID, r.OperationType, r.RequestHash, StatusInProgress, r.ResponseData, r.ExpiresAt)
	if err != nil {
		return nil, false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil, false, nil
	}

	existing, err := s.Get(ctx, r.Key)
	if err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

func (s *PostgresStore) Complete(ctx context.Context, key string, status Status, responseData []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_keys SET status = $1, response_data = $2 WHERE key = $3
	`, status, responseData, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectIdemCols+` WHERE key = $1`, key)
	return scanRecord(row)
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
