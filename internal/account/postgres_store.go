package account

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeMetadata(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func (s *PostgresStore) Create(ctx context.Context, a *Account) error {
	meta, err := encodeMetadata(a.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, external_id, name, type, status, currency, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::JSONB, NOW(), NOW())
	`, a.ID, a.ExternalID, a.Name, a.Type, a.Status, a.Currency, meta)

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateExternal
	}
	return err
}

func (s *PostgresStore) scanRow(row *sql.Row) (*Account, error) {
	a := &Account{}
	var metaRaw []byte
	err := row.Scan(&a.ID, &a.ExternalID, &a.Name, &a.Type, &a.Status, &a.Currency, &metaRaw, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Metadata = decodeMetadata(metaRaw)
	return a, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, type, status, currency, metadata, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id)
	return s.scanRow(row)
}

func (s *PostgresStore) GetByExternalID(ctx context.Context, externalID string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, type, status, currency, metadata, created_at, updated_at
		FROM accounts WHERE external_id = $1
	`, externalID)
	return s.scanRow(row)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, newStatus Status, currentBalanceZero bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current Status
	if err := tx.QueryRowContext(ctx, `SELECT status FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}

	if !CanTransition(current, newStatus) {
		return ErrInvalidTransition
	}
	if newStatus == StatusClosed && !currentBalanceZero {
		return ErrNonZeroBalance
	}

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET status = $1, updated_at = NOW() WHERE id = $2`, newStatus, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) List(ctx context.Context, status Status, limit, offset int) ([]*Account, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, external_id, name, type, status, currency, metadata, created_at, updated_at
			FROM accounts WHERE status = $1 ORDER BY id LIMIT $2 OFFSET $3
		`, status, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, external_id, name, type, status, currency, metadata, created_at, updated_at
			FROM accounts ORDER BY id LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Account
	for rows.Next() {
		a := &Account{}
		var metaRaw []byte
		if err := rows.Scan(&a.ID, &a.ExternalID, &a.Name, &a.Type, &a.Status, &a.Currency, &metaRaw, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Metadata = decodeMetadata(metaRaw)
		out = append(out, a)
	}
	return out, rows.Err()
}
