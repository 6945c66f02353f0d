package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/settlekit/settlement-engine/internal/money"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed batch store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectBatchCols = `
	id, status, settlement_date, currency, cut_off_time, transaction_count,
	gross_amount, net_amount, fee_amount, metadata, created_at, completed_at
	FROM settlement_batches`

func scanBatch(row interface{ Scan(...interface{}) error }) (*SettlementBatch, error) {
	b := &SettlementBatch{}
	var metaRaw []byte
	err := row.Scan(&b.ID, &b.Status, &b.SettlementDate, &b.Currency, &b.CutOffTime, &b.TransactionCount,
		&b.GrossAmount, &b.NetAmount, &b.FeeAmount, &metaRaw, &b.CreatedAt, &b.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &b.Metadata)
	}
	return b, nil
}

func (s *PostgresStore) Create(ctx context.Context, b *SettlementBatch) error {
	meta, err := json.Marshal(b.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settlement_batches (id, status, settlement_date, currency, cut_off_time, transaction_count, gross_amount, net_amount, fee_amount, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC(38,8), $8::NUMERIC(38,8), $9::NUMERIC(38,8), $10::JSONB, NOW())
	`, b.ID, b.Status, b.SettlementDate, b.Currency, b.CutOffTime, b.TransactionCount,
		b.GrossAmount.String(), b.NetAmount.String(), b.FeeAmount.String(), meta)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*SettlementBatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectBatchCols+` WHERE id = $1`, id)
	return scanBatch(row)
}

func (s *PostgresStore) FindOpenBatch(ctx context.Context, settlementDate time.Time, currency string) (*SettlementBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectBatchCols+`
		WHERE status = $1 AND currency = $2 AND settlement_date::date = $3::date
		LIMIT 1
	`, StatusPending, currency, settlementDate)
	return scanBatch(row)
}

func (s *PostgresStore) FindReadyForProcessing(ctx context.Context, now time.Time) ([]*SettlementBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectBatchCols+`
		WHERE status = $1 AND cut_off_time <= $2
		ORDER BY cut_off_time ASC
	`, StatusPending, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*SettlementBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, newStatus Status, completedAt *time.Time) (*SettlementBatch, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, newStatus) {
		return nil, ErrInvalidTransition
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE settlement_batches SET status = $1, completed_at = COALESCE($2, completed_at) WHERE id = $3 AND status = $4
	`, newStatus, completedAt, id, current.Status)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrInvalidTransition
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) UpdateTotals(ctx context.Context, id string, count int, gross, net, fee money.Amount) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE settlement_batches SET transaction_count = $1, gross_amount = $2::NUMERIC(38,8), net_amount = $3::NUMERIC(38,8), fee_amount = $4::NUMERIC(38,8)
		WHERE id = $5
	`, count, gross.String(), net.String(), fee.String(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, status Status, limit, offset int) ([]*SettlementBatch, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+selectBatchCols+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+selectBatchCols+` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*SettlementBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
