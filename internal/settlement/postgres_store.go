package settlement

import (
	"database/sql"
	"encoding/json"

	"context"

	"github.com/lib/pq"
	"github.com/settlekit/settlement-engine/internal/dbtx"
	"github.com/settlekit/settlement-engine/internal/money"
)

// PostgresStore implements Store backed by PostgreSQL, using pq.Error
// code 23505 to detect idempotency_key collisions exactly as the
// teacher's internal/ledger/ledger.go detects duplicate deposits.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store. To
// compose atomically with a ledger.PostgresStore (see Atomic), both
// must be constructed from the same *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Atomic opens one sql.LevelSerializable transaction and stashes it
// on the context via internal/dbtx so every store call fn makes
// joins it, regardless of which Store (settlement or ledger) the
// call belongs to, as long as both share this *sql.DB's connection.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	txCtx := dbtx.WithTx(ctx, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func encodeMeta(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeMeta(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func (s *PostgresStore) InsertPending(ctx context.Context, r *Record) error {
	meta, err := encodeMeta(r.Metadata)
	if err != nil {
		return err
	}

	_, err = dbtx.From(ctx, s.db).ExecContext(ctx, `
		INSERT INTO transactions (id, external_id, type, status, src_id, dst_id, amount, currency, fee, net, batch_id, idempotency_key, original_transaction_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC(38,8), $8, $9::NUMERIC(38,8), $10::NUMERIC(38,8), $11, $12, $13, $14::JSONB, NOW())
	`, r.ID, r.ExternalID, r.Type, r.Status, r.SourceAccountID, r.DestinationAccountID,
		r.Amount.String(), r.Currency, r.FeeAmount.String(), r.NetAmount().String(),
		r.SettlementBatchID, r.IdempotencyKey, r.OriginalTransactionID, meta)

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateKey
	}
	return err
}

func (s *PostgresStore) scanRecord(row *sql.Row) (*Record, error) {
	r := &Record{}
	var metaRaw []byte
	var net money.Amount
	err := row.Scan(&r.ID, &r.ExternalID, &r.Type, &r.Status, &r.SourceAccountID, &r.DestinationAccountID,
		&r.Amount, &r.Currency, &r.FeeAmount, &net, &r.SettlementBatchID, &r.IdempotencyKey,
		&r.OriginalTransactionID, &metaRaw, &r.CreatedAt, &r.SettledAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Metadata = decodeMeta(metaRaw)
	return r, nil
}

const selectRecordCols = `
	id, external_id, type, status, src_id, dst_id, amount, currency, fee, net, batch_id,
	idempotency_key, original_transaction_id, metadata, created_at, settled_at
	FROM transactions`

// MarkSettled joins the ambient transaction opened by Atomic when one is
// present on ctx (the normal case — Execute calls this as the last step
// of its atomic block); otherwise it opens and commits its own, for
// standalone callers such as tests.
func (s *PostgresStore) MarkSettled(ctx context.Context, id string) (*Record, error) {
	if tx := dbtx.Tx(ctx); tx != nil {
		return s.markSettled(ctx, tx, id)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	r, err := s.markSettled(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return r, tx.Commit()
}

func (s *PostgresStore) markSettled(ctx context.Context, tx *sql.Tx, id string) (*Record, error) {
	res, err := tx.ExecContext(ctx, `UPDATE transactions SET status = $1, settled_at = NOW() WHERE id = $2 AND status = $3`,
		StatusSettled, id, StatusPending)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrInvalidStateTransition
	}

	row := tx.QueryRowContext(ctx, `SELECT `+selectRecordCols+` WHERE id = $1`, id)
	return s.scanRecord(row)
}

func (s *PostgresStore) MarkReversed(ctx context.Context, id string) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3`,
		StatusReversed, id, StatusSettled)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrInvalidStateTransition
	}

	row := tx.QueryRowContext(ctx, `SELECT `+selectRecordCols+` WHERE id = $1`, id)
	r, err := s.scanRecord(row)
	if err != nil {
		return nil, err
	}
	return r, tx.Commit()
}

func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, key string) (*Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectRecordCols+` WHERE idempotency_key = $1`, key)
	r, err := s.scanRecord(row)
	if err == ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectRecordCols+` WHERE id = $1`, id)
	return s.scanRecord(row)
}

func (s *PostgresStore) ListByBatch(ctx context.Context, batchID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectRecordCols+` WHERE batch_id = $1 ORDER BY created_at ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		r := &Record{}
		var metaRaw []byte
		if err := rows.Scan(&r.ID, &r.ExternalID, &r.Type, &r.Status, &r.SourceAccountID, &r.DestinationAccountID,
			&r.Amount, &r.Currency, &r.FeeAmount, new(money.Amount), &r.SettlementBatchID, &r.IdempotencyKey,
			&r.OriginalTransactionID, &metaRaw, &r.CreatedAt, &r.SettledAt); err != nil {
			return nil, err
		}
		r.Metadata = decodeMeta(metaRaw)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AssignBatch(ctx context.Context, transactionID, batchID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET batch_id = $1 WHERE id = $2 AND status = $3 AND batch_id IS NULL
	`, batchID, transactionID, StatusSettled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidStateTransition
	}
	return nil
}
