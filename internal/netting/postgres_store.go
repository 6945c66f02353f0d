package netting

import (
	"context"
	"database/sql"
)

// PostgresPositionStore implements PositionStore backed by
// PostgreSQL, using the same ON CONFLICT ... DO UPDATE upsert idiom
// used elsewhere in this codebase for per-currency balances.
type PostgresPositionStore struct {
	db *sql.DB
}

// NewPostgresPositionStore creates a PostgreSQL-backed position store.
func NewPostgresPositionStore(db *sql.DB) *PostgresPositionStore {
	return &PostgresPositionStore{db: db}
}

func (s *PostgresPositionStore) Upsert(ctx context.Context, batchID string, p Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO netting_positions (batch_id, participant_id, currency, gross_receivable, gross_payable, net_position, transaction_count, updated_at)
		VALUES ($1, $2, $3, $4::NUMERIC(38,8), $5::NUMERIC(38,8), $6::NUMERIC(38,8), $7, NOW())
		ON CONFLICT (batch_id, participant_id, currency) DO UPDATE SET
			gross_receivable  = EXCLUDED.gross_receivable,
			gross_payable     = EXCLUDED.gross_payable,
			net_position      = EXCLUDED.net_position,
			transaction_count = EXCLUDED.transaction_count,
			updated_at        = NOW()
	`, batchID, p.ParticipantID, p.Currency, p.GrossReceivable.String(), p.GrossPayable.String(), p.NetPosition.String(), p.TransactionCount)
	return err
}

func (s *PostgresPositionStore) ListByBatch(ctx context.Context, batchID string) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_id, currency, gross_receivable, gross_payable, net_position, transaction_count
		FROM netting_positions WHERE batch_id = $1
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ParticipantID, &p.Currency, &p.GrossReceivable, &p.GrossPayable, &p.NetPosition, &p.TransactionCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
