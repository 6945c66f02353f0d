package ledger

import (
	"context"
	"database/sql"

	"github.com/settlekit/settlement-engine/internal/dbtx"
	"github.com/settlekit/settlement-engine/internal/money"
)

// PostgresStore implements Store backed by PostgreSQL. Every mutating
// primitive runs through runInTx: it joins the ambient sql.LevelSerializable
// transaction opened by settlement.Store.Atomic when one is present on ctx
// (see internal/dbtx), so a multi-step caller such as the settlement engine's
// double-entry write commits or rolls back as one unit; called standalone
// (no ambient transaction — e.g. from tests, or the pre-tx balance reads in
// Engine.Execute's precheck) it opens and commits its own.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger store. To compose
// atomically with a settlement.PostgresStore (see settlement.Store.Atomic),
// both must be constructed from the same *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func serializableTx(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	return db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// runInTx joins the ambient transaction on ctx if one is present, else
// opens and commits (or rolls back on error) its own. fn's returned error
// always propagates to the caller, even in the ambient case — a business
// error such as ErrInsufficientFunds or ErrStaleVersion must still abort
// the whole caller-managed transaction per spec.
func (s *PostgresStore) runInTx(ctx context.Context, fn func(ctx context.Context, ex dbtx.Execer) error) error {
	if tx := dbtx.Tx(ctx); tx != nil {
		return fn(ctx, tx)
	}

	tx, err := serializableTx(ctx, s.db)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func scanBalance(row *sql.Row, accountID, currency string) (AccountBalance, error) {
	var b AccountBalance
	b.AccountID, b.Currency = accountID, currency
	err := row.Scan(&b.Available, &b.Pending, &b.Reserved, &b.Version, &b.LastUpdated)
	if err == sql.ErrNoRows {
		return ZeroBalance(accountID, currency), nil
	}
	return b, err
}

func (s *PostgresStore) GetOrCreateBalance(ctx context.Context, accountID, currency string) (AccountBalance, error) {
	var result AccountBalance
	err := s.runInTx(ctx, func(ctx context.Context, ex dbtx.Execer) error {
		row := ex.QueryRowContext(ctx, `
			SELECT available, pending, reserved, version, last_updated
			FROM account_balances WHERE account_id = $1 AND currency = $2
		`, accountID, currency)

		b, err := scanBalance(row, accountID, currency)
		if err != nil {
			return err
		}
		if b.Version == 0 && b.Available.IsZero() && b.Pending.IsZero() && b.Reserved.IsZero() {
			if _, err := ex.ExecContext(ctx, `
				INSERT INTO account_balances (account_id, currency, available, pending, reserved, version, last_updated)
				VALUES ($1, $2, 0, 0, 0, 0, NOW())
				ON CONFLICT (account_id, currency) DO NOTHING
			`, accountID, currency); err != nil {
				return err
			}
		}
		result = b
		return nil
	})
	return result, err
}

func (s *PostgresStore) CreditConditional(ctx context.Context, accountID, currency string, delta money.Amount) (AccountBalance, error) {
	var result AccountBalance
	err := s.runInTx(ctx, func(ctx context.Context, ex dbtx.Execer) error {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO account_balances (account_id, currency, available, pending, reserved, version, last_updated)
			VALUES ($1, $2, $3::NUMERIC(38,8), 0, 0, 1, NOW())
			ON CONFLICT (account_id, currency) DO UPDATE SET
				available = account_balances.available + $3::NUMERIC(38,8),
				version = account_balances.version + 1,
				last_updated = NOW()
		`, accountID, currency, delta.String()); err != nil {
			return err
		}

		row := ex.QueryRowContext(ctx, `
			SELECT available, pending, reserved, version, last_updated
			FROM account_balances WHERE account_id = $1 AND currency = $2
		`, accountID, currency)
		b, err := scanBalance(row, accountID, currency)
		if err != nil {
			return err
		}
		result = b
		return nil
	})
	return result, err
}

// DebitConditional returns ErrInsufficientFunds as fn's error when the
// conditional UPDATE affects no rows, so runInTx rolls back the whole
// caller-managed transaction (not just this statement) when one is
// ambient — matching spec's "abort with InsufficientFunds and roll back".
func (s *PostgresStore) DebitConditional(ctx context.Context, accountID, currency string, delta money.Amount) (AccountBalance, error) {
	var result AccountBalance
	err := s.runInTx(ctx, func(ctx context.Context, ex dbtx.Execer) error {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO account_balances (account_id, currency, available, pending, reserved, version, last_updated)
			VALUES ($1, $2, 0, 0, 0, 0, NOW())
			ON CONFLICT (account_id, currency) DO NOTHING
		`, accountID, currency); err != nil {
			return err
		}

		res, err := ex.ExecContext(ctx, `
			UPDATE account_balances SET
				available = available - $3::NUMERIC(38,8),
				version = version + 1,
				last_updated = NOW()
			WHERE account_id = $1 AND currency = $2 AND (available - reserved) >= $3::NUMERIC(38,8)
		`, accountID, currency, delta.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			row := ex.QueryRowContext(ctx, `
				SELECT available, pending, reserved, version, last_updated
				FROM account_balances WHERE account_id = $1 AND currency = $2
			`, accountID, currency)
			current, scanErr := scanBalance(row, accountID, currency)
			if scanErr != nil {
				return scanErr
			}
			result = current
			return ErrInsufficientFunds
		}

		row := ex.QueryRowContext(ctx, `
			SELECT available, pending, reserved, version, last_updated
			FROM account_balances WHERE account_id = $1 AND currency = $2
		`, accountID, currency)
		b, err := scanBalance(row, accountID, currency)
		if err != nil {
			return err
		}
		result = b
		return nil
	})
	return result, err
}

// UpdateWithVersion returns ErrStaleVersion as fn's error on a version
// mismatch, for the same whole-transaction-rollback reason as
// DebitConditional; Engine.Execute's retry.Do re-runs the entire atomic
// block on this error since Postgres aborts the live transaction anyway.
func (s *PostgresStore) UpdateWithVersion(ctx context.Context, b AccountBalance) (AccountBalance, error) {
	var result AccountBalance
	err := s.runInTx(ctx, func(ctx context.Context, ex dbtx.Execer) error {
		res, err := ex.ExecContext(ctx, `
			UPDATE account_balances SET
				available = $3::NUMERIC(38,8),
				pending = $4::NUMERIC(38,8),
				reserved = $5::NUMERIC(38,8),
				version = version + 1,
				last_updated = NOW()
			WHERE account_id = $1 AND currency = $2 AND version = $6
		`, b.AccountID, b.Currency, b.Available.String(), b.Pending.String(), b.Reserved.String(), b.Version)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			row := ex.QueryRowContext(ctx, `
				SELECT available, pending, reserved, version, last_updated
				FROM account_balances WHERE account_id = $1 AND currency = $2
			`, b.AccountID, b.Currency)
			current, scanErr := scanBalance(row, b.AccountID, b.Currency)
			if scanErr != nil {
				return scanErr
			}
			result = current
			return ErrStaleVersion
		}

		row := ex.QueryRowContext(ctx, `
			SELECT available, pending, reserved, version, last_updated
			FROM account_balances WHERE account_id = $1 AND currency = $2
		`, b.AccountID, b.Currency)
		updated, err := scanBalance(row, b.AccountID, b.Currency)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	return result, err
}

func (s *PostgresStore) InsertEntry(ctx context.Context, e *LedgerEntry) error {
	return s.runInTx(ctx, func(ctx context.Context, ex dbtx.Execer) error {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, transaction_id, account_id, entry_type, amount, currency, balance_after, effective_date, created_at)
			VALUES ($1, $2, $3, $4, $5::NUMERIC(38,8), $6, $7::NUMERIC(38,8), $8, NOW())
		`, e.ID, e.TransactionID, e.AccountID, e.EntryType, e.Amount.String(), e.Currency, e.BalanceAfter.String(), e.EffectiveDate)
		return err
	})
}

func scanEntries(rows *sql.Rows) ([]*LedgerEntry, error) {
	var out []*LedgerEntry
	for rows.Next() {
		e := &LedgerEntry{}
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.EntryType, &e.Amount, &e.Currency, &e.BalanceAfter, &e.EffectiveDate, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetEntries(ctx context.Context, accountID string) ([]*LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, account_id, entry_type, amount, currency, balance_after, effective_date, created_at
		FROM ledger_entries WHERE account_id = $1 ORDER BY created_at ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

func (s *PostgresStore) GetEntriesByTransaction(ctx context.Context, transactionID string) ([]*LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, account_id, entry_type, amount, currency, balance_after, effective_date, created_at
		FROM ledger_entries WHERE transaction_id = $1 ORDER BY created_at ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}
