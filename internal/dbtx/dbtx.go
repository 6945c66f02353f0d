// Package dbtx lets independent Postgres-backed stores cooperate
// inside one caller-managed transaction. The settlement engine's
// double-entry write path spans two store packages (settlement and
// ledger) that must commit or roll back together; stashing the
// *sql.Tx on the context — the same context.WithValue/typed-key idiom
// internal/ledger/audit.go uses for actor info — lets each store's
// existing methods join an ambient transaction without the two
// packages depending on each other.
package dbtx

import (
	"context"
	"database/sql"
)

type contextKey string

const ctxTx contextKey = "dbtx_tx"

// Execer is satisfied by both *sql.DB and *sql.Tx, so store methods
// written against it run unchanged whether or not an ambient
// transaction is present.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// WithTx attaches tx to ctx. Store methods given the returned context
// use tx in place of their own *sql.DB for the duration of the call.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, ctxTx, tx)
}

// Tx returns the ambient *sql.Tx on ctx, or nil if none is present.
func Tx(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(ctxTx).(*sql.Tx)
	return tx
}

// From returns the ambient transaction on ctx if present, else db.
// Store methods call this once per operation to get the Execer they
// should issue statements against.
func From(ctx context.Context, db *sql.DB) Execer {
	if tx := Tx(ctx); tx != nil {
		return tx
	}
	return db
}
