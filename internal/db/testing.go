package db

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
)

var memSeq atomic.Int64

// NewMemorySQLite opens a private in-memory SQLite database with the schema
// applied. One connection serializes whole transactions, so tests on top of
// it never interleave statements of two transactions.
func NewMemorySQLite(ctx context.Context) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:stocksync-%d?mode=memory&cache=shared&_busy_timeout=5000", memSeq.Add(1))
	db, err := NewSQLConnection(DriverSQLite, dsn, SQLOpts{MaxOpenConns: 1})
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
