package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_item (
		id         BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
		store_id   VARCHAR(64)  NOT NULL,
		product_id VARCHAR(128) NOT NULL,
		quantity   INT          NOT NULL DEFAULT 0,
		UNIQUE KEY uq_inventory_item_store_product (store_id, product_id),
		CONSTRAINT chk_inventory_item_quantity CHECK (quantity >= 0)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id         BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
		event_id   VARCHAR(32)  NOT NULL,
		stream     VARCHAR(255) NOT NULL,
		type       VARCHAR(64)  NOT NULL,
		payload    TEXT         NOT NULL,
		created_at DATETIME(6)  NOT NULL,
		published  TINYINT(1)   NOT NULL DEFAULT 0,
		UNIQUE KEY uq_outbox_event_event_id (event_id),
		KEY idx_outbox_event_published (published, id)
	) ENGINE=InnoDB`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_item (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id   TEXT    NOT NULL,
		product_id TEXT    NOT NULL,
		quantity   INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		UNIQUE (store_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id   TEXT     NOT NULL UNIQUE,
		stream     TEXT     NOT NULL,
		type       TEXT     NOT NULL,
		payload    TEXT     NOT NULL,
		created_at DATETIME NOT NULL,
		published  BOOLEAN  NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_published ON outbox_event (published, id)`,
}

// Migrate creates the ledger and outbox tables if they do not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	var stmts []string
	switch db.DriverName() {
	case DriverMySQL:
		stmts = mysqlSchema
	case DriverSQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("no schema for driver %q", db.DriverName())
	}

	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}
