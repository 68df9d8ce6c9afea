package db

import (
	"fmt"
)

// migrations are applied in order; their index+1 is the schema version.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    exchange_order_id TEXT,
    position_id TEXT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    price REAL NOT NULL,
    qty REAL NOT NULL,
    notional REAL NOT NULL,
    fee REAL DEFAULT 0,
    status TEXT NOT NULL,
    reason TEXT,
    error TEXT,
    mode TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);

CREATE TABLE IF NOT EXISTS closed_trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id TEXT NOT NULL,
    order_id TEXT,
    symbol TEXT NOT NULL,
    sell_price REAL NOT NULL,
    sell_qty REAL NOT NULL,
    entry_price REAL NOT NULL,
    fee REAL DEFAULT 0,
    pnl REAL NOT NULL,
    pnl_pct REAL NOT NULL,
    reason TEXT NOT NULL,
    closed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_closed_trades_closed ON closed_trades(closed_at);
`,
	`ALTER TABLE orders ADD COLUMN strategy TEXT DEFAULT '';`,
}

// ApplyMigrations brings the schema to the latest version.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}
	if _, err := d.DB.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var version int
	if err := d.DB.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		tx, err := d.DB.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Version returns the applied schema version.
func (d *Database) Version() (int, error) {
	var v int
	err := d.DB.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v)
	return v, err
}
