// Package store owns the embedded SQLite database: connection lifecycle,
// year-suffixed table management and the run/step bookkeeping tables.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps the shared SQLite handle. It is passed explicitly to every
// component; there is no package-global connection.
type DB struct {
	conn *sql.DB
	log  zerolog.Logger
}

// Open opens (or creates) the database file and ensures the run
// bookkeeping tables exist. Raw input tables and derived output tables are
// managed by the pipeline itself.
//
// WAL mode and a generous busy timeout let concurrent year transactions
// wait on each other instead of failing with SQLITE_BUSY.
func Open(path string, log zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	d := &DB{conn: conn, log: log}
	if err := d.createRunTables(); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn exposes the raw handle for transactions and prepared statements.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Exec runs a statement.
func (d *DB) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := d.conn.ExecContext(ctx, query, args...)
	return err
}

// Query runs a query.
func (d *DB) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.conn.QueryContext(ctx, query, args...)
}

// TableName returns the year-qualified name of a derived table. Qualifying
// intermediate and output tables by year is what keeps concurrent years out
// of each other's namespace.
func TableName(base string, year int) string {
	return fmt.Sprintf("%s_%d", base, year)
}

// ReplaceTable drops and recreates a table, bounding each step's write to
// an all-or-nothing table replacement. schema is the column list only.
func (d *DB) ReplaceTable(ctx context.Context, name, schema string) error {
	if err := d.Exec(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	if err := d.Exec(ctx, "CREATE TABLE "+name+" ("+schema+")"); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	return nil
}

// DropTable removes a table if present. Used for intermediate cleanup.
func (d *DB) DropTable(ctx context.Context, name string) error {
	return d.Exec(ctx, "DROP TABLE IF EXISTS "+name)
}

// TableExists reports whether a table is present in the database.
func (d *DB) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountRows returns the number of rows in a table.
func (d *DB) CountRows(ctx context.Context, name string) (int, error) {
	var n int
	err := d.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+name).Scan(&n)
	return n, err
}
