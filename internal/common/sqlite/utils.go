// Package sqlite provides shared schema helpers for the bus database.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ColumnExists reports whether a table already has the named column.
func ColumnExists(db *sqlx.DB, table, column string) (bool, error) {
	var n int
	err := db.Get(&n, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column)
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", table, err)
	}
	return n > 0, nil
}

// EnsureColumn adds a column to a table if it doesn't exist. ALTER TABLE ADD
// COLUMN is the only in-place schema change SQLite supports, so migrations
// stay additive.
func EnsureColumn(db *sqlx.DB, table, column, definition string) error {
	exists, err := ColumnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}
