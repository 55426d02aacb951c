// Package store defines the row/column data store the archive engine reads
// from and restores into.
//
// Different implementations are possible:
//   - PostgreSQL (pgstore)
//   - SQLite (sqlitestore)
//   - in-memory (memstore, for tests and fakes)
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/dbarchive/internal/model"
)

// ErrUnknownTable is returned by Conn.Query when the store has no table
// with the requested name.
var ErrUnknownTable = errors.New("unknown table")

// UnknownTable wraps ErrUnknownTable with the table name.
func UnknownTable(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownTable, name)
}

// Conn is an open, readable connection.
type Conn interface {
	// Query returns a cursor over every column of every row in table.
	Query(ctx context.Context, table string) (Cursor, error)
}

// Cursor iterates the rows of a query result. It starts before the first
// row; Next must be called before reading values.
type Cursor interface {
	ColumnCount() int
	ColumnName(i int) string
	// ColumnType is the storage class of column i in the current row.
	ColumnType(i int) model.ColumnType
	// ValueAsText returns the textual value of column i; ok is false for NULL.
	ValueAsText(i int) (value string, ok bool)
	Next() bool
	Err() error
	Close() error
}

// TableInfo describes a table discovered in the store.
type TableInfo struct {
	Name       string `json:"name"`
	PrimaryKey string `json:"primaryKey"`
}

// Cataloger lists the tables available for export.
type Cataloger interface {
	Tables(ctx context.Context) ([]TableInfo, error)
}

// RestoreStats reports what a restore changed.
type RestoreStats struct {
	Tables      int   `json:"tables"`
	RowsDeleted int64 `json:"rowsDeleted"`
	RowsWritten int64 `json:"rowsWritten"`
}

// Restorer replaces the contents of the archived tables with the archived
// rows. Implementations apply all tables atomically.
type Restorer interface {
	Restore(ctx context.Context, db *model.Database) (RestoreStats, error)
}

// Store is a connection that also supports discovery and restore, which is
// what the concrete implementations provide.
type Store interface {
	Conn
	Cataloger
	Restorer
	Close() error
}
