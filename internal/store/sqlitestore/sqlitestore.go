// Package sqlitestore reads and restores archives against SQLite through
// database/sql and the ncruces WebAssembly build of SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/dbarchive/internal/model"
	"github.com/JonMunkholm/dbarchive/internal/store"
	"github.com/ncruces/go-sqlite3"
	"github.com/ncruces/go-sqlite3/driver"

	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store is a SQLite-backed store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens the database at dsn. Use ":memory:" for a private in-memory
// database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle, mainly for seeding schemas.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Query selects every column of table. Cells are read from the raw SQLite
// statement, bypassing database/sql conversions (the driver turns DATE and
// DATETIME columns into time.Time), so each cell keeps its stored class and
// text. The cursor holds the only pooled connection until it is closed.
func (s *Store) Query(ctx context.Context, table string) (store.Cursor, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	c := &cursor{table: table, conn: conn}
	err = conn.Raw(func(dc any) error {
		raw, ok := dc.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", dc)
		}
		stmt, _, err := raw.Raw().Prepare("SELECT * FROM " + quoteIdent(table))
		if err != nil {
			return mapError(table, err)
		}
		c.stmt = stmt
		c.names = make([]string, stmt.ColumnCount())
		for i := range c.names {
			c.names[i] = stmt.ColumnName(i)
		}
		return nil
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Tables lists user tables with the first column of their primary key.
func (s *Store) Tables(ctx context.Context) ([]store.TableInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list tables: %w", err)
	}
	rows.Close()

	infos := make([]store.TableInfo, 0, len(names))
	for _, name := range names {
		pk, err := s.primaryKey(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, store.TableInfo{Name: name, PrimaryKey: pk})
	}
	return infos, nil
}

func (s *Store) primaryKey(ctx context.Context, table string) (string, error) {
	var pk string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM pragma_table_info(?) WHERE pk = 1`, table).Scan(&pk)
	switch {
	case err == sql.ErrNoRows:
		return "", nil
	case err != nil:
		return "", fmt.Errorf("primary key of %s: %w", table, err)
	}
	return pk, nil
}

// Restore replaces the contents of every table in db inside one
// transaction. Values are bound with the Go type matching their type code.
func (s *Store) Restore(ctx context.Context, db *model.Database) (store.RestoreStats, error) {
	var stats store.RestoreStats

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin restore: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		return stats, fmt.Errorf("defer foreign keys: %w", err)
	}

	for _, t := range db.Tables {
		deleted, written, err := restoreTable(ctx, tx, t)
		if err != nil {
			return stats, err
		}
		stats.Tables++
		stats.RowsDeleted += deleted
		stats.RowsWritten += written
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit restore: %w", err)
	}
	return stats, nil
}

func restoreTable(ctx context.Context, tx *sql.Tx, t *model.Table) (deleted, written int64, err error) {
	ident := quoteIdent(t.Name)

	res, err := tx.ExecContext(ctx, "DELETE FROM "+ident)
	if err != nil {
		return 0, 0, mapError(t.Name, err)
	}
	deleted, _ = res.RowsAffected()

	stmts := make(map[string]*sql.Stmt)
	defer func() {
		for _, st := range stmts {
			st.Close()
		}
	}()

	for _, row := range t.Rows {
		query := insertStatement(ident, row)
		st, ok := stmts[query]
		if !ok {
			st, err = tx.PrepareContext(ctx, query)
			if err != nil {
				return deleted, written, fmt.Errorf("prepare insert into %s: %w", t.Name, err)
			}
			stmts[query] = st
		}

		args := make([]any, len(row.Columns))
		for i, c := range row.Columns {
			if args[i], err = bindValue(c); err != nil {
				return deleted, written, fmt.Errorf("table %s column %s: %w", t.Name, c.Name(), err)
			}
		}
		if _, err := st.ExecContext(ctx, args...); err != nil {
			return deleted, written, fmt.Errorf("insert into %s: %w", t.Name, err)
		}
		written++
	}
	return deleted, written, nil
}

// insertStatement builds an INSERT naming the row's columns in order.
func insertStatement(ident string, row *model.Row) string {
	if len(row.Columns) == 0 {
		return "INSERT INTO " + ident + " DEFAULT VALUES"
	}
	cols := make([]string, len(row.Columns))
	for i, c := range row.Columns {
		cols[i] = quoteIdent(c.Name())
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return "INSERT INTO " + ident + " (" + strings.Join(cols, ", ") + ") VALUES (" + marks + ")"
}

// bindValue converts a cell to the driver value for its type code. Text
// that does not parse as the declared number is stored as text, which
// SQLite's type affinity then applies as usual.
func bindValue(c *model.Column) (any, error) {
	if !c.Value().Valid {
		return nil, nil
	}
	v := c.Value().String
	switch c.Type() {
	case model.TypeNull:
		return nil, nil
	case model.TypeInteger:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
	case model.TypeFloat:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, nil
		}
	case model.TypeBinary:
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("decode blob: %w", err)
		}
		return b, nil
	}
	return v, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func mapError(table string, err error) error {
	if strings.Contains(err.Error(), "no such table") {
		return store.UnknownTable(table)
	}
	return err
}

type cell struct {
	typ   model.ColumnType
	text  string
	valid bool
}

// cursor steps a raw statement. Every use of the statement happens inside
// sql.Conn.Raw; values are copied out so they outlive the step.
type cursor struct {
	table string
	conn  *sql.Conn
	stmt  *sqlite3.Stmt
	names []string
	row   []cell
	done  bool
	err   error
}

func (c *cursor) ColumnCount() int        { return len(c.names) }
func (c *cursor) ColumnName(i int) string { return c.names[i] }

// ColumnType reports the storage class of the current cell, which in
// SQLite may differ from row to row.
func (c *cursor) ColumnType(i int) model.ColumnType { return c.row[i].typ }

func (c *cursor) ValueAsText(i int) (string, bool) {
	return c.row[i].text, c.row[i].valid
}

func (c *cursor) Next() bool {
	// A finished statement would restart if stepped again.
	if c.done || c.err != nil || c.stmt == nil {
		return false
	}

	var ok bool
	err := c.conn.Raw(func(any) error {
		if !c.stmt.Step() {
			return c.stmt.Err()
		}
		ok = true
		if c.row == nil {
			c.row = make([]cell, len(c.names))
		}
		for i := range c.row {
			c.row[i] = readCell(c.stmt, i)
		}
		return nil
	})
	if err != nil {
		c.err = fmt.Errorf("read %s: %w", c.table, mapError(c.table, err))
	}
	if !ok {
		c.done = true
		c.row = nil
	}
	return ok
}

// readCell converts column i of the current row to its archive form.
// Floats use the shortest text that parses back to the same value; blobs
// are base64.
func readCell(stmt *sqlite3.Stmt, i int) cell {
	switch stmt.ColumnType(i) {
	case sqlite3.NULL:
		return cell{typ: model.TypeNull}
	case sqlite3.INTEGER:
		return cell{typ: model.TypeInteger, text: strconv.FormatInt(stmt.ColumnInt64(i), 10), valid: true}
	case sqlite3.FLOAT:
		return cell{typ: model.TypeFloat, text: strconv.FormatFloat(stmt.ColumnFloat(i), 'g', -1, 64), valid: true}
	case sqlite3.BLOB:
		return cell{typ: model.TypeBinary, text: base64.StdEncoding.EncodeToString(stmt.ColumnRawBlob(i)), valid: true}
	default:
		return cell{typ: model.TypeText, text: stmt.ColumnText(i), valid: true}
	}
}

func (c *cursor) Err() error {
	return c.err
}

func (c *cursor) Close() error {
	var err error
	if c.stmt != nil {
		err = c.conn.Raw(func(any) error { return c.stmt.Close() })
		c.stmt = nil
	}
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	c.row = nil
	return err
}
