// Package pgstore reads and restores archives against PostgreSQL using a
// pgx connection pool.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/dbarchive/internal/model"
	"github.com/JonMunkholm/dbarchive/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// undefinedTable is the SQLSTATE PostgreSQL reports for a missing relation.
const undefinedTable = "42P01"

// DefaultBatchSize is the number of inserts queued per round trip during a
// restore.
const DefaultBatchSize = 500

// PoolOptions tune the connection pool.
type PoolOptions struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Options configure a Store.
type Options struct {
	// Schemas searched by Tables. Defaults to public.
	Schemas []string
	// BatchSize is the number of rows inserted per batch during Restore.
	BatchSize int
}

// Store is a PostgreSQL-backed store.
type Store struct {
	pool *pgxpool.Pool
	opts Options
}

var _ store.Store = (*Store)(nil)

// Open parses url, connects and pings the server.
func Open(ctx context.Context, url string, pool PoolOptions, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if pool.MaxConns > 0 {
		cfg.MaxConns = int32(pool.MaxConns)
	}
	if pool.MinConns > 0 {
		cfg.MinConns = int32(pool.MinConns)
	}
	if pool.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pool.MaxConnLifetime
	}
	if pool.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pool.MaxConnIdleTime
	}

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(p, opts), nil
}

// New wraps an existing pool. The pool is closed by Close.
func New(pool *pgxpool.Pool, opts Options) *Store {
	if len(opts.Schemas) == 0 {
		opts.Schemas = []string{"public"}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Store{pool: pool, opts: opts}
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Query selects every column of table. Values are requested in text format
// so each cell arrives as the server's canonical text representation.
func (s *Store) Query(ctx context.Context, table string) (store.Cursor, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT * FROM "+tableIdentifier(table),
		pgx.QueryResultFormats{pgtype.TextFormatCode},
	)
	if err != nil {
		return nil, mapError(table, err)
	}
	return &cursor{table: table, rows: rows, fields: rows.FieldDescriptions()}, nil
}

const catalogQuery = `
SELECT t.table_schema, t.table_name, COALESCE(k.column_name, '')
FROM information_schema.tables t
LEFT JOIN information_schema.table_constraints c
  ON c.table_schema = t.table_schema
 AND c.table_name = t.table_name
 AND c.constraint_type = 'PRIMARY KEY'
LEFT JOIN information_schema.key_column_usage k
  ON k.constraint_schema = c.constraint_schema
 AND k.constraint_name = c.constraint_name
 AND k.ordinal_position = 1
WHERE t.table_type = 'BASE TABLE'
  AND t.table_schema = ANY($1)
ORDER BY t.table_schema, t.table_name`

// Tables lists base tables in the configured schemas with the first column
// of their primary key. Tables without a primary key have an empty
// PrimaryKey.
func (s *Store) Tables(ctx context.Context) ([]store.TableInfo, error) {
	rows, err := s.pool.Query(ctx, catalogQuery, s.opts.Schemas)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var infos []store.TableInfo
	for rows.Next() {
		var schemaName, tableName, pk string
		if err := rows.Scan(&schemaName, &tableName, &pk); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		infos = append(infos, store.TableInfo{Name: qualifiedName(schemaName, tableName), PrimaryKey: pk})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return infos, nil
}

// Restore replaces the contents of every table in db inside one
// transaction. Cell text is converted by the target column types via
// json_populate_record, so the archive needs no type mapping beyond the
// server's own text formats.
func (s *Store) Restore(ctx context.Context, db *model.Database) (store.RestoreStats, error) {
	var stats store.RestoreStats

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("begin restore: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET CONSTRAINTS ALL DEFERRED"); err != nil {
		return stats, fmt.Errorf("defer constraints: %w", err)
	}

	for _, t := range db.Tables {
		deleted, written, err := s.restoreTable(ctx, tx, t)
		if err != nil {
			return stats, err
		}
		stats.Tables++
		stats.RowsDeleted += deleted
		stats.RowsWritten += written
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("commit restore: %w", err)
	}
	return stats, nil
}

func (s *Store) restoreTable(ctx context.Context, tx pgx.Tx, t *model.Table) (deleted, written int64, err error) {
	ident := tableIdentifier(t.Name)

	tag, err := tx.Exec(ctx, "DELETE FROM "+ident)
	if err != nil {
		return 0, 0, mapError(t.Name, err)
	}
	deleted = tag.RowsAffected()

	insert := insertStatement(ident)
	for start := 0; start < len(t.Rows); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(t.Rows))

		batch := &pgx.Batch{}
		for _, row := range t.Rows[start:end] {
			payload, err := rowPayload(row)
			if err != nil {
				return deleted, written, fmt.Errorf("table %s: %w", t.Name, err)
			}
			batch.Queue(insert, payload)
		}

		n, err := execBatch(ctx, tx, batch)
		written += n
		if err != nil {
			return deleted, written, fmt.Errorf("insert into %s: %w", t.Name, mapError(t.Name, err))
		}
	}
	return deleted, written, nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) (int64, error) {
	br := tx.SendBatch(ctx, batch)
	var written int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return written, err
		}
		written += tag.RowsAffected()
	}
	return written, br.Close()
}

// insertStatement builds an INSERT that converts a JSON object of column
// name to text value into a row of the target table.
func insertStatement(ident string) string {
	return "INSERT INTO " + ident + " SELECT * FROM json_populate_record(NULL::" + ident + ", $1::json)"
}

// rowPayload encodes row as a JSON object; unset values become null.
func rowPayload(row *model.Row) (string, error) {
	obj := make(map[string]*string, len(row.Columns))
	for _, c := range row.Columns {
		if c.Value().Valid {
			v := c.Value().String
			obj[c.Name()] = &v
		} else {
			obj[c.Name()] = nil
		}
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("encode row: %w", err)
	}
	return string(b), nil
}

// tableIdentifier quotes a table name. The first dot separates the schema;
// later dots belong to the table name.
func tableIdentifier(name string) string {
	if schemaName, table, ok := strings.Cut(name, "."); ok {
		return pgx.Identifier{schemaName, table}.Sanitize()
	}
	return pgx.Identifier{name}.Sanitize()
}

// qualifiedName omits the default schema.
func qualifiedName(schemaName, table string) string {
	if schemaName == "public" {
		return table
	}
	return schemaName + "." + table
}

// columnType maps a result column OID to a storage class.
func columnType(oid uint32) model.ColumnType {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID, pgtype.OIDOID:
		return model.TypeInteger
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return model.TypeFloat
	case pgtype.ByteaOID:
		return model.TypeBinary
	default:
		return model.TypeText
	}
}

func mapError(table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("%w: %s", store.ErrUnknownTable, table)
	}
	return err
}

type cursor struct {
	table  string
	rows   pgx.Rows
	fields []pgconn.FieldDescription
	raw    [][]byte
}

func (c *cursor) ColumnCount() int        { return len(c.fields) }
func (c *cursor) ColumnName(i int) string { return c.fields[i].Name }

// ColumnType reports TypeNull for NULL cells, like a dynamically typed
// store, and the column's declared class otherwise.
func (c *cursor) ColumnType(i int) model.ColumnType {
	if c.raw[i] == nil {
		return model.TypeNull
	}
	return columnType(c.fields[i].DataTypeOID)
}

func (c *cursor) ValueAsText(i int) (string, bool) {
	if c.raw[i] == nil {
		return "", false
	}
	return string(c.raw[i]), true
}

func (c *cursor) Next() bool {
	if !c.rows.Next() {
		c.raw = nil
		return false
	}
	c.raw = c.rows.RawValues()
	return true
}

func (c *cursor) Err() error {
	if err := c.rows.Err(); err != nil {
		return mapError(c.table, err)
	}
	return nil
}

func (c *cursor) Close() error {
	c.rows.Close()
	return nil
}
