// Package memstore is an in-memory store backed by model entities.
package memstore

import (
	"context"
	"errors"
	"sync"

	"github.com/JonMunkholm/dbarchive/internal/model"
	"github.com/JonMunkholm/dbarchive/internal/store"
)

var errClosed = errors.New("memstore: closed")

type table struct {
	name       string
	primaryKey string
	rows       []*model.Row
}

// Store keeps tables in memory. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	order  []string
	tables map[string]*table
	closed bool
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

// FromDatabase creates a store holding a deep copy of db.
func FromDatabase(db *model.Database) *Store {
	s := New()
	for _, t := range db.Tables {
		s.CreateTable(t.Name, t.PrimaryKey)
		s.tables[t.Name].rows = copyRows(t.Rows)
	}
	return s
}

// CreateTable adds an empty table. Creating an existing table is a no-op.
func (s *Store) CreateTable(name, primaryKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[name]; ok {
		return
	}
	s.tables[name] = &table{name: name, primaryKey: primaryKey}
	s.order = append(s.order, name)
}

// Insert appends a row to an existing table.
func (s *Store) Insert(name string, cols ...*model.Column) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[name]
	if !ok {
		return store.UnknownTable(name)
	}
	row := &model.Row{}
	for _, c := range cols {
		row.AddColumn(c.Clone())
	}
	t.rows = append(t.rows, row)
	return nil
}

// Snapshot returns a deep copy of the store contents.
func (s *Store) Snapshot() *model.Database {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db := &model.Database{}
	for _, name := range s.order {
		t := s.tables[name]
		out := db.AddTable(t.name, t.primaryKey)
		out.Rows = copyRows(t.rows)
	}
	return db
}

// Query returns a cursor over a copy of the table's rows.
func (s *Store) Query(ctx context.Context, name string) (store.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed
	}
	t, ok := s.tables[name]
	if !ok {
		return nil, store.UnknownTable(name)
	}
	return &cursor{rows: copyRows(t.rows), pos: -1}, nil
}

// Tables lists tables in creation order.
func (s *Store) Tables(ctx context.Context) ([]store.TableInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]store.TableInfo, 0, len(s.order))
	for _, name := range s.order {
		infos = append(infos, store.TableInfo{Name: name, PrimaryKey: s.tables[name].primaryKey})
	}
	return infos, nil
}

// Restore replaces the rows of every table in db. All tables must exist;
// nothing is changed if one is missing.
func (s *Store) Restore(ctx context.Context, db *model.Database) (store.RestoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats store.RestoreStats
	if s.closed {
		return stats, errClosed
	}
	for _, t := range db.Tables {
		if _, ok := s.tables[t.Name]; !ok {
			return stats, store.UnknownTable(t.Name)
		}
	}

	for _, t := range db.Tables {
		dst := s.tables[t.Name]
		stats.Tables++
		stats.RowsDeleted += int64(len(dst.rows))
		stats.RowsWritten += int64(len(t.Rows))
		dst.rows = copyRows(t.Rows)
	}
	return stats, nil
}

// Close marks the store closed. Subsequent queries fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type cursor struct {
	rows []*model.Row
	pos  int
}

func (c *cursor) current() *model.Row {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return &model.Row{}
	}
	return c.rows[c.pos]
}

func (c *cursor) ColumnCount() int { return len(c.current().Columns) }

func (c *cursor) ColumnName(i int) string { return c.current().Columns[i].Name() }

func (c *cursor) ColumnType(i int) model.ColumnType { return c.current().Columns[i].Type() }

func (c *cursor) ValueAsText(i int) (string, bool) {
	v := c.current().Columns[i].Value()
	return v.String, v.Valid
}

func (c *cursor) Next() bool {
	if c.pos < len(c.rows) {
		c.pos++
	}
	return c.pos < len(c.rows)
}

func (c *cursor) Err() error   { return nil }
func (c *cursor) Close() error { c.rows = nil; return nil }

func copyRows(rows []*model.Row) []*model.Row {
	out := make([]*model.Row, len(rows))
	for i, r := range rows {
		nr := &model.Row{}
		for _, col := range r.Columns {
			nr.AddColumn(col.Clone())
		}
		out[i] = nr
	}
	return out
}
