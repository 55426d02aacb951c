// Package model holds the in-memory representation of an archived database.
//
// A Database owns Tables, a Table owns Rows and a Row owns Columns, each in
// document order. The entities are plain containers: they are built once by
// the archive parser (or by tests and fakes) and are not modified afterwards,
// except for a Column's value which is set exactly once.
package model

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
)

// ErrInvalidColumnType is returned when a type code is not part of the
// ColumnType enumeration.
var ErrInvalidColumnType = errors.New("invalid column type")

// ErrValueAlreadySet is returned by Column.SetValue on a second call.
var ErrValueAlreadySet = errors.New("column value already set")

// ColumnType identifies the storage class of a cell.
type ColumnType int

const (
	TypeNull ColumnType = iota
	TypeInteger
	TypeFloat
	TypeText
	TypeBinary
)

var columnTypeNames = map[ColumnType]string{
	TypeNull:    "null",
	TypeInteger: "integer",
	TypeFloat:   "float",
	TypeText:    "text",
	TypeBinary:  "binary",
}

// Valid reports whether t is one of the recognized storage classes.
func (t ColumnType) Valid() bool {
	_, ok := columnTypeNames[t]
	return ok
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return "ColumnType(" + strconv.Itoa(int(t)) + ")"
}

// Code returns the wire representation of t.
func (t ColumnType) Code() string {
	return strconv.Itoa(int(t))
}

// ParseColumnType converts a wire type code into a ColumnType.
func ParseColumnType(code string) (ColumnType, error) {
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidColumnType, code)
	}
	t := ColumnType(n)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidColumnType, n)
	}
	return t, nil
}

// Database is the root of the model.
type Database struct {
	Tables []*Table
}

// AddTable appends a new empty table and returns it.
func (d *Database) AddTable(name, primaryKey string) *Table {
	t := &Table{Name: name, PrimaryKey: primaryKey}
	d.Tables = append(d.Tables, t)
	return t
}

// Table returns the first table with the given name.
func (d *Database) Table(name string) (*Table, bool) {
	for _, t := range d.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Equal reports structural equality: same tables in the same order, each
// with equal rows.
func (d *Database) Equal(other *Database) bool {
	if d == nil || other == nil {
		return d == other
	}
	if len(d.Tables) != len(other.Tables) {
		return false
	}
	for i := range d.Tables {
		if !d.Tables[i].Equal(other.Tables[i]) {
			return false
		}
	}
	return true
}

// Table is a named set of rows. PrimaryKey is metadata only; it is not
// checked against the row contents.
type Table struct {
	Name       string
	PrimaryKey string
	Rows       []*Row
}

// AddRow appends a new empty row and returns it.
func (t *Table) AddRow() *Row {
	r := &Row{}
	t.Rows = append(t.Rows, r)
	return r
}

// Equal reports whether both tables have the same name, key and rows.
func (t *Table) Equal(other *Table) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.Name != other.Name || t.PrimaryKey != other.PrimaryKey || len(t.Rows) != len(other.Rows) {
		return false
	}
	for i := range t.Rows {
		if !t.Rows[i].Equal(other.Rows[i]) {
			return false
		}
	}
	return true
}

// Row is an ordered list of columns, in the order the store exposed them.
type Row struct {
	Columns []*Column
}

// AddColumn appends c to the row.
func (r *Row) AddColumn(c *Column) {
	r.Columns = append(r.Columns, c)
}

// Column returns the first column with the given name.
func (r *Row) Column(name string) (*Column, bool) {
	for _, c := range r.Columns {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// Equal compares columns pairwise in order.
func (r *Row) Equal(other *Row) bool {
	if r == nil || other == nil {
		return r == other
	}
	if len(r.Columns) != len(other.Columns) {
		return false
	}
	for i := range r.Columns {
		if !r.Columns[i].Equal(other.Columns[i]) {
			return false
		}
	}
	return true
}

// Column is a single cell. Name and type are fixed at construction and the
// value is set at most once. An invalid value is a null or empty cell.
type Column struct {
	name  string
	typ   ColumnType
	value pgtype.Text
}

// NewColumn creates a column with an unset value.
func NewColumn(name string, typ ColumnType) (*Column, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidColumnType, int(typ))
	}
	return &Column{name: name, typ: typ}, nil
}

// MustColumn is like NewColumn with a value already set. It panics on an
// invalid type and is intended for fixtures.
func MustColumn(name string, typ ColumnType, value string) *Column {
	c, err := NewColumn(name, typ)
	if err != nil {
		panic(err)
	}
	c.value = pgtype.Text{String: value, Valid: true}
	return c
}

// NullColumn returns a column whose value is unset.
func NullColumn(name string, typ ColumnType) *Column {
	c, err := NewColumn(name, typ)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Column) Name() string       { return c.name }
func (c *Column) Type() ColumnType   { return c.typ }
func (c *Column) Value() pgtype.Text { return c.value }

// Clone returns an independent copy of c, including whether its value has
// been set.
func (c *Column) Clone() *Column {
	nc := *c
	return &nc
}

// SetValue assigns the textual value. It may be called once.
func (c *Column) SetValue(v string) error {
	if c.value.Valid {
		return fmt.Errorf("%w: %s", ErrValueAlreadySet, c.name)
	}
	c.value = pgtype.Text{String: v, Valid: true}
	return nil
}

// Equal compares name, type and value.
func (c *Column) Equal(other *Column) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.name == other.name && c.typ == other.typ && c.value == other.value
}

func (c *Column) String() string {
	if !c.value.Valid {
		return fmt.Sprintf("%s(%s)=NULL", c.name, c.typ)
	}
	return fmt.Sprintf("%s(%s)=%q", c.name, c.typ, c.value.String)
}
