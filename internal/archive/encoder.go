package archive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/JonMunkholm/dbarchive/internal/schema"
	"github.com/JonMunkholm/dbarchive/internal/store"
)

// Header is the first line of every archive.
const Header = "<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>"

// Indent is written once per nesting level below the root element.
const Indent = "  "

// TableDescriptor names a table to export and its primary key column.
type TableDescriptor struct {
	Name       string `json:"name"`
	PrimaryKey string `json:"primaryKey"`
}

// EncodeResult summarizes a finished export.
type EncodeResult struct {
	Tables   int           `json:"tables"`
	Rows     int           `json:"rows"`
	Columns  int           `json:"columns"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration"`
}

// Encoder streams registered tables from a store connection into the
// archive format. An Encoder is not safe for concurrent use.
//
// The connection belongs to the caller; the Encoder never closes it.
type Encoder struct {
	conn   store.Conn
	tables []TableDescriptor
	logger *slog.Logger
}

// NewEncoder creates an Encoder reading from conn.
func NewEncoder(conn store.Conn) *Encoder {
	return &Encoder{conn: conn, logger: slog.Default()}
}

// WithLogger sets the logger used for per-table progress messages.
func (e *Encoder) WithLogger(logger *slog.Logger) *Encoder {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// RegisterTable appends a table to the export list. Tables are written in
// registration order.
func (e *Encoder) RegisterTable(name, primaryKey string) error {
	if name == "" {
		return fmt.Errorf("%w: table name is empty", ErrInvalidArgument)
	}
	if primaryKey == "" {
		return fmt.Errorf("%w: primary key for table %s is empty", ErrInvalidArgument, name)
	}
	e.tables = append(e.tables, TableDescriptor{Name: name, PrimaryKey: primaryKey})
	return nil
}

// Tables returns the registered descriptors.
func (e *Encoder) Tables() []TableDescriptor {
	out := make([]TableDescriptor, len(e.tables))
	copy(out, e.tables)
	return out
}

// Encode writes the archive to w and closes it, on success and on failure.
// Output already flushed before a failure is not rolled back.
func (e *Encoder) Encode(ctx context.Context, w io.WriteCloser) (res EncodeResult, err error) {
	start := time.Now()
	cw := &countingWriter{w: w}
	x := &xmlWriter{w: bufio.NewWriter(cw)}

	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = wrapErr(ErrEncodingFailed, cerr)
		}
		res.Bytes = cw.n
		res.Duration = time.Since(start)
	}()

	if len(e.tables) == 0 {
		return res, ErrNoTablesRegistered
	}

	root := schema.MustLookup(schema.TagDatabase)
	x.line(Header)
	x.start(root)
	for _, t := range e.tables {
		if err := e.encodeTable(ctx, x, t, &res); err != nil {
			return res, err
		}
		res.Tables++
	}
	x.end(root)

	if x.err == nil {
		x.err = x.w.Flush()
	}
	if x.err != nil {
		return res, wrapErr(ErrEncodingFailed, x.err)
	}
	return res, nil
}

func (e *Encoder) encodeTable(ctx context.Context, x *xmlWriter, t TableDescriptor, res *EncodeResult) error {
	cur, err := e.conn.Query(ctx, t.Name)
	if err != nil {
		return fmt.Errorf("query table %s: %w", t.Name, err)
	}
	defer cur.Close()

	tableEl := schema.MustLookup(schema.TagTable)
	rowEl := schema.MustLookup(schema.TagRow)
	colEl := schema.MustLookup(schema.TagColumn)

	rows := 0
	x.start(tableEl, t.Name, t.PrimaryKey)
	for cur.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		x.start(rowEl)
		n := cur.ColumnCount()
		for i := 0; i < n; i++ {
			typ := cur.ColumnType(i)
			if !typ.Valid() {
				return fmt.Errorf("table %s column %s: %w: %d", t.Name, cur.ColumnName(i), ErrInvalidColumnType, int(typ))
			}
			x.start(colEl, cur.ColumnName(i), typ.Code())
			if v, ok := cur.ValueAsText(i); ok {
				x.text(v)
			}
			x.end(colEl)
		}
		x.end(rowEl)

		if x.err != nil {
			return wrapErr(ErrEncodingFailed, x.err)
		}
		rows++
		res.Columns += n
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("read table %s: %w", t.Name, err)
	}
	x.end(tableEl)

	res.Rows += rows
	e.logger.Debug("table encoded", "table", t.Name, "rows", rows)
	return nil
}

// xmlWriter writes indented tags. The first write error sticks and turns
// every later call into a no-op.
type xmlWriter struct {
	w   *bufio.Writer
	err error
}

func (x *xmlWriter) write(s string) {
	if x.err != nil {
		return
	}
	_, x.err = x.w.WriteString(s)
}

func (x *xmlWriter) line(s string) {
	x.write(s)
	x.write("\n")
}

func (x *xmlWriter) indent(depth int) {
	for i := 0; i < depth; i++ {
		x.write(Indent)
	}
}

// start writes the opening tag of el with attribute values in el.Attrs
// order. Text elements stay on the same line as their content.
func (x *xmlWriter) start(el schema.Element, values ...string) {
	x.indent(el.Depth)
	x.write("<" + el.Tag)
	for i, name := range el.Attrs {
		if i >= len(values) {
			break
		}
		x.write(" " + name + `="` + EscapeAttr(values[i]) + `"`)
	}
	x.write(">")
	if !el.HasText {
		x.write("\n")
	}
}

func (x *xmlWriter) text(s string) {
	x.write(EscapeText(s))
}

func (x *xmlWriter) end(el schema.Element) {
	if !el.HasText {
		x.indent(el.Depth)
	}
	x.line("</" + el.Tag + ">")
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
