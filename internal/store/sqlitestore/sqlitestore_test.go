package sqlitestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/JonMunkholm/dbarchive/internal/archive"
	"github.com/JonMunkholm/dbarchive/internal/model"
	"github.com/JonMunkholm/dbarchive/internal/store"
)

const fleetSchema = `
CREATE TABLE vehicle (
    vehicle_id INTEGER PRIMARY KEY,
    name TEXT,
    weight REAL,
    photo BLOB
);
CREATE TABLE note (body TEXT);
INSERT INTO vehicle VALUES (7, 'Truck', 3.5, x'0102ff');
INSERT INTO vehicle VALUES (8, NULL, NULL, NULL);
INSERT INTO note VALUES ('loose');
`

func openFleet(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.DB().ExecContext(ctx, fleetSchema); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

type closingBuffer struct{ bytes.Buffer }

func (*closingBuffer) Close() error { return nil }

func TestQuery_StorageClasses(t *testing.T) {
	s := openFleet(t)

	cur, err := s.Query(context.Background(), "vehicle")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer cur.Close()

	if cur.ColumnCount() != 4 {
		t.Fatalf("ColumnCount = %d, want 4", cur.ColumnCount())
	}

	if !cur.Next() {
		t.Fatalf("expected first row: %v", cur.Err())
	}
	want := []struct {
		name string
		typ  model.ColumnType
		text string
	}{
		{"vehicle_id", model.TypeInteger, "7"},
		{"name", model.TypeText, "Truck"},
		{"weight", model.TypeFloat, "3.5"},
		{"photo", model.TypeBinary, "AQL/"},
	}
	for i, w := range want {
		if cur.ColumnName(i) != w.name {
			t.Errorf("ColumnName(%d) = %q, want %q", i, cur.ColumnName(i), w.name)
		}
		if cur.ColumnType(i) != w.typ {
			t.Errorf("ColumnType(%d) = %v, want %v", i, cur.ColumnType(i), w.typ)
		}
		if v, ok := cur.ValueAsText(i); !ok || v != w.text {
			t.Errorf("ValueAsText(%d) = %q, %v, want %q", i, v, ok, w.text)
		}
	}

	if !cur.Next() {
		t.Fatalf("expected second row: %v", cur.Err())
	}
	for i := 1; i < 4; i++ {
		if cur.ColumnType(i) != model.TypeNull {
			t.Errorf("ColumnType(%d) = %v, want null", i, cur.ColumnType(i))
		}
		if _, ok := cur.ValueAsText(i); ok {
			t.Errorf("ValueAsText(%d) reported a value for NULL", i)
		}
	}

	if cur.Next() {
		t.Error("expected end of rows")
	}
	if err := cur.Err(); err != nil {
		t.Errorf("Err: %v", err)
	}
}

func TestQuery_UnknownTable(t *testing.T) {
	s := openFleet(t)

	_, err := s.Query(context.Background(), "missing")
	if !errors.Is(err, store.ErrUnknownTable) {
		t.Errorf("Query(missing) error = %v, want ErrUnknownTable", err)
	}
}

func TestTables(t *testing.T) {
	s := openFleet(t)

	infos, err := s.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	want := []store.TableInfo{
		{Name: "note", PrimaryKey: ""},
		{Name: "vehicle", PrimaryKey: "vehicle_id"},
	}
	if len(infos) != len(want) {
		t.Fatalf("Tables = %v, want %v", infos, want)
	}
	for i := range want {
		if infos[i] != want[i] {
			t.Errorf("Tables[%d] = %+v, want %+v", i, infos[i], want[i])
		}
	}
}

func TestExportRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openFleet(t)

	enc := archive.NewEncoder(s)
	if err := enc.RegisterTable("vehicle", "vehicle_id"); err != nil {
		t.Fatalf("RegisterTable: %v", err)
	}
	var buf closingBuffer
	if _, err := enc.Encode(ctx, &buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	exported := buf.String()

	db, err := archive.Parse(io.NopCloser(bytes.NewReader(buf.Bytes())))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, err := s.DB().ExecContext(ctx, `UPDATE vehicle SET name = 'changed'; INSERT INTO vehicle VALUES (9, 'extra', 1, NULL)`); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	stats, err := s.Restore(ctx, db)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if stats.Tables != 1 || stats.RowsDeleted != 3 || stats.RowsWritten != 2 {
		t.Errorf("stats = %+v, want 1 table, 3 deleted, 2 written", stats)
	}

	enc = archive.NewEncoder(s)
	enc.RegisterTable("vehicle", "vehicle_id")
	var again closingBuffer
	if _, err := enc.Encode(ctx, &again); err != nil {
		t.Fatalf("Encode after restore: %v", err)
	}
	if again.String() != exported {
		t.Errorf("archive after restore differs:\n%s\nwant:\n%s", again.String(), exported)
	}
}

func TestRestore_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := openFleet(t)

	db := &model.Database{}
	v := db.AddTable("vehicle", "vehicle_id")
	r := v.AddRow()
	r.AddColumn(model.MustColumn("vehicle_id", model.TypeInteger, "1"))
	db.AddTable("missing", "id")

	if _, err := s.Restore(ctx, db); !errors.Is(err, store.ErrUnknownTable) {
		t.Fatalf("Restore error = %v, want ErrUnknownTable", err)
	}

	var n int
	if err := s.DB().QueryRowContext(ctx, `SELECT count(*) FROM vehicle`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("vehicle rows after failed restore = %d, want 2", n)
	}
}

func TestBindValue(t *testing.T) {
	tests := []struct {
		name string
		col  *model.Column
		want any
	}{
		{"integer", model.MustColumn("c", model.TypeInteger, "42"), int64(42)},
		{"float", model.MustColumn("c", model.TypeFloat, "2.5"), 2.5},
		{"text", model.MustColumn("c", model.TypeText, "x"), "x"},
		{"integer falls back to text", model.MustColumn("c", model.TypeInteger, "12abc"), "12abc"},
		{"null", model.NullColumn("c", model.TypeNull), nil},
		{"unset", model.NullColumn("c", model.TypeText), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bindValue(tt.col)
			if err != nil {
				t.Fatalf("bindValue: %v", err)
			}
			if got != tt.want {
				t.Errorf("bindValue = %#v, want %#v", got, tt.want)
			}
		})
	}

	blob, err := bindValue(model.MustColumn("c", model.TypeBinary, "AQL/"))
	if err != nil {
		t.Fatalf("bindValue(blob): %v", err)
	}
	if !bytes.Equal(blob.([]byte), []byte{1, 2, 0xff}) {
		t.Errorf("blob = %v", blob)
	}

	if _, err := bindValue(model.MustColumn("c", model.TypeBinary, "not base64!")); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestExportRestore_DateColumnsKeepStoredValues(t *testing.T) {
	ctx := context.Background()
	s := openFleet(t)

	if _, err := s.DB().ExecContext(ctx, `
CREATE TABLE trip (trip_id INTEGER PRIMARY KEY, active BOOLEAN, started DATETIME);
INSERT INTO trip VALUES (1, 1, '2024-01-02 03:04:05');
INSERT INTO trip VALUES (2, 0, 2460311.5);
`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	enc := archive.NewEncoder(s)
	enc.RegisterTable("trip", "trip_id")
	var buf closingBuffer
	if _, err := enc.Encode(ctx, &buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, want := range []string{
		`<column name="started" type="3">2024-01-02 03:04:05</column>`,
		`<column name="started" type="2">2460311.5</column>`,
		`<column name="active" type="1">1</column>`,
	} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Errorf("archive missing %s:\n%s", want, buf.String())
		}
	}

	db, err := archive.Parse(io.NopCloser(bytes.NewReader(buf.Bytes())))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `UPDATE trip SET started = NULL`); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if _, err := s.Restore(ctx, db); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	rows, err := s.DB().QueryContext(ctx, `SELECT typeof(started), CAST(started AS TEXT) FROM trip ORDER BY trip_id`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	defer rows.Close()

	want := [][2]string{{"text", "2024-01-02 03:04:05"}, {"real", "2460311.5"}}
	var got [][2]string
	for rows.Next() {
		var typ, text string
		if err := rows.Scan(&typ, &text); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, [2]string{typ, text})
	}
	if len(got) != len(want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCursor_StopsAfterLastRow(t *testing.T) {
	s := openFleet(t)

	cur, err := s.Query(context.Background(), "note")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	n := 0
	for cur.Next() {
		n++
	}
	if cur.Next() {
		t.Error("Next restarted a finished statement")
	}
	if n != 1 || cur.Err() != nil {
		t.Errorf("rows = %d, err = %v", n, cur.Err())
	}
	if err := cur.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	// The connection is back in the pool once the cursor is closed.
	if err := s.DB().PingContext(context.Background()); err != nil {
		t.Errorf("Ping after Close: %v", err)
	}
}
