package application

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/dbarchive/internal/config"
	"github.com/JonMunkholm/dbarchive/internal/core"
	"github.com/JonMunkholm/dbarchive/internal/store/sqlitestore"
)

func seedFleet(t *testing.T, path string) {
	t.Helper()
	st, err := sqlitestore.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	for _, stmt := range []string{
		`CREATE TABLE vehicle (vehicle_id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE note (body TEXT)`,
		`INSERT INTO vehicle VALUES (1, 'Truck')`,
	} {
		if _, err := st.DB().Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
}

func sqliteConfig(path string, archive config.ArchiveConfig) *config.Config {
	return &config.Config{
		Store:   config.StoreConfig{Driver: config.DriverSQLite, URL: path},
		Archive: archive,
	}
}

func TestNew_Discover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.db")
	seedFleet(t, path)

	app, err := New(context.Background(), sqliteConfig(path, config.ArchiveConfig{Discover: true}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer app.Close()

	tables := app.Service.Tables()
	if len(tables) != 1 || tables[0] != (core.TableSpec{Name: "vehicle", PrimaryKey: "vehicle_id"}) {
		t.Errorf("tables = %+v, want only vehicle", tables)
	}
	if !app.Service.CanRestore() {
		t.Error("sqlite store should accept restores")
	}
}

func TestNew_ExplicitListFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.db")
	seedFleet(t, path)

	app, err := New(context.Background(), sqliteConfig(path, config.ArchiveConfig{
		Tables:   "note:body",
		Discover: true,
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer app.Close()

	tables := app.Service.Tables()
	if len(tables) != 2 || tables[0].Name != "note" || tables[1].Name != "vehicle" {
		t.Errorf("tables = %+v, want note then vehicle", tables)
	}
}

func TestNew_BadTableList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.db")
	_, err := New(context.Background(), sqliteConfig(path, config.ArchiveConfig{Tables: "vehicle"}))
	if err == nil {
		t.Fatal("New accepted a table without primary key")
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	if _, err := OpenStore(context.Background(), config.StoreConfig{Driver: "oracle"}); err == nil {
		t.Fatal("OpenStore accepted an unknown driver")
	}
}
