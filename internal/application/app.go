// Package application wires configuration, the store, the table registry
// and the archive service together. Both the HTTP server and the CLI start
// from New.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/dbarchive/internal/config"
	"github.com/JonMunkholm/dbarchive/internal/core"
	"github.com/JonMunkholm/dbarchive/internal/store"
	"github.com/JonMunkholm/dbarchive/internal/store/pgstore"
	"github.com/JonMunkholm/dbarchive/internal/store/sqlitestore"
)

// App is a ready-to-use archive service and the store it owns.
type App struct {
	Config   *config.Config
	Store    store.Store
	Registry *core.Registry
	Service  *core.Service
}

// New opens the configured store and registers the export tables: the
// ARCHIVE_TABLES list first, then discovered tables when enabled.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistry(ctx, st, cfg.Archive)
	if err != nil {
		st.Close()
		return nil, err
	}

	svc := core.NewService(st, reg, core.Options{
		MaxConcurrent: cfg.Archive.MaxConcurrent,
		MaxWait:       cfg.Archive.MaxWait,
		JobTimeout:    cfg.Archive.Timeout,
		HistorySize:   cfg.Archive.HistorySize,
	})

	slog.Info("archive service ready",
		"driver", cfg.Store.Driver,
		"tables", reg.Len(),
		"max_concurrent", svc.Limiter().MaxConcurrent(),
	)
	return &App{Config: cfg, Store: st, Registry: reg, Service: svc}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// OpenStore connects to the database selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.DriverPostgres:
		st, err := pgstore.Open(ctx, cfg.URL,
			pgstore.PoolOptions{
				MaxConns:        cfg.MaxConns,
				MinConns:        cfg.MinConns,
				MaxConnLifetime: cfg.MaxConnLifetime,
				MaxConnIdleTime: cfg.MaxConnIdleTime,
			},
			pgstore.Options{Schemas: cfg.Schemas, BatchSize: cfg.RestoreBatchSize},
		)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverSQLite:
		st, err := sqlitestore.Open(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func buildRegistry(ctx context.Context, cat store.Cataloger, cfg config.ArchiveConfig) (*core.Registry, error) {
	specs, err := core.ParseTableList(cfg.Tables)
	if err != nil {
		return nil, err
	}
	reg, err := core.NewRegistry(specs...)
	if err != nil {
		return nil, err
	}

	if cfg.Discover {
		added, err := reg.Discover(ctx, cat, slog.Default())
		if err != nil {
			return nil, err
		}
		slog.Info("tables discovered", "added", added)
	}
	return reg, nil
}
