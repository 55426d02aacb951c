package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/JonMunkholm/dbarchive/internal/store"
)

var (
	// ErrDuplicateTable is returned when a table is registered twice.
	ErrDuplicateTable = errors.New("table already registered")
	// ErrInvalidTableSpec is returned for a malformed table list entry.
	ErrInvalidTableSpec = errors.New("invalid table spec")
)

// TableSpec names a table to export and its primary key column.
type TableSpec struct {
	Name       string `json:"name"`
	PrimaryKey string `json:"primaryKey"`
}

// Registry is the ordered list of tables included in every export.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	specs []TableSpec
	index map[string]int
}

// NewRegistry returns a registry holding specs, in order.
func NewRegistry(specs ...TableSpec) (*Registry, error) {
	r := &Registry{index: make(map[string]int)}
	for _, s := range specs {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends spec. Names must be unique and both fields non-empty.
func (r *Registry) Register(spec TableSpec) error {
	if spec.Name == "" || spec.PrimaryKey == "" {
		return fmt.Errorf("%w: name and primary key are required (got %q:%q)", ErrInvalidTableSpec, spec.Name, spec.PrimaryKey)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTable, spec.Name)
	}
	r.index[spec.Name] = len(r.specs)
	r.specs = append(r.specs, spec)
	return nil
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (TableSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return TableSpec{}, false
	}
	return r.specs[i], true
}

// All returns the specs in registration order.
func (r *Registry) All() []TableSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TableSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Len returns the number of registered tables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}

// Discover registers every catalog table that has a primary key and is not
// registered yet. Tables without a primary key cannot be archived and are
// skipped with a warning. It returns the number of tables added.
func (r *Registry) Discover(ctx context.Context, c store.Cataloger, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	infos, err := c.Tables(ctx)
	if err != nil {
		return 0, fmt.Errorf("discover tables: %w", err)
	}

	added := 0
	for _, info := range infos {
		if info.PrimaryKey == "" {
			logger.Warn("skipping table without primary key", "table", info.Name)
			continue
		}
		if _, exists := r.Get(info.Name); exists {
			continue
		}
		if err := r.Register(TableSpec{Name: info.Name, PrimaryKey: info.PrimaryKey}); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// ParseTableList parses "name:pk,name:pk" into specs. Whitespace around
// entries is ignored and an empty list yields no specs.
func ParseTableList(list string) ([]TableSpec, error) {
	var specs []TableSpec
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, pk, ok := strings.Cut(entry, ":")
		name, pk = strings.TrimSpace(name), strings.TrimSpace(pk)
		if !ok || name == "" || pk == "" {
			return nil, fmt.Errorf("%w: %q, want name:primary_key", ErrInvalidTableSpec, entry)
		}
		specs = append(specs, TableSpec{Name: name, PrimaryKey: pk})
	}
	return specs, nil
}
