package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/dbarchive/internal/archive"
	"github.com/JonMunkholm/dbarchive/internal/logging"
	"github.com/JonMunkholm/dbarchive/internal/store"
	"github.com/google/uuid"
)

// DefaultJobTimeout bounds a single export, inspect or restore.
const DefaultJobTimeout = 10 * time.Minute

// ProgressLogInterval is the number of archive bytes between progress log
// lines during inspect and restore.
const ProgressLogInterval = 8 << 20

// DefaultHistorySize is the number of finished jobs kept for Jobs.
const DefaultHistorySize = 50

var (
	// ErrRestoreUnsupported is returned by Restore when the store is read-only.
	ErrRestoreUnsupported = errors.New("store does not support restore")
	// ErrTableNotRegistered is returned when an archive or export request
	// names a table outside the registry.
	ErrTableNotRegistered = errors.New("table not registered")
	// ErrArchiveTooLarge is reported by transports that cap upload size.
	ErrArchiveTooLarge = errors.New("archive exceeds upload size limit")
)

// JobKind names the operation a job performs.
type JobKind string

const (
	JobExport  JobKind = "export"
	JobInspect JobKind = "inspect"
	JobRestore JobKind = "restore"
)

// Options configure a Service.
type Options struct {
	MaxConcurrent int
	MaxWait       time.Duration
	JobTimeout    time.Duration
	HistorySize   int
}

// Service runs archive jobs against one store connection. The connection
// is owned by the caller.
type Service struct {
	conn       store.Conn
	registry   *Registry
	limiter    *JobLimiter
	jobTimeout time.Duration

	mu         sync.Mutex
	history    []JobRecord
	historyCap int
}

// NewService creates a Service exporting the tables in registry from conn.
func NewService(conn store.Conn, registry *Registry, opts Options) *Service {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	return &Service{
		conn:       conn,
		registry:   registry,
		limiter:    NewJobLimiter(opts.MaxConcurrent, opts.MaxWait),
		jobTimeout: opts.JobTimeout,
		historyCap: opts.HistorySize,
	}
}

// NewJobID returns a fresh job id.
func NewJobID() string {
	return uuid.New().String()
}

// Tables returns the registered tables in export order.
func (s *Service) Tables() []TableSpec {
	return s.registry.All()
}

// Limiter exposes the job limiter for health reporting and shutdown.
func (s *Service) Limiter() *JobLimiter {
	return s.limiter
}

// CanRestore reports whether the store accepts restores.
func (s *Service) CanRestore() bool {
	_, ok := s.conn.(store.Restorer)
	return ok
}

// ExportOptions select what an export writes.
type ExportOptions struct {
	// JobID is generated when empty.
	JobID string
	// Tables limits the export to these registered tables, keeping
	// registry order. Empty means all.
	Tables []string
}

// ExportResult describes a finished export.
type ExportResult struct {
	JobID string `json:"jobId"`
	archive.EncodeResult
}

// Export writes an archive of the selected tables to w. w is closed on
// every path.
func (s *Service) Export(ctx context.Context, w io.WriteCloser, opts ExportOptions) (res ExportResult, err error) {
	if opts.JobID == "" {
		opts.JobID = NewJobID()
	}
	res.JobID = opts.JobID

	ctx, logger, done, err := s.begin(ctx, opts.JobID, JobExport)
	if err != nil {
		w.Close()
		return res, err
	}
	defer func() {
		done(JobRecord{Tables: res.Tables, Rows: res.Rows, Bytes: res.Bytes}, err)
	}()

	specs, err := s.selectTables(opts.Tables)
	if err != nil {
		w.Close()
		return res, err
	}

	enc := archive.NewEncoder(s.conn).WithLogger(logger)
	for _, spec := range specs {
		if err := enc.RegisterTable(spec.Name, spec.PrimaryKey); err != nil {
			w.Close()
			return res, err
		}
	}

	res.EncodeResult, err = enc.Encode(ctx, w)
	if err != nil {
		return res, err
	}
	return res, nil
}

func (s *Service) selectTables(names []string) ([]TableSpec, error) {
	if len(names) == 0 {
		return s.registry.All(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := s.registry.Get(n); !ok {
			return nil, fmt.Errorf("%w: %s", ErrTableNotRegistered, n)
		}
		want[n] = true
	}
	var specs []TableSpec
	for _, spec := range s.registry.All() {
		if want[spec.Name] {
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

// InspectResult describes a parsed archive.
type InspectResult struct {
	JobID     string          `json:"jobId"`
	BytesRead int64           `json:"bytesRead"`
	Summary   archive.Summary `json:"summary"`
}

// Inspect parses the archive in r and summarizes it without touching the
// store. size is the expected length, or 0 when unknown. r is closed on
// every path.
func (s *Service) Inspect(ctx context.Context, r io.ReadCloser, size int64) (res InspectResult, err error) {
	res.JobID = NewJobID()

	ctx, logger, done, err := s.begin(ctx, res.JobID, JobInspect)
	if err != nil {
		r.Close()
		return res, err
	}
	defer func() {
		done(JobRecord{Tables: len(res.Summary.Tables), Rows: res.Summary.Rows, Bytes: res.BytesRead}, err)
	}()

	counter := newProgressReader(ctx, r, size, logger)
	db, err := archive.Parse(readCloser{Reader: counter, Closer: r})
	res.BytesRead = counter.BytesRead()
	if err != nil {
		return res, err
	}

	res.Summary = archive.Summarize(db)
	logger.Debug("archive parsed", "tables", len(res.Summary.Tables), "rows", res.Summary.Rows)
	return res, nil
}

// RestoreResult describes a finished restore.
type RestoreResult struct {
	JobID     string             `json:"jobId"`
	BytesRead int64              `json:"bytesRead"`
	Summary   archive.Summary    `json:"summary"`
	Stats     store.RestoreStats `json:"stats"`
}

// Restore parses the archive in r and replaces the contents of its tables.
// Every archived table must be registered. Nothing is written unless the
// whole archive parses. r is closed on every path.
func (s *Service) Restore(ctx context.Context, r io.ReadCloser, size int64) (res RestoreResult, err error) {
	res.JobID = NewJobID()

	restorer, ok := s.conn.(store.Restorer)
	if !ok {
		r.Close()
		return res, ErrRestoreUnsupported
	}

	ctx, logger, done, err := s.begin(ctx, res.JobID, JobRestore)
	if err != nil {
		r.Close()
		return res, err
	}
	defer func() {
		done(JobRecord{Tables: res.Stats.Tables, Rows: int(res.Stats.RowsWritten), Bytes: res.BytesRead}, err)
	}()

	counter := newProgressReader(ctx, r, size, logger)
	db, err := archive.Parse(readCloser{Reader: counter, Closer: r})
	res.BytesRead = counter.BytesRead()
	if err != nil {
		return res, err
	}
	res.Summary = archive.Summarize(db)

	for _, t := range db.Tables {
		if _, ok := s.registry.Get(t.Name); !ok {
			return res, fmt.Errorf("%w: %s", ErrTableNotRegistered, t.Name)
		}
	}

	res.Stats, err = restorer.Restore(ctx, db)
	if err != nil {
		return res, fmt.Errorf("restore: %w", err)
	}
	logger.Info("archive restored",
		"tables", res.Stats.Tables,
		"rows_deleted", res.Stats.RowsDeleted,
		"rows_written", res.Stats.RowsWritten,
	)
	return res, nil
}

// begin acquires a job slot and applies the job timeout. The returned done
// func releases the slot and records the outcome.
func (s *Service) begin(ctx context.Context, id string, kind JobKind) (context.Context, *slog.Logger, func(JobRecord, error), error) {
	ctx = logging.ContextWithJobID(ctx, id)
	logger := logging.WithFields(ctx, "job", string(kind))

	release, err := s.limiter.Acquire(ctx, id, kind)
	if err != nil {
		logger.Warn("job rejected", "error", err)
		return ctx, logger, nil, err
	}

	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	logger.Info("job started")

	return ctx, logger, func(rec JobRecord, err error) {
		cancel()
		release()

		rec.ID, rec.Kind, rec.Started = id, kind, started
		rec.Duration = time.Since(started)
		if err != nil {
			rec.Error = err.Error()
			logger.Error("job failed", "error", err, "duration", rec.Duration)
		} else {
			logger.Info("job completed",
				"tables", rec.Tables,
				"rows", rec.Rows,
				"bytes", rec.Bytes,
				"duration", rec.Duration,
			)
		}
		s.record(rec)
	}, nil
}

// newProgressReader wraps an uploaded archive so reads stop when ctx is done
// and progress is logged every ProgressLogInterval bytes.
func newProgressReader(ctx context.Context, r io.Reader, size int64, logger *slog.Logger) *archive.CountingReader {
	counter := archive.NewCountingReader(&contextReader{ctx: ctx, r: r}, size)
	return counter.OnProgress(ProgressLogInterval, func(read, size int64) {
		logger.Info("archive read progress", "bytes", read, "size", size, "percent", counter.Percent())
	})
}

// contextReader fails reads once ctx is done, so a parse stops at the job
// timeout or when the client goes away.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

type readCloser struct {
	io.Reader
	io.Closer
}
