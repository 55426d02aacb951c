package web

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/dbarchive/internal/core"
	"github.com/JonMunkholm/dbarchive/internal/logging"
)

// JobIDHeader carries the job id of an export, inspect or restore.
const JobIDHeader = "X-Job-ID"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":     "ok",
		"tables":     len(s.service.Tables()),
		"canRestore": s.service.CanRestore(),
		"jobs":       s.service.Limiter().Status(),
	})
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Tables())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Jobs())
}

// handleExport streams the archive as a download. Errors raised before the
// first byte is written get a JSON error response; later ones can only be
// logged, and the client sees a truncated document.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	jobID := core.NewJobID()
	out := &attachmentWriter{
		w:        w,
		jobID:    jobID,
		filename: fmt.Sprintf("archive-%s-%s.xml", time.Now().UTC().Format("20060102T150405Z"), jobID[:8]),
	}

	_, err := s.service.Export(r.Context(), out, core.ExportOptions{
		JobID:  jobID,
		Tables: tableParams(r),
	})
	if err == nil {
		return
	}
	if !out.started {
		s.respondError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Error("export aborted mid-stream", "job_id", jobID, "error", err)
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	body, size, err := s.archiveBody(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.Inspect(r.Context(), body, size)
	w.Header().Set(JobIDHeader, res.JobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	body, size, err := s.archiveBody(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.Restore(r.Context(), body, size)
	w.Header().Set(JobIDHeader, res.JobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// tableParams collects ?table= values; each may hold a comma-separated list.
func tableParams(r *http.Request) []string {
	var names []string
	for _, v := range r.URL.Query()["table"] {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// archiveBody returns the uploaded archive, either the raw request body or
// the "file" part of a multipart form, capped at the configured size. The
// multipart form is streamed, not buffered.
func (s *Server) archiveBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, int64, error) {
	limited := &limitedBody{ReadCloser: http.MaxBytesReader(w, r.Body, s.cfg.Archive.MaxUploadSize)}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if r.ContentLength == 0 {
			return nil, 0, errNoArchive
		}
		return limited, max(r.ContentLength, 0), nil
	}

	r.Body = limited
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", errNoArchive, err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, 0, errNoArchive
		}
		if err != nil {
			return nil, 0, err
		}
		if part.FormName() == "file" {
			return partBody{Reader: part, Closer: limited}, 0, nil
		}
		part.Close()
	}
}

// limitedBody reports an exceeded size cap as core.ErrArchiveTooLarge.
type limitedBody struct {
	io.ReadCloser
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		err = fmt.Errorf("%w: limit is %d bytes", core.ErrArchiveTooLarge, tooLarge.Limit)
	}
	return n, err
}

type partBody struct {
	io.Reader
	io.Closer
}

// attachmentWriter sends the download headers with the first write, so a
// job that fails before producing output can still answer with an error.
type attachmentWriter struct {
	w        http.ResponseWriter
	jobID    string
	filename string
	started  bool
}

func (a *attachmentWriter) Write(p []byte) (int, error) {
	if !a.started {
		a.started = true
		h := a.w.Header()
		h.Set("Content-Type", "application/xml; charset=utf-8")
		h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.filename))
		h.Set(JobIDHeader, a.jobID)
		a.w.WriteHeader(http.StatusOK)
	}
	return a.w.Write(p)
}

// Close flushes buffered output to the client.
func (a *attachmentWriter) Close() error {
	if !a.started {
		return nil
	}
	err := http.NewResponseController(a.w).Flush()
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}
