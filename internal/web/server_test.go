package web

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/dbarchive/internal/archive"
	"github.com/JonMunkholm/dbarchive/internal/config"
	"github.com/JonMunkholm/dbarchive/internal/core"
	"github.com/JonMunkholm/dbarchive/internal/model"
	"github.com/JonMunkholm/dbarchive/internal/store/memstore"
)

const testKey = "test-key"

func newTestServer(t *testing.T) (*Server, *memstore.Store) {
	t.Helper()

	st := memstore.New()
	st.CreateTable("vehicle", "vehicle_id")
	st.Insert("vehicle",
		model.MustColumn("vehicle_id", model.TypeInteger, "7"),
		model.MustColumn("name", model.TypeText, "Truck"),
	)

	reg, err := core.NewRegistry(core.TableSpec{Name: "vehicle", PrimaryKey: "vehicle_id"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	svc := core.NewService(st, reg, core.Options{MaxConcurrent: 2, MaxWait: 50 * time.Millisecond})

	cfg := &config.Config{
		Archive:  config.ArchiveConfig{MaxUploadSize: 4096},
		Security: config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{testKey}},
	}
	return NewServer(svc, cfg), st
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func exportBody(t *testing.T, s *Server) string {
	t.Helper()
	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/export", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d, body %s", rec.Code, rec.Body.String())
	}
	return rec.Body.String()
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status     string                `json:"status"`
		Tables     int                   `json:"tables"`
		CanRestore bool                  `json:"canRestore"`
		Jobs       core.JobLimiterStatus `json:"jobs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Tables != 1 || !body.CanRestore || body.Jobs.MaxConcurrent != 2 {
		t.Errorf("health = %+v", body)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestListTables(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/tables", nil))
	var tables []core.TableSpec
	if err := json.NewDecoder(rec.Body).Decode(&tables); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tables) != 1 || tables[0].Name != "vehicle" || tables[0].PrimaryKey != "vehicle_id" {
		t.Errorf("tables = %+v", tables)
	}
}

func TestExport(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/export", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, ".xml") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if rec.Header().Get(JobIDHeader) == "" {
		t.Error("missing job id header")
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, archive.Header) {
		t.Errorf("body does not start with header: %q", body)
	}
	if !strings.Contains(body, `<column name="name" type="3">Truck</column>`) {
		t.Errorf("body missing cell:\n%s", body)
	}
}

func TestExport_UnregisteredTable(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/export?table=trip", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "STO003" {
		t.Errorf("code = %q, want STO003", got.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != "" {
		t.Errorf("error response carries Content-Disposition %q", cd)
	}
}

func TestInspect_RawBody(t *testing.T) {
	s, _ := newTestServer(t)
	doc := exportBody(t, s)

	rec := do(s, httptest.NewRequest(http.MethodPost, "/api/inspect", strings.NewReader(doc)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var res core.InspectResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Summary.Rows != 1 || len(res.Summary.Tables) != 1 || res.BytesRead != int64(len(doc)) {
		t.Errorf("result = %+v", res)
	}
}

func TestInspect_Multipart(t *testing.T) {
	s, _ := newTestServer(t)
	doc := exportBody(t, s)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "ignored")
	fw, _ := mw.CreateFormFile("file", "archive.xml")
	io.WriteString(fw, doc)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/inspect", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := do(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestInspect_Errors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"empty body", "", http.StatusBadRequest, "ARC009"},
		{"malformed", "<database><table", http.StatusUnprocessableEntity, "ARC001"},
		{"wrong root", "<html></html>", http.StatusUnprocessableEntity, "ARC002"},
		{"too large", "<database>" + strings.Repeat(" ", 5000) + "</database>", http.StatusRequestEntityTooLarge, "ARC008"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, httptest.NewRequest(http.MethodPost, "/api/inspect", strings.NewReader(tt.body)))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := decodeError(t, rec); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestRestore_RequiresAPIKey(t *testing.T) {
	s, _ := newTestServer(t)
	doc := exportBody(t, s)

	rec := do(s, httptest.NewRequest(http.MethodPost, "/api/restore", strings.NewReader(doc)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/restore", strings.NewReader(doc))
	req.Header.Set("X-API-Key", "wrong")
	if rec := do(s, req); rec.Code != http.StatusForbidden {
		t.Errorf("wrong key: status = %d, want 403", rec.Code)
	}
}

func TestRestore(t *testing.T) {
	s, st := newTestServer(t)
	doc := exportBody(t, s)

	st.Insert("vehicle", model.MustColumn("vehicle_id", model.TypeInteger, "8"))

	req := httptest.NewRequest(http.MethodPost, "/api/restore", strings.NewReader(doc))
	req.Header.Set("X-API-Key", testKey)
	rec := do(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var res core.RestoreResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Stats.RowsDeleted != 2 || res.Stats.RowsWritten != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}
	if got := exportBody(t, s); got != doc {
		t.Errorf("export after restore differs:\n%s\nwant:\n%s", got, doc)
	}

	jobs := do(s, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	var history []core.JobRecord
	if err := json.NewDecoder(jobs.Body).Decode(&history); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(history) != 3 || history[0].Kind != core.JobExport || history[1].Kind != core.JobRestore {
		t.Errorf("history = %+v", history)
	}
}

func TestTableParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/export?table=a,b&table=c&table=", nil)
	got := tableParams(req)
	want := []string{"a", "b", "c"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("tableParams = %v, want %v", got, want)
	}
}
