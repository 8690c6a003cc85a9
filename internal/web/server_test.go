package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/flightrecorder/internal/config"
	"github.com/JonMunkholm/flightrecorder/internal/core"
	"github.com/JonMunkholm/flightrecorder/internal/store/sqlite"
)

// ============================================================================
// Test Helpers
// ============================================================================

var keywordSchema = core.EntitySchema{
	EntityType: "keyword",
	Group:      "Structure",
	Label:      "Keyword",
	KeyFields:  []string{"ad_group_id", "keyword_criterion_id"},
	Fields: []core.FieldSpec{
		{Name: "status", Kind: core.ExactScalar},
		{Name: "cpc_bid_micros", Kind: core.Numeric},
	},
}

const (
	day1CSV = "ad_group_id,keyword_criterion_id,status,cpc_bid_micros\n" +
		"10,1,ENABLED,1000000\n" +
		"10,2,ENABLED,500000\n"
	day2CSV = "ad_group_id,keyword_criterion_id,status,cpc_bid_micros\n" +
		"10,1,PAUSED,1000000\n" +
		"10,3,ENABLED,750000\n"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

// newTestServer builds a server over a temp SQLite store with one project.
func newTestServer(t *testing.T, modify func(*config.Config)) *Server {
	t.Helper()

	core.Clear()
	core.Register(keywordSchema)
	t.Cleanup(core.Clear)

	store, err := sqlite.New(filepath.Join(t.TempDir(), "recorder.db"))
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{}
	if modify != nil {
		modify(cfg)
	}

	svc := core.NewService(store, core.ServiceConfig{
		Workers:  2,
		Projects: []core.Project{{Name: "acme", CustomerID: "111-222-3333"}},
	})
	return NewServer(svc, cfg, store)
}

func do(t *testing.T, s *Server, method, target, contentType string, body []byte, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func ingestCSV(t *testing.T, s *Server, date, data string) {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/snapshots/keyword?customer=111-222-3333&date="+date, "text/csv", []byte(data))
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest %s status = %d, body %s", date, rec.Code, rec.Body.String())
	}
}

// ============================================================================
// Probe Tests
// ============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["database"] != "ok" {
		t.Errorf("body = %v, want status ok and database ok", body)
	}

	s.pinger = failingPinger{}
	rec = do(t, s, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status with failing store = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestSchedule_Disabled(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/schedule", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	status := decode[core.ScheduleStatus](t, rec)
	if status.Enabled {
		t.Error("Enabled = true, want false before the scheduler starts")
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/health", "", nil)
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

// ============================================================================
// API Tests
// ============================================================================

func TestListEntityTypes(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/api/entity-types", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	types := decode[[]entityTypeInfo](t, rec)
	if len(types) != 1 {
		t.Fatalf("len = %d, want 1", len(types))
	}
	if types[0].EntityType != "keyword" || len(types[0].KeyFields) != 2 {
		t.Errorf("types[0] = %+v", types[0])
	}
	if types[0].Fields[1].Kind != "NUMERIC" {
		t.Errorf("Fields[1].Kind = %q, want NUMERIC", types[0].Fields[1].Kind)
	}

	rec = do(t, s, http.MethodGet, "/api/entity-types?group=Outcomes", "", nil)
	if types := decode[[]entityTypeInfo](t, rec); len(types) != 0 {
		t.Errorf("unknown group returned %d types, want 0", len(types))
	}
}

func TestIngestSyncAndListDiffs(t *testing.T) {
	s := newTestServer(t, nil)

	ingestCSV(t, s, "2025-06-01", day1CSV)
	ingestCSV(t, s, "2025-06-02", day2CSV)

	rec := do(t, s, http.MethodPost, "/api/sync", "application/json",
		[]byte(`{"startDate":"2025-06-01","endDate":"2025-06-02"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("sync status = %d, body %s", rec.Code, rec.Body.String())
	}
	report := decode[core.BatchReport](t, rec)
	if report.Units != 2 || report.Skipped != 1 || report.Failed != 0 || report.TotalDiffs != 3 {
		t.Errorf("report = units %d skipped %d failed %d diffs %d, want 2/1/0/3",
			report.Units, report.Skipped, report.Failed, report.TotalDiffs)
	}
	if report.Trigger != "api" || report.RunID == "" {
		t.Errorf("Trigger = %q RunID = %q", report.Trigger, report.RunID)
	}

	rec = do(t, s, http.MethodGet, "/api/diffs/keyword?customer=1112223333&date=2025-06-02", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("diffs status = %d, body %s", rec.Code, rec.Body.String())
	}
	diffs := decode[diffsResponse](t, rec)
	if diffs.Count != 3 || len(diffs.Diffs) != 3 {
		t.Fatalf("Count = %d, want 3", diffs.Count)
	}

	want := []struct {
		class    core.ChangeClass
		identity string
		field    string
	}{
		{core.ChangeAdded, "10|3", core.EntityField},
		{core.ChangeRemoved, "10|2", core.EntityField},
		{core.ChangeFieldChanged, "10|1", "status"},
	}
	for i, w := range want {
		d := diffs.Diffs[i]
		if d.ChangeClass != w.class || d.Identity.String() != w.identity || d.ChangedField != w.field {
			t.Errorf("diffs[%d] = %s %s %s, want %s %s %s", i,
				d.ChangeClass, d.Identity, d.ChangedField, w.class, w.identity, w.field)
		}
	}
	if diffs.Diffs[2].OldValue.String != "ENABLED" || diffs.Diffs[2].NewValue.String != "PAUSED" {
		t.Errorf("status change = %v -> %v", diffs.Diffs[2].OldValue, diffs.Diffs[2].NewValue)
	}

	rec = do(t, s, http.MethodGet, "/api/runs/last", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("last run status = %d", rec.Code)
	}
	if last := decode[core.BatchReport](t, rec); last.RunID != report.RunID {
		t.Errorf("last RunID = %q, want %q", last.RunID, report.RunID)
	}
}

func TestSync_DryRunReturnsDiffs(t *testing.T) {
	s := newTestServer(t, nil)
	ingestCSV(t, s, "2025-06-01", day1CSV)
	ingestCSV(t, s, "2025-06-02", day2CSV)

	rec := do(t, s, http.MethodPost, "/api/sync", "application/json",
		[]byte(`{"date":"2025-06-02","dryRun":true,"entityTypes":["keyword"]}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[struct {
		DryRun bool                         `json:"dryRun"`
		Diffs  map[string][]core.DiffRecord `json:"diffs"`
	}](t, rec)
	if !resp.DryRun {
		t.Error("dryRun = false, want true")
	}
	if got := len(resp.Diffs["keyword/1112223333/2025-06-02"]); got != 3 {
		t.Errorf("dry-run diffs = %d, want 3", got)
	}

	rec = do(t, s, http.MethodGet, "/api/diffs/keyword?customer=1112223333&date=2025-06-02", "", nil)
	if diffs := decode[diffsResponse](t, rec); diffs.Count != 0 {
		t.Errorf("dry run persisted %d diffs, want 0", diffs.Count)
	}
}

func TestIngestSnapshot_MultipartJSON(t *testing.T) {
	s := newTestServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "keyword.json")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(`[{"ad_group_id": 10, "keyword_criterion_id": 1, "status": "ENABLED", "cpc_bid_micros": 1000000}]`))
	mw.Close()

	rec := do(t, s, http.MethodPost, "/api/snapshots/keyword?customer=111-222-3333&date=2025-06-01",
		mw.FormDataContentType(), buf.Bytes())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[ingestResponse](t, rec)
	if resp.Format != "json" || resp.Records != 1 || resp.CustomerID != "1112223333" || resp.Date != "2025-06-01" {
		t.Errorf("response = %+v", resp)
	}
}

func TestIngestSnapshot_RawBodies(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantFormat  string
	}{
		{
			name:        "form-urlencoded JSON",
			contentType: "application/x-www-form-urlencoded",
			body:        `[{"ad_group_id": 10, "keyword_criterion_id": 1, "status": "ENABLED"}]`,
			wantFormat:  "json",
		},
		{
			name:        "form-urlencoded CSV",
			contentType: "application/x-www-form-urlencoded",
			body:        "ad_group_id,keyword_criterion_id,status\n10,1,ENABLED\n",
			wantFormat:  "csv",
		},
		{
			name:        "no content type JSON object",
			contentType: "",
			body:        `  {"records": [{"ad_group_id": 10, "keyword_criterion_id": 1}]}`,
			wantFormat:  "json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec := do(t, s, http.MethodPost, "/api/snapshots/keyword?customer=111-222-3333&date=2025-06-01",
				tt.contentType, []byte(tt.body))
			if rec.Code != http.StatusCreated {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			resp := decode[ingestResponse](t, rec)
			if resp.Format != tt.wantFormat || resp.Records != 1 {
				t.Errorf("response = %+v, want format %s and 1 record", resp, tt.wantFormat)
			}
		})
	}
}

func TestLastRun_NoneYet(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/runs/last", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAPIErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name        string
		method      string
		target      string
		contentType string
		body        string
		wantStatus  int
		wantCode    string
	}{
		{"unknown entity type", http.MethodGet, "/api/diffs/nope?customer=1&date=2025-06-01", "", "", http.StatusNotFound, "CFG001"},
		{"missing customer", http.MethodGet, "/api/diffs/keyword?date=2025-06-01", "", "", http.StatusBadRequest, "IN004"},
		{"bad date", http.MethodGet, "/api/diffs/keyword?customer=1&date=June", "", "", http.StatusBadRequest, "IN001"},
		{"empty snapshot", http.MethodPost, "/api/snapshots/keyword?customer=1&date=2025-06-01", "text/csv", " \n", http.StatusBadRequest, "IN003"},
		{"no header", http.MethodPost, "/api/snapshots/keyword?customer=1&date=2025-06-01", "text/csv", "a,b\n1,2\n", http.StatusBadRequest, "IN002"},
		{"duplicate identity", http.MethodPost, "/api/snapshots/keyword?customer=1&date=2025-06-01", "text/csv",
			"ad_group_id,keyword_criterion_id\n10,1\n10,1\n", http.StatusUnprocessableEntity, "DQ001"},
		{"bad sync body", http.MethodPost, "/api/sync", "application/json", `{"date":`, http.StatusBadRequest, "ERR000"},
		{"bad sync date", http.MethodPost, "/api/sync", "application/json", `{"date":"2025-02-30"}`, http.StatusBadRequest, "IN001"},
		{"reversed range", http.MethodPost, "/api/sync", "application/json",
			`{"startDate":"2025-06-05","endDate":"2025-06-01"}`, http.StatusBadRequest, "IN001"},
		{"unknown project", http.MethodPost, "/api/sync", "application/json", `{"projects":["globex"]}`, http.StatusBadRequest, "CFG002"},
		{"unknown group", http.MethodPost, "/api/sync", "application/json", `{"group":"Nope"}`, http.StatusNotFound, "CFG001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.target, tt.contentType, []byte(tt.body))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			resp := decode[ErrorResponse](t, rec)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestAPIKeyRequired(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	})

	if rec := do(t, s, http.MethodGet, "/api/entity-types", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("without key status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec := do(t, s, http.MethodGet, "/api/entity-types", "", nil, "X-API-Key", "secret"); rec.Code != http.StatusOK {
		t.Errorf("with key status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec := do(t, s, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want %d", rec.Code, http.StatusOK)
	}
}

// ============================================================================
// Page Tests
// ============================================================================

func TestStatusPage(t *testing.T) {
	s := newTestServer(t, nil)
	ingestCSV(t, s, "2025-06-01", day1CSV)
	ingestCSV(t, s, "2025-06-02", day2CSV)
	do(t, s, http.MethodPost, "/api/sync", "application/json", []byte(`{"date":"2025-06-02"}`))

	rec := do(t, s, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{"Flight Recorder", "acme", "1112223333", "keyword", "Daily sync is disabled"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if !strings.Contains(body, "1 (1 succeeded, 0 skipped, 0 failed)") {
		t.Errorf("page missing unit summary:\n%s", body)
	}
}

func TestParseOptionalDate(t *testing.T) {
	d, err := parseOptionalDate(" 2025-06-02 ")
	if err != nil || !d.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("parseOptionalDate() = %v, %v", d, err)
	}
	if d, err := parseOptionalDate(""); err != nil || !d.IsZero() {
		t.Errorf("parseOptionalDate(\"\") = %v, %v, want zero", d, err)
	}
	if _, err := parseOptionalDate("tomorrow"); err == nil {
		t.Error("parseOptionalDate(tomorrow) expected error")
	}
}
