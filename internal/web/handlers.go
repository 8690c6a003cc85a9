package web

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/flightrecorder/internal/core"
	"github.com/JonMunkholm/flightrecorder/internal/ingest"
	"github.com/JonMunkholm/flightrecorder/internal/logging"
	"github.com/JonMunkholm/flightrecorder/internal/web/views"
)

// healthTimeout bounds the store ping of GET /health.
const healthTimeout = 2 * time.Second

// handleHealth reports liveness and store connectivity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	status := http.StatusOK

	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health check: store unreachable", "error", err)
			resp["status"] = "degraded"
			resp["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp["database"] = "ok"
		}
	}

	resp["runs"] = s.service.LimiterStatus()
	writeJSON(w, status, resp)
}

// handleSchedule reports the daily scheduler state.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ScheduleStatus())
}

// handleSync runs a batch synchronously and returns its report.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	body, err := decodeSyncRequest(r)
	if err != nil {
		s.respondErrorStatus(w, r, err, http.StatusBadRequest)
		return
	}
	req, err := body.toCore()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	report, err := s.service.Sync(r.Context(), req, "api")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := syncResponse{BatchReport: report}
	if req.DryRun {
		resp.Diffs = report.Diffs
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLastRun returns the most recent batch report.
func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	report := s.service.LastReport()
	if report == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "no runs yet",
			Message: "No batch run has completed since startup",
			Code:    "RUN000",
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleListEntityTypes lists registered entity types, optionally filtered
// by ?group=.
func (s *Server) handleListEntityTypes(w http.ResponseWriter, r *http.Request) {
	schemas := core.All()
	if group := r.URL.Query().Get("group"); group != "" {
		schemas = core.ByGroup(group)
	}

	out := make([]entityTypeInfo, len(schemas))
	for i, schema := range schemas {
		out[i] = newEntityTypeInfo(schema)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListDiffs returns the stored diffs of one unit.
func (s *Server) handleListDiffs(w http.ResponseWriter, r *http.Request) {
	schema, customer, date, err := s.unitParams(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	diffs, err := s.service.ListDiffs(r.Context(), schema.EntityType, customer, date)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if diffs == nil {
		diffs = []core.DiffRecord{}
	}

	writeJSON(w, http.StatusOK, diffsResponse{
		EntityType: schema.EntityType,
		CustomerID: customer,
		Date:       date.Format(core.DateLayout),
		Count:      len(diffs),
		Diffs:      diffs,
	})
}

// handleIngestSnapshot stores a captured snapshot. The body is either a
// multipart form with a "file" field or the raw CSV or JSON document.
func (s *Server) handleIngestSnapshot(w http.ResponseWriter, r *http.Request) {
	schema, customer, date, err := s.unitParams(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, ingest.MaxFileSize)

	body, format, err := snapshotBody(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if f, ok := body.(io.Closer); ok {
		defer f.Close()
	}
	switch r.URL.Query().Get("format") {
	case "json":
		format = ingest.FormatJSON
	case "csv":
		format = ingest.FormatCSV
	}

	records, err := ingest.Parse(schema, format, body)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	n, err := s.service.IngestSnapshot(r.Context(), core.Snapshot{
		EntityType: schema.EntityType,
		CustomerID: customer,
		AsOf:       date,
		Records:    records,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{
		EntityType: schema.EntityType,
		CustomerID: customer,
		Date:       date.Format(core.DateLayout),
		Format:     format.String(),
		Records:    n,
	})
}

// snapshotBody returns the uploaded document and its detected format. Only
// multipart/form-data bodies are parsed as forms; anything else, including
// form-urlencoded bodies sent by "curl -d", is the raw document.
func snapshotBody(r *http.Request) (io.Reader, ingest.Format, error) {
	ct := r.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil && mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, 0, fmt.Errorf("invalid snapshot file: %w", err)
		}
		return file, ingest.DetectFormat(header.Filename, header.Header.Get("Content-Type")), nil
	}

	br := bufio.NewReader(r.Body)
	format := ingest.DetectFormat("", ct)
	if format == ingest.FormatCSV && !strings.Contains(strings.ToLower(ct), "csv") && looksLikeJSON(br) {
		format = ingest.FormatJSON
	}
	return br, format, nil
}

// looksLikeJSON peeks at the first non-space byte.
func looksLikeJSON(br *bufio.Reader) bool {
	for i := 1; ; i++ {
		peek, _ := br.Peek(i)
		if len(peek) < i {
			return false
		}
		switch c := peek[i-1]; c {
		case ' ', '\t', '\r', '\n':
		default:
			return c == '[' || c == '{'
		}
	}
}

// handleStatusPage renders the HTML status page.
func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	data := views.StatusData{
		Projects:   s.service.Projects(),
		Schedule:   s.service.ScheduleStatus(),
		LastReport: s.service.LastReport(),
		Runs:       s.service.LimiterStatus(),
	}
	for _, group := range core.Groups() {
		data.Groups = append(data.Groups, views.GroupInfo{
			Name:    group,
			Schemas: core.ByGroup(group),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.StatusPage(data).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render status page", "error", err)
	}
}
