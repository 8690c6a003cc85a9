package web

// handlers_common.go holds request parsing and response types shared by the
// handlers.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/flightrecorder/internal/core"
)

// maxSyncBodySize bounds POST /api/sync request bodies.
const maxSyncBodySize = 64 * 1024

// syncRequest is the JSON body of POST /api/sync. Every field is optional;
// an empty body syncs yesterday for all projects and entity types.
type syncRequest struct {
	Date        string   `json:"date"`
	StartDate   string   `json:"startDate"`
	EndDate     string   `json:"endDate"`
	Projects    []string `json:"projects"`
	EntityTypes []string `json:"entityTypes"`
	Group       string   `json:"group"`
	DryRun      bool     `json:"dryRun"`
}

// toCore converts the request, validating dates.
func (req syncRequest) toCore() (core.SyncRequest, error) {
	var out core.SyncRequest
	var err error
	if out.Date, err = parseOptionalDate(req.Date); err != nil {
		return out, err
	}
	if out.StartDate, err = parseOptionalDate(req.StartDate); err != nil {
		return out, err
	}
	if out.EndDate, err = parseOptionalDate(req.EndDate); err != nil {
		return out, err
	}
	out.Projects = req.Projects
	out.EntityTypes = req.EntityTypes
	out.Group = req.Group
	out.DryRun = req.DryRun
	return out, nil
}

// syncResponse is a BatchReport plus the computed diffs of a dry run.
type syncResponse struct {
	*core.BatchReport
	Diffs map[string][]core.DiffRecord `json:"diffs,omitempty"`
}

// diffsResponse is returned by GET /api/diffs/{entityType}.
type diffsResponse struct {
	EntityType string            `json:"entityType"`
	CustomerID string            `json:"customerId"`
	Date       string            `json:"date"`
	Count      int               `json:"count"`
	Diffs      []core.DiffRecord `json:"diffs"`
}

// ingestResponse is returned by POST /api/snapshots/{entityType}.
type ingestResponse struct {
	EntityType string `json:"entityType"`
	CustomerID string `json:"customerId"`
	Date       string `json:"date"`
	Format     string `json:"format"`
	Records    int    `json:"records"`
}

// fieldInfo describes one compared field.
type fieldInfo struct {
	Name    string  `json:"name"`
	Kind    string  `json:"kind"`
	Epsilon float64 `json:"epsilon,omitempty"`
}

// entityTypeInfo describes one registered entity type.
type entityTypeInfo struct {
	EntityType string      `json:"entityType"`
	Label      string      `json:"label"`
	Group      string      `json:"group"`
	KeyFields  []string    `json:"keyFields"`
	Fields     []fieldInfo `json:"fields"`
}

func newEntityTypeInfo(s core.EntitySchema) entityTypeInfo {
	fields := make([]fieldInfo, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = fieldInfo{Name: f.Name, Kind: f.Kind.String(), Epsilon: f.Epsilon}
	}
	return entityTypeInfo{
		EntityType: s.EntityType,
		Label:      s.Label,
		Group:      s.Group,
		KeyFields:  s.KeyFields,
		Fields:     fields,
	}
}

// decodeSyncRequest reads the optional JSON body of a sync request.
func decodeSyncRequest(r *http.Request) (syncRequest, error) {
	var req syncRequest
	if r.Body == nil {
		return req, nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSyncBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

// parseOptionalDate parses a calendar date, returning the zero time for "".
func parseOptionalDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	d, ok := core.ParseDate(s)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return d, nil
}

// unitParams reads the entity type path parameter and the customer and date
// query parameters. A missing date means yesterday.
func (s *Server) unitParams(r *http.Request) (core.EntitySchema, string, time.Time, error) {
	schema, err := core.Schema(chi.URLParam(r, "entityType"))
	if err != nil {
		return core.EntitySchema{}, "", time.Time{}, err
	}

	customer := core.NormalizeCustomerID(r.URL.Query().Get("customer"))
	if customer == "" {
		return core.EntitySchema{}, "", time.Time{}, errors.New("customer id is required")
	}

	date, err := parseOptionalDate(r.URL.Query().Get("date"))
	if err != nil {
		return core.EntitySchema{}, "", time.Time{}, err
	}
	if date.IsZero() {
		date = s.service.Yesterday()
	}
	return schema, customer, date, nil
}
