package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/flightrecorder/internal/logging"
)

// SnapshotWriter stores captured snapshots. SaveSnapshot replaces any
// snapshot already stored for the same (entity type, customer, date).
type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
}

// DiffReader queries persisted diff records in their stored order.
type DiffReader interface {
	ListDiffs(ctx context.Context, entityType, customerID string, asOf time.Time) ([]DiffRecord, error)
}

// Store is everything the service needs from a storage backend.
type Store interface {
	Source
	Sink
	SnapshotWriter
	DiffReader
	Close() error
}

// Project maps a configured project name to an advertising customer and an
// optional entity-type allow-list.
type Project struct {
	Name        string   `json:"name" yaml:"name"`
	CustomerID  string   `json:"customerId" yaml:"customer_id"`
	EntityTypes []string `json:"entityTypes,omitempty" yaml:"entity_types"`
}

// Allows reports whether the project tracks entityType.
func (p Project) Allows(entityType string) bool {
	if len(p.EntityTypes) == 0 {
		return true
	}
	for _, et := range p.EntityTypes {
		if et == entityType {
			return true
		}
	}
	return false
}

// NormalizeCustomerID strips dashes and spaces: "123-456-7890" -> "1234567890".
func NormalizeCustomerID(id string) string {
	return strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(id))
}

// ServiceConfig tunes batch runs. Zero values take defaults.
type ServiceConfig struct {
	Workers           int
	UnitTimeout       time.Duration
	BatchTimeout      time.Duration
	MaxConcurrentRuns int
	MaxWaitTime       time.Duration
	BatchDays         int           // Backfill chunk size in days
	BatchDelay        time.Duration // Pause between backfill chunks
	Location          *time.Location
	Projects          []Project
}

// SyncRequest selects what a batch run covers. With no dates set the run
// covers yesterday in the service's time zone.
type SyncRequest struct {
	Date        time.Time
	StartDate   time.Time
	EndDate     time.Time
	Projects    []string
	EntityTypes []string
	Group       string
	DryRun      bool

	// Backfill overrides; zero values use the service configuration.
	BatchDays  int
	BatchDelay time.Duration
}

// BatchReport summarizes one batch run.
type BatchReport struct {
	RunID      string               `json:"runId"`
	Trigger    string               `json:"trigger"`
	StartDate  string               `json:"startDate"`
	EndDate    string               `json:"endDate"`
	DryRun     bool                 `json:"dryRun,omitempty"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
	Units      int                  `json:"units"`
	Succeeded  int                  `json:"succeeded"`
	Failed     int                  `json:"failed"`
	Skipped    int                  `json:"skipped"`
	TotalDiffs int                  `json:"totalDiffs"`
	Results    map[string]RunResult `json:"results"`

	// Diffs holds computed diffs per unit key for dry runs only.
	Diffs map[string][]DiffRecord `json:"-"`
}

func (r *BatchReport) add(results map[string]RunResult) {
	for key, res := range results {
		r.Results[key] = res
		r.Units++
		switch {
		case !res.Succeeded():
			r.Failed++
		case res.Skipped:
			r.Skipped++
			r.Succeeded++
		default:
			r.Succeeded++
			r.TotalDiffs += res.DiffCount
		}
	}
}

// Service is the entry point for runs, snapshot ingest and diff queries.
type Service struct {
	store   Store
	cfg     ServiceConfig
	limiter *RunLimiter
	now     func() time.Time

	mu       sync.RWMutex
	last     *BatchReport
	schedule ScheduleStatus
}

// NewService creates a Service over store.
func NewService(store Store, cfg ServiceConfig) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.BatchDays <= 0 {
		cfg.BatchDays = 7
	}
	for i := range cfg.Projects {
		cfg.Projects[i].CustomerID = NormalizeCustomerID(cfg.Projects[i].CustomerID)
	}
	return &Service{
		store:   store,
		cfg:     cfg,
		limiter: NewRunLimiter(cfg.MaxConcurrentRuns, cfg.MaxWaitTime),
		now:     time.Now,
	}
}

// Projects returns the configured projects.
func (s *Service) Projects() []Project {
	out := make([]Project, len(s.cfg.Projects))
	copy(out, s.cfg.Projects)
	return out
}

// Yesterday returns the previous calendar day in the service's time zone.
func (s *Service) Yesterday() time.Time {
	y, m, d := s.now().In(s.cfg.Location).AddDate(0, 0, -1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Sync runs a batch. It fails only when the request itself is invalid or no
// run slot is free; unit failures are reported in the BatchReport.
func (s *Service) Sync(ctx context.Context, req SyncRequest, trigger string) (*BatchReport, error) {
	start, end, err := s.resolveDates(req)
	if err != nil {
		return nil, err
	}
	entityTypes, err := Select(req.EntityTypes, req.Group)
	if err != nil {
		return nil, err
	}
	projects, err := s.resolveProjects(req.Projects)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	report := &BatchReport{
		RunID:     uuid.New().String(),
		Trigger:   trigger,
		StartDate: start.Format(DateLayout),
		EndDate:   end.Format(DateLayout),
		DryRun:    req.DryRun,
		StartedAt: s.now(),
		Results:   make(map[string]RunResult),
	}

	ctx = logging.ContextWithRunID(ctx, report.RunID)
	if s.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.BatchTimeout)
		defer cancel()
	}
	logger := logging.FromContext(ctx)
	logger.Info("batch run started",
		"trigger", trigger,
		"start_date", report.StartDate,
		"end_date", report.EndDate,
		"projects", len(projects),
		"entity_types", len(entityTypes),
		"dry_run", req.DryRun,
	)

	coord := NewCoordinator(s.store, s.store, CoordinatorConfig{
		Workers:     s.cfg.Workers,
		UnitTimeout: s.cfg.UnitTimeout,
		DryRun:      req.DryRun,
	})
	if req.DryRun {
		var diffsMu sync.Mutex
		report.Diffs = make(map[string][]DiffRecord)
		coord.OnDiffs = func(u Unit, diffs []DiffRecord) {
			diffsMu.Lock()
			report.Diffs[u.Key()] = diffs
			diffsMu.Unlock()
		}
	}

	batchDays, batchDelay := s.cfg.BatchDays, s.cfg.BatchDelay
	if req.BatchDays > 0 {
		batchDays = req.BatchDays
	}
	if req.BatchDelay > 0 {
		batchDelay = req.BatchDelay
	}

	for i, chunk := range chunkDates(start, end, batchDays) {
		if i > 0 && batchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(batchDelay):
			}
		}
		units := buildUnits(projects, entityTypes, chunk[0], chunk[1])
		report.add(coord.RunDiffs(ctx, units))
		logger.Debug("batch chunk completed",
			"from", chunk[0].Format(DateLayout),
			"to", chunk[1].Format(DateLayout),
			"units", len(units),
		)
	}

	report.FinishedAt = s.now()
	logger.Info("batch run completed",
		"units", report.Units,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"diffs", report.TotalDiffs,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	return report, nil
}

// LastReport returns the most recent batch report, or nil.
func (s *Service) LastReport() *BatchReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// IngestSnapshot validates a captured snapshot against its schema and stores
// it, replacing any snapshot for the same unit. Returns the record count.
func (s *Service) IngestSnapshot(ctx context.Context, snap Snapshot) (int, error) {
	schema, err := Schema(snap.EntityType)
	if err != nil {
		return 0, err
	}
	snap.CustomerID = NormalizeCustomerID(snap.CustomerID)
	if snap.CustomerID == "" {
		return 0, fmt.Errorf("customer id is required")
	}
	if snap.AsOf.IsZero() {
		return 0, fmt.Errorf("invalid date: snapshot date is required")
	}
	snap.AsOf = truncateToDate(snap.AsOf)

	for i := range snap.Records {
		snap.Records[i].EntityType = schema.EntityType
	}
	// Surfaces DuplicateIdentity and key problems before anything is written.
	if _, err := indexRecords(schema, snap.Records, "current"); err != nil {
		return 0, err
	}

	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return 0, &DiffError{Kind: KindSinkUnavailable, EntityType: snap.EntityType, Msg: "save snapshot", Err: err}
	}

	logging.FromContext(ctx).Info("snapshot ingested",
		"entity_type", snap.EntityType,
		"customer_id", snap.CustomerID,
		"date", snap.AsOf.Format(DateLayout),
		"records", len(snap.Records),
	)
	return len(snap.Records), nil
}

// ListDiffs returns the stored diffs of one unit.
func (s *Service) ListDiffs(ctx context.Context, entityType, customerID string, asOf time.Time) ([]DiffRecord, error) {
	if _, err := Schema(entityType); err != nil {
		return nil, err
	}
	diffs, err := s.store.ListDiffs(ctx, entityType, NormalizeCustomerID(customerID), truncateToDate(asOf))
	if err != nil {
		return nil, &DiffError{Kind: KindSourceUnavailable, EntityType: entityType, Msg: "list diffs", Err: err}
	}
	return diffs, nil
}

// LimiterStatus reports run-slot usage.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// WaitForRuns blocks until in-flight runs finish or ctx ends.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) resolveDates(req SyncRequest) (time.Time, time.Time, error) {
	switch {
	case !req.StartDate.IsZero() || !req.EndDate.IsZero():
		start, end := req.StartDate, req.EndDate
		if start.IsZero() {
			start = end
		}
		if end.IsZero() {
			end = s.Yesterday()
		}
		start, end = truncateToDate(start), truncateToDate(end)
		if end.Before(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date range: end %s is before start %s",
				end.Format(DateLayout), start.Format(DateLayout))
		}
		return start, end, nil
	case !req.Date.IsZero():
		d := truncateToDate(req.Date)
		return d, d, nil
	default:
		y := s.Yesterday()
		return y, y, nil
	}
}

func (s *Service) resolveProjects(names []string) ([]Project, error) {
	if len(names) == 0 {
		if len(s.cfg.Projects) == 0 {
			return nil, fmt.Errorf("no projects configured")
		}
		return s.Projects(), nil
	}

	byName := make(map[string]Project, len(s.cfg.Projects))
	for _, p := range s.cfg.Projects {
		byName[p.Name] = p
	}
	out := make([]Project, 0, len(names))
	for _, n := range names {
		p, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown project %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}

// buildUnits expands projects into units. Projects sharing a customer id
// yield each unit once.
func buildUnits(projects []Project, entityTypes []string, start, end time.Time) []Unit {
	var units []Unit
	seen := make(map[string]bool)
	for _, p := range projects {
		var allowed []string
		for _, et := range entityTypes {
			if p.Allows(et) {
				allowed = append(allowed, et)
			}
		}
		for _, u := range ExpandUnits(allowed, []string{p.CustomerID}, start, end) {
			if key := u.Key(); !seen[key] {
				seen[key] = true
				units = append(units, u)
			}
		}
	}
	return units
}

// chunkDates splits [start, end] into consecutive ranges of at most days.
func chunkDates(start, end time.Time, days int) [][2]time.Time {
	var chunks [][2]time.Time
	for from := start; !from.After(end); from = from.AddDate(0, 0, days) {
		to := from.AddDate(0, 0, days-1)
		if to.After(end) {
			to = end
		}
		chunks = append(chunks, [2]time.Time{from, to})
	}
	return chunks
}
