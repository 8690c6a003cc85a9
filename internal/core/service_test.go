package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T, store *memStore, cfg ServiceConfig) *Service {
	t.Helper()
	if cfg.Projects == nil {
		cfg.Projects = []Project{{Name: "acme", CustomerID: "111"}}
	}
	svc := NewService(store, cfg)
	svc.now = func() time.Time { return time.Date(2025, 6, 3, 1, 0, 0, 0, time.UTC) }
	return svc
}

func TestService_SyncYesterday(t *testing.T) {
	withRegistry(t, testSchema())
	store := newMemStore()
	seedCampaigns(store)
	svc := newTestService(t, store, ServiceConfig{})

	report, err := svc.Sync(context.Background(), SyncRequest{}, "manual")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if report.StartDate != "2025-06-02" || report.EndDate != "2025-06-02" {
		t.Errorf("dates = %s..%s, want 2025-06-02", report.StartDate, report.EndDate)
	}
	if report.Units != 1 || report.Succeeded != 1 || report.TotalDiffs != 3 {
		t.Errorf("report = %+v", report)
	}
	if report.RunID == "" || report.Trigger != "manual" {
		t.Errorf("RunID = %q, Trigger = %q", report.RunID, report.Trigger)
	}
	if svc.LastReport() != report {
		t.Error("LastReport() does not return the latest report")
	}
}

func TestService_YesterdayUsesLocation(t *testing.T) {
	withRegistry(t, testSchema())
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	svc := newTestService(t, newMemStore(), ServiceConfig{Location: ny})
	// 01:00 UTC on June 3 is still June 2 in New York.
	if got := svc.Yesterday().Format(DateLayout); got != "2025-06-01" {
		t.Errorf("Yesterday() = %s, want 2025-06-01", got)
	}
}

func TestService_SyncBackfill(t *testing.T) {
	withRegistry(t, testSchema())
	store := newMemStore()
	seedCampaigns(store)
	store.put("campaign_control_state", "111", day(3),
		campaign("A", "Brand", "PAUSED", "10.00"),
	)
	svc := newTestService(t, store, ServiceConfig{BatchDays: 2})

	report, err := svc.Sync(context.Background(), SyncRequest{StartDate: day(1), EndDate: day(4)}, "backfill")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if report.Units != 4 {
		t.Errorf("Units = %d, want 4", report.Units)
	}
	// Day 1 has no previous snapshot, day 4 has no snapshot at all.
	if report.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", report.Skipped)
	}
	// Day 2: C added, B removed, A status changed. Day 3: C removed.
	if report.TotalDiffs != 4 {
		t.Errorf("TotalDiffs = %d, want 4", report.TotalDiffs)
	}
	if report.Failed != 0 {
		t.Errorf("Failed = %d, want 0", report.Failed)
	}
}

func TestService_SyncBackfillOverrides(t *testing.T) {
	withRegistry(t, testSchema())
	store := newMemStore()
	seedCampaigns(store)
	svc := newTestService(t, store, ServiceConfig{BatchDays: 30})

	start := time.Now()
	report, err := svc.Sync(context.Background(), SyncRequest{
		StartDate:  day(1),
		EndDate:    day(3),
		BatchDays:  1,
		BatchDelay: 10 * time.Millisecond,
	}, "backfill")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if report.Units != 3 {
		t.Errorf("Units = %d, want 3", report.Units)
	}
	// Three one-day chunks wait twice.
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 20ms of chunk delay", elapsed)
	}
}

func TestService_SyncSharedCustomerRunsOnce(t *testing.T) {
	withRegistry(t, testSchema())
	store := newMemStore()
	seedCampaigns(store)
	svc := newTestService(t, store, ServiceConfig{Projects: []Project{
		{Name: "acme", CustomerID: "111"},
		{Name: "acme-brand", CustomerID: "111"},
	}})

	report, err := svc.Sync(context.Background(), SyncRequest{Date: day(2)}, "manual")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if report.Units != 1 || len(report.Results) != 1 {
		t.Errorf("Units = %d, Results = %d, want 1 each", report.Units, len(report.Results))
	}
	if store.persists != 1 {
		t.Errorf("persists = %d, want 1", store.persists)
	}
}

func TestService_SyncDryRun(t *testing.T) {
	withRegistry(t, testSchema())
	store := newMemStore()
	seedCampaigns(store)
	svc := newTestService(t, store, ServiceConfig{})

	report, err := svc.Sync(context.Background(), SyncRequest{Date: day(2), DryRun: true}, "manual")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	key := Unit{EntityType: "campaign_control_state", CustomerID: "111", AsOf: day(2)}.Key()
	if len(report.Diffs[key]) != 3 {
		t.Errorf("dry run diffs = %d, want 3", len(report.Diffs[key]))
	}
	if store.persists != 0 {
		t.Errorf("dry run persisted %d times", store.persists)
	}
}

func TestService_SyncInvalidRequests(t *testing.T) {
	withRegistry(t, testSchema())
	svc := newTestService(t, newMemStore(), ServiceConfig{})

	tests := []struct {
		name string
		req  SyncRequest
		want error
	}{
		{"reversed range", SyncRequest{StartDate: day(5), EndDate: day(1)}, nil},
		{"unknown entity type", SyncRequest{EntityTypes: []string{"bogus"}}, ErrUnknownEntityType},
		{"unknown project", SyncRequest{Projects: []string{"nope"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Sync(context.Background(), tt.req, "manual")
			if err == nil {
				t.Fatal("Sync() succeeded, want error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Sync() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestService_SyncTooManyRuns(t *testing.T) {
	withRegistry(t, testSchema())
	svc := newTestService(t, newMemStore(), ServiceConfig{
		MaxConcurrentRuns: 1,
		MaxWaitTime:       10 * time.Millisecond,
	})

	if !svc.limiter.TryAcquire() {
		t.Fatal("TryAcquire() failed on idle limiter")
	}
	defer svc.limiter.Release()

	_, err := svc.Sync(context.Background(), SyncRequest{}, "manual")
	if !errors.Is(err, ErrTooManyRuns) {
		t.Errorf("Sync() error = %v, want ErrTooManyRuns", err)
	}
	if got := MapError(err).Code; got != "RUN002" {
		t.Errorf("MapError code = %s, want RUN002", got)
	}
}

func TestService_ProjectAllowList(t *testing.T) {
	ad := EntitySchema{EntityType: "ad_group", KeyFields: []string{"ad_group_id"}}
	withRegistry(t, testSchema(), ad)

	svc := newTestService(t, newMemStore(), ServiceConfig{Projects: []Project{
		{Name: "acme", CustomerID: "111-222-3333", EntityTypes: []string{"ad_group"}},
		{Name: "globex", CustomerID: "444"},
	}})

	report, err := svc.Sync(context.Background(), SyncRequest{Date: day(2)}, "manual")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if report.Units != 3 {
		t.Errorf("Units = %d, want 3", report.Units)
	}
	if _, ok := report.Results["ad_group/1112223333/2025-06-02"]; !ok {
		t.Errorf("missing normalized acme unit in %v", report.Results)
	}
	if _, ok := report.Results["campaign_control_state/1112223333/2025-06-02"]; ok {
		t.Error("acme should not track campaign_control_state")
	}
}

func TestService_IngestSnapshot(t *testing.T) {
	withRegistry(t, testSchema())
	store := newMemStore()
	svc := newTestService(t, store, ServiceConfig{})

	n, err := svc.IngestSnapshot(context.Background(), Snapshot{
		EntityType: "campaign_control_state",
		CustomerID: "111-000",
		AsOf:       time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC),
		Records: []Record{
			{Values: map[string]any{"campaign_id": "A", "campaign_status": "ENABLED"}},
			{Values: map[string]any{"campaign_id": "B", "campaign_status": "PAUSED"}},
		},
	})
	if err != nil {
		t.Fatalf("IngestSnapshot() error = %v", err)
	}
	if n != 2 {
		t.Errorf("IngestSnapshot() = %d, want 2", n)
	}

	snap, err := store.FetchSnapshot(context.Background(), "campaign_control_state", "111000", day(2))
	if err != nil {
		t.Fatalf("stored snapshot not found: %v", err)
	}
	if snap.Records[0].EntityType != "campaign_control_state" {
		t.Errorf("records not tagged: %+v", snap.Records[0])
	}
}

func TestService_IngestSnapshotRejects(t *testing.T) {
	withRegistry(t, testSchema())
	store := newMemStore()
	svc := newTestService(t, store, ServiceConfig{})

	tests := []struct {
		name string
		snap Snapshot
		want error
	}{
		{
			name: "unknown entity type",
			snap: Snapshot{EntityType: "bogus", CustomerID: "1", AsOf: day(1)},
			want: ErrUnknownEntityType,
		},
		{
			name: "duplicate identity",
			snap: Snapshot{EntityType: "campaign_control_state", CustomerID: "1", AsOf: day(1), Records: []Record{
				{Values: map[string]any{"campaign_id": "A"}},
				{Values: map[string]any{"campaign_id": "A"}},
			}},
			want: ErrDuplicateIdentity,
		},
		{
			name: "missing key",
			snap: Snapshot{EntityType: "campaign_control_state", CustomerID: "1", AsOf: day(1), Records: []Record{
				{Values: map[string]any{"campaign_status": "ENABLED"}},
			}},
			want: ErrSchemaMismatch,
		},
		{
			name: "missing customer",
			snap: Snapshot{EntityType: "campaign_control_state", AsOf: day(1)},
		},
		{
			name: "missing date",
			snap: Snapshot{EntityType: "campaign_control_state", CustomerID: "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.IngestSnapshot(context.Background(), tt.snap)
			if err == nil {
				t.Fatal("IngestSnapshot() succeeded, want error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("IngestSnapshot() error = %v, want %v", err, tt.want)
			}
		})
	}
	if len(store.snapshots) != 0 {
		t.Errorf("rejected snapshots were stored: %d", len(store.snapshots))
	}
}

func TestService_ListDiffs(t *testing.T) {
	withRegistry(t, testSchema())
	store := newMemStore()
	seedCampaigns(store)
	svc := newTestService(t, store, ServiceConfig{})

	if _, err := svc.Sync(context.Background(), SyncRequest{Date: day(2)}, "manual"); err != nil {
		t.Fatal(err)
	}
	diffs, err := svc.ListDiffs(context.Background(), "campaign_control_state", "111", day(2))
	if err != nil {
		t.Fatalf("ListDiffs() error = %v", err)
	}
	if len(diffs) != 3 || diffs[0].ChangeClass != ChangeAdded {
		t.Errorf("ListDiffs() = %+v", diffs)
	}

	if _, err := svc.ListDiffs(context.Background(), "bogus", "111", day(2)); !errors.Is(err, ErrUnknownEntityType) {
		t.Errorf("ListDiffs(bogus) error = %v", err)
	}
}

func TestChunkDates(t *testing.T) {
	tests := []struct {
		name       string
		start, end time.Time
		days       int
		want       int
	}{
		{"single day", day(1), day(1), 7, 1},
		{"exact multiple", day(1), day(14), 7, 2},
		{"remainder", day(1), day(10), 7, 2},
		{"daily chunks", day(1), day(3), 1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := chunkDates(tt.start, tt.end, tt.days)
			if len(chunks) != tt.want {
				t.Fatalf("chunkDates() = %d chunks, want %d", len(chunks), tt.want)
			}
			if !chunks[0][0].Equal(tt.start) || !chunks[len(chunks)-1][1].Equal(tt.end) {
				t.Errorf("chunks do not cover range: %v", chunks)
			}
			for i := 1; i < len(chunks); i++ {
				if !chunks[i][0].Equal(chunks[i-1][1].AddDate(0, 0, 1)) {
					t.Errorf("gap between chunk %d and %d", i-1, i)
				}
			}
		})
	}
}

func TestNormalizeCustomerID(t *testing.T) {
	tests := map[string]string{
		"123-456-7890":   "1234567890",
		" 123 456 7890 ": "1234567890",
		"1234567890":     "1234567890",
		"":               "",
	}
	for in, want := range tests {
		if got := NormalizeCustomerID(in); got != want {
			t.Errorf("NormalizeCustomerID(%q) = %q, want %q", in, got, want)
		}
	}
}
