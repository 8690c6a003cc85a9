package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/flightrecorder/internal/core"
)

// newTestStore connects to TEST_DATABASE_URL and isolates the test in a
// fresh customer id. Skipped when no database is configured.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := New(ctx, Config{URL: url, MaxConns: 2})
	require.NoError(t, err)

	customer := "test-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() {
		for _, table := range []string{"recorder_snapshot", "recorder_snapshot_record", "recorder_diff"} {
			_, _ = s.pool.Exec(ctx, "DELETE FROM "+table+" WHERE customer_id = $1", customer)
		}
		s.Close()
	})
	return s, customer
}

func date(d int) time.Time {
	return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
}

func TestSnapshots(t *testing.T) {
	s, customer := newTestStore(t)
	ctx := context.Background()

	_, err := s.FetchSnapshot(ctx, "keyword", customer, date(1))
	assert.ErrorIs(t, err, core.ErrNoSnapshot)

	for d, status := range map[int]string{1: "ENABLED", 3: "PAUSED"} {
		require.NoError(t, s.SaveSnapshot(ctx, core.Snapshot{
			EntityType: "keyword",
			CustomerID: customer,
			AsOf:       date(d),
			Records: []core.Record{
				core.NewRecord("keyword", map[string]any{"keyword_criterion_id": "2", "status": status}),
				core.NewRecord("keyword", map[string]any{"keyword_criterion_id": "1", "status": status}),
			},
		}))
	}

	snap, err := s.FetchSnapshot(ctx, "keyword", customer, date(3))
	require.NoError(t, err)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, "2", snap.Records[0].Values["keyword_criterion_id"])
	assert.Equal(t, "PAUSED", snap.Records[0].Values["status"])

	prev, err := s.FetchPreviousSnapshot(ctx, "keyword", customer, date(3))
	require.NoError(t, err)
	assert.True(t, prev.AsOf.Equal(date(1)))
	assert.Equal(t, "ENABLED", prev.Records[1].Values["status"])

	_, err = s.FetchPreviousSnapshot(ctx, "keyword", customer, date(1))
	assert.ErrorIs(t, err, core.ErrNoPreviousSnapshot)

	// Replacing a snapshot drops the old records.
	require.NoError(t, s.SaveSnapshot(ctx, core.Snapshot{EntityType: "keyword", CustomerID: customer, AsOf: date(3)}))
	snap, err = s.FetchSnapshot(ctx, "keyword", customer, date(3))
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
}

func TestPersistIsIdempotent(t *testing.T) {
	s, customer := newTestStore(t)
	ctx := context.Background()

	diffs := []core.DiffRecord{
		{Identity: core.Identity{"C"}, ChangedField: core.EntityField, NewValue: pgtype.Text{String: "C", Valid: true}, ChangeClass: core.ChangeAdded},
		{Identity: core.Identity{"A"}, ChangedField: "status", OldValue: pgtype.Text{String: "ENABLED", Valid: true}, NewValue: pgtype.Text{String: "PAUSED", Valid: true}, ChangeClass: core.ChangeFieldChanged},
	}
	for i := range diffs {
		diffs[i].EntityType = "keyword"
	}

	require.NoError(t, s.Persist(ctx, "keyword", customer, date(2), diffs))
	require.NoError(t, s.Persist(ctx, "keyword", customer, date(2), diffs))

	got, err := s.ListDiffs(ctx, "keyword", customer, date(2))
	require.NoError(t, err)
	assert.Equal(t, diffs, got)

	// A re-run with fewer diffs removes the stale rows.
	require.NoError(t, s.Persist(ctx, "keyword", customer, date(2), diffs[1:]))
	got, err = s.ListDiffs(ctx, "keyword", customer, date(2))
	require.NoError(t, err)
	assert.Equal(t, diffs[1:], got)
}
