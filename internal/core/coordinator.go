package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/flightrecorder/internal/logging"
)

// Source supplies snapshots. FetchPreviousSnapshot returns the most recent
// snapshot strictly before asOf, or ErrNoPreviousSnapshot.
type Source interface {
	FetchSnapshot(ctx context.Context, entityType, customerID string, asOf time.Time) (Snapshot, error)
	FetchPreviousSnapshot(ctx context.Context, entityType, customerID string, asOf time.Time) (Snapshot, error)
}

// Sink stores diff records. Persist must be idempotent for identical input
// and replace whatever it holds for the same unit.
type Sink interface {
	Persist(ctx context.Context, entityType, customerID string, asOf time.Time, diffs []DiffRecord) error
}

// DefaultWorkers is the default number of units diffed in parallel.
const DefaultWorkers = 4

// CoordinatorConfig tunes a Coordinator. Zero values take defaults.
type CoordinatorConfig struct {
	Workers     int           // Parallel units per batch
	UnitTimeout time.Duration // Per-unit deadline, 0 for none
	DryRun      bool          // Compute diffs without persisting
}

// Coordinator runs diff units against a Source and Sink. Units are
// independent: a failure in one never affects another.
type Coordinator struct {
	source Source
	sink   Sink
	cfg    CoordinatorConfig

	// OnDiffs, when set, receives each unit's diffs before they are persisted.
	OnDiffs func(Unit, []DiffRecord)
}

// NewCoordinator creates a coordinator.
func NewCoordinator(source Source, sink Sink, cfg CoordinatorConfig) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Coordinator{source: source, sink: sink, cfg: cfg}
}

// RunDiff diffs one unit and persists the result. It never panics and never
// returns an error; failures are reported in the RunResult.
func (c *Coordinator) RunDiff(ctx context.Context, unit Unit) (result RunResult) {
	start := time.Now()
	logger := logging.FromContext(ctx).With(
		"entity_type", unit.EntityType,
		"customer_id", unit.CustomerID,
		"date", unit.AsOf.Format(DateLayout),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("diff unit panicked", "panic", r, "stack", string(debug.Stack()))
			result = failedResult(unit, &DiffError{
				Kind:       KindInternal,
				EntityType: unit.EntityType,
				Msg:        fmt.Sprintf("panic: %v", r),
			})
		}
		result.Duration = time.Since(start)

		if result.Succeeded() {
			logger.Debug("diff unit completed",
				"diffs", result.DiffCount,
				"skipped", result.Skipped,
				"duration_ms", result.Duration.Milliseconds(),
			)
		} else {
			logger.Warn("diff unit failed",
				"kind", result.Kind,
				"detail", result.Detail,
				"duration_ms", result.Duration.Milliseconds(),
			)
		}
	}()

	if c.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.UnitTimeout)
		defer cancel()
	}

	count, skipped, err := c.runUnit(ctx, unit)
	if err != nil {
		return failedResult(unit, err)
	}
	return RunResult{
		Unit:      unit,
		UnitKey:   unit.Key(),
		Status:    StatusSuccess,
		DiffCount: count,
		Skipped:   skipped,
	}
}

func (c *Coordinator) runUnit(ctx context.Context, unit Unit) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, cancelled(unit, err)
	}

	schema, err := Schema(unit.EntityType)
	if err != nil {
		return 0, false, err
	}

	current, err := c.source.FetchSnapshot(ctx, unit.EntityType, unit.CustomerID, unit.AsOf)
	if errors.Is(err, ErrNoSnapshot) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, sourceError(ctx, unit, err)
	}

	previous, err := c.source.FetchPreviousSnapshot(ctx, unit.EntityType, unit.CustomerID, unit.AsOf)
	if errors.Is(err, ErrNoPreviousSnapshot) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, sourceError(ctx, unit, err)
	}

	diffs, err := Diff(schema, previous, current)
	if err != nil {
		return 0, false, err
	}

	// A cancelled unit must not hand partial work to the sink.
	if err := ctx.Err(); err != nil {
		return 0, false, cancelled(unit, err)
	}

	if c.OnDiffs != nil {
		c.OnDiffs(unit, diffs)
	}
	if c.cfg.DryRun {
		return len(diffs), false, nil
	}

	if err := c.sink.Persist(ctx, unit.EntityType, unit.CustomerID, unit.AsOf, diffs); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, false, cancelled(unit, ctxErr)
		}
		return 0, false, wrapKind(KindSinkUnavailable, unit, "persist diffs", err)
	}
	return len(diffs), false, nil
}

// RunDiffs runs every unit on a bounded worker pool and returns one result
// per unit, keyed by Unit.Key.
func (c *Coordinator) RunDiffs(ctx context.Context, units []Unit) map[string]RunResult {
	results := make([]RunResult, len(units))

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)

	for i, unit := range units {
		g.Go(func() error {
			results[i] = c.RunDiff(ctx, unit)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]RunResult, len(results))
	for _, r := range results {
		out[r.UnitKey] = r
	}
	return out
}

// ExpandUnits builds the cross product of entity types, customers and every
// date in [start, end], ordered by date, then customer, then entity type.
func ExpandUnits(entityTypes, customers []string, start, end time.Time) []Unit {
	start = truncateToDate(start)
	end = truncateToDate(end)

	var units []Unit
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		for _, customer := range customers {
			for _, et := range entityTypes {
				units = append(units, Unit{EntityType: et, CustomerID: customer, AsOf: d})
			}
		}
	}
	return units
}

func failedResult(unit Unit, err error) RunResult {
	return RunResult{
		Unit:    unit,
		UnitKey: unit.Key(),
		Status:  StatusFailure,
		Kind:    KindOf(err),
		Detail:  err.Error(),
	}
}

func cancelled(unit Unit, err error) error {
	return wrapKind(KindCancelled, unit, "unit cancelled", err)
}

func sourceError(ctx context.Context, unit Unit, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return cancelled(unit, ctxErr)
	}
	var de *DiffError
	if errors.As(err, &de) {
		return err
	}
	return wrapKind(KindSourceUnavailable, unit, "fetch snapshot", err)
}

func wrapKind(kind FailureKind, unit Unit, msg string, err error) error {
	return &DiffError{Kind: kind, EntityType: unit.EntityType, Msg: msg, Err: err}
}
