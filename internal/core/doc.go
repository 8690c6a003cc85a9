// Package core provides the snapshot-diff engine behind the flight recorder.
//
// This package holds all domain logic independent of storage, HTTP or CLI.
// Storage backends implement [Source], [Sink] and [SnapshotWriter]; the web
// server and the recorder CLI both drive it through [Service].
//
// # Architecture
//
//   - Entity schemas: registered via the registry, each entity type declares
//     its key fields and its compared fields with a [ComparisonKind].
//   - Comparator: [ComparePair] normalizes and compares one matched pair.
//   - Differ: [Diff] classifies two snapshots into ADDED, REMOVED and
//     FIELD_CHANGED records in a fixed order.
//   - Coordinator: [Coordinator] runs independent (entity type, customer,
//     date) units on a bounded worker pool with per-unit failure isolation.
//   - Service: batch runs, backfills, the daily scheduler, snapshot ingest.
//
// # Entity Registry
//
// Entity types are registered at init time using [Register] and the
// registry is frozen with [Seal] once the process has started:
//
//	core.Register(core.EntitySchema{
//	    EntityType: "ad_group",
//	    Group:      "Structure",
//	    KeyFields:  []string{"campaign_id", "ad_group_id"},
//	    Fields: []core.FieldSpec{
//	        {Name: "status", Kind: core.ExactScalar},
//	        {Name: "cpc_bid_micros", Kind: core.Numeric},
//	    },
//	})
//
// # Diff Output
//
// Output order is part of the contract: ADDED in current-snapshot order,
// REMOVED in previous-snapshot order, then FIELD_CHANGED grouped by identity
// in current-snapshot order with fields in declared order. Re-running a unit
// yields byte-identical records, so sinks can upsert on
// (date, customer, entity type, identity, changed field).
//
// # Error Handling
//
// Failures carry a [FailureKind] via [DiffError] and map to support codes
// through [MapError]:
//
//   - CFG001: unknown entity type
//   - SCH001: schema mismatch
//   - DQ001: duplicate identity in a snapshot
//   - SRC001, SNK001: storage unavailable
//   - RUN001, RUN002: cancelled, too many runs
package core
