// Package sqlite is a single-file snapshot and diff store for local runs and
// tests. It uses the pure-Go modernc driver, so no cgo toolchain is needed.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/flightrecorder/internal/core"
	"github.com/JonMunkholm/flightrecorder/internal/store"
)

// Store implements core.Store on SQLite.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a throwaway database.
func New(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS recorder_snapshot (
		snapshot_date TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		captured_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (entity_type, customer_id, snapshot_date)
	);

	CREATE TABLE IF NOT EXISTS recorder_snapshot_record (
		snapshot_date TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		record JSON NOT NULL,
		PRIMARY KEY (entity_type, customer_id, snapshot_date, ordinal)
	);

	CREATE TABLE IF NOT EXISTS recorder_diff (
		snapshot_date TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		identity_key TEXT NOT NULL,
		changed_field TEXT NOT NULL,
		change_class TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		ordinal INTEGER NOT NULL,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (snapshot_date, customer_id, entity_type, identity_key, changed_field)
	);

	CREATE INDEX IF NOT EXISTS idx_recorder_diff_unit
		ON recorder_diff(entity_type, customer_id, snapshot_date, ordinal);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FetchSnapshot loads the snapshot for exactly asOf.
func (s *Store) FetchSnapshot(ctx context.Context, entityType, customerID string, asOf time.Time) (core.Snapshot, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT record_count FROM recorder_snapshot
		WHERE entity_type = ? AND customer_id = ? AND snapshot_date = ?`,
		entityType, customerID, store.DateKey(asOf),
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Snapshot{}, core.ErrNoSnapshot
	}
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return s.loadSnapshot(ctx, entityType, customerID, store.DateKey(asOf), count)
}

// FetchPreviousSnapshot loads the latest snapshot strictly before asOf.
// Dates are stored as YYYY-MM-DD, so text order is date order.
func (s *Store) FetchPreviousSnapshot(ctx context.Context, entityType, customerID string, asOf time.Time) (core.Snapshot, error) {
	var (
		prev  string
		count int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot_date, record_count FROM recorder_snapshot
		WHERE entity_type = ? AND customer_id = ? AND snapshot_date < ?
		ORDER BY snapshot_date DESC
		LIMIT 1`,
		entityType, customerID, store.DateKey(asOf),
	).Scan(&prev, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Snapshot{}, core.ErrNoPreviousSnapshot
	}
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to query previous snapshot: %w", err)
	}
	return s.loadSnapshot(ctx, entityType, customerID, prev, count)
}

func (s *Store) loadSnapshot(ctx context.Context, entityType, customerID, dateKey string, count int) (core.Snapshot, error) {
	asOf, err := time.Parse(core.DateLayout, dateKey)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("invalid stored date %q: %w", dateKey, err)
	}
	snap := core.Snapshot{
		EntityType: entityType,
		CustomerID: customerID,
		AsOf:       asOf,
		Records:    make([]core.Record, 0, count),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM recorder_snapshot_record
		WHERE entity_type = ? AND customer_id = ? AND snapshot_date = ?
		ORDER BY ordinal`,
		entityType, customerID, dateKey,
	)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to query snapshot records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return core.Snapshot{}, fmt.Errorf("failed to scan snapshot record: %w", err)
		}
		rec, err := store.DecodeRecord(entityType, data)
		if err != nil {
			return core.Snapshot{}, err
		}
		snap.Records = append(snap.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return core.Snapshot{}, fmt.Errorf("error iterating snapshot records: %w", err)
	}
	return snap, nil
}

// SaveSnapshot replaces the stored snapshot of one unit.
func (s *Store) SaveSnapshot(ctx context.Context, snap core.Snapshot) error {
	dateKey := store.DateKey(snap.AsOf)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM recorder_snapshot_record
			WHERE entity_type = ? AND customer_id = ? AND snapshot_date = ?`,
			snap.EntityType, snap.CustomerID, dateKey,
		); err != nil {
			return fmt.Errorf("failed to delete snapshot records: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recorder_snapshot (snapshot_date, customer_id, entity_type, record_count)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (entity_type, customer_id, snapshot_date)
			DO UPDATE SET record_count = excluded.record_count, captured_at = CURRENT_TIMESTAMP`,
			dateKey, snap.CustomerID, snap.EntityType, len(snap.Records),
		); err != nil {
			return fmt.Errorf("failed to save snapshot header: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO recorder_snapshot_record (snapshot_date, customer_id, entity_type, ordinal, record)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare record insert: %w", err)
		}
		defer stmt.Close()

		for i, rec := range snap.Records {
			data, err := store.EncodeRecord(rec)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, dateKey, snap.CustomerID, snap.EntityType, i, string(data)); err != nil {
				return fmt.Errorf("failed to insert snapshot record %d: %w", i, err)
			}
		}
		return nil
	})
}

// Persist replaces the stored diffs of one unit.
func (s *Store) Persist(ctx context.Context, entityType, customerID string, asOf time.Time, diffs []core.DiffRecord) error {
	dateKey := store.DateKey(asOf)
	rows := store.ToRows(diffs)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := markStale(ctx, tx, entityType, customerID, dateKey); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO recorder_diff (
				snapshot_date, customer_id, entity_type, identity_key, changed_field,
				change_class, old_value, new_value, ordinal
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (snapshot_date, customer_id, entity_type, identity_key, changed_field)
			DO UPDATE SET
				change_class = excluded.change_class,
				old_value = excluded.old_value,
				new_value = excluded.new_value,
				ordinal = excluded.ordinal`)
		if err != nil {
			return fmt.Errorf("failed to prepare diff upsert: %w", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx,
				dateKey, customerID, entityType, r.IdentityKey, r.ChangedField,
				r.ChangeClass, nullString(r.OldValue), nullString(r.NewValue), r.Ordinal,
			); err != nil {
				return fmt.Errorf("failed to upsert diff: %w", err)
			}
		}

		return deleteStale(ctx, tx, entityType, customerID, dateKey)
	})
}

// markStale flags every stored diff of the unit. Upserts clear the flag by
// writing a real ordinal, so whatever is still flagged afterwards was not
// emitted by the latest run.
func markStale(ctx context.Context, tx *sql.Tx, entityType, customerID, dateKey string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE recorder_diff SET ordinal = -1
		WHERE entity_type = ? AND customer_id = ? AND snapshot_date = ?`,
		entityType, customerID, dateKey,
	); err != nil {
		return fmt.Errorf("failed to mark stale diffs: %w", err)
	}
	return nil
}

func deleteStale(ctx context.Context, tx *sql.Tx, entityType, customerID, dateKey string) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM recorder_diff
		WHERE entity_type = ? AND customer_id = ? AND snapshot_date = ? AND ordinal < 0`,
		entityType, customerID, dateKey,
	); err != nil {
		return fmt.Errorf("failed to delete stale diffs: %w", err)
	}
	return nil
}

// ListDiffs returns the stored diffs of one unit in emission order.
func (s *Store) ListDiffs(ctx context.Context, entityType, customerID string, asOf time.Time) ([]core.DiffRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ordinal, identity_key, changed_field, change_class, old_value, new_value
		FROM recorder_diff
		WHERE entity_type = ? AND customer_id = ? AND snapshot_date = ?
		ORDER BY ordinal`,
		entityType, customerID, store.DateKey(asOf),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query diffs: %w", err)
	}
	defer rows.Close()

	var out []core.DiffRecord
	for rows.Next() {
		var (
			r              store.DiffRow
			oldVal, newVal sql.NullString
		)
		if err := rows.Scan(&r.Ordinal, &r.IdentityKey, &r.ChangedField, &r.ChangeClass, &oldVal, &newVal); err != nil {
			return nil, fmt.Errorf("failed to scan diff: %w", err)
		}
		r.OldValue = nullToPtr(oldVal)
		r.NewValue = nullToPtr(newVal)
		out = append(out, r.Record(entityType))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating diffs: %w", err)
	}
	return out, nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// nullString safely converts a nullable string to sql.NullString
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullToPtr converts sql.NullString to *string
func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
