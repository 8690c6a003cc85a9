// Package postgres is the production snapshot and diff store, backed by a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/flightrecorder/internal/core"
	"github.com/JonMunkholm/flightrecorder/internal/store"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// maxAttempts bounds retries of transactions that failed before the server
// saw them.
const maxAttempts = 3

const schemaSQL = `
CREATE TABLE IF NOT EXISTS recorder_snapshot (
	snapshot_date DATE NOT NULL,
	customer_id   TEXT NOT NULL,
	entity_type   TEXT NOT NULL,
	record_count  INTEGER NOT NULL,
	captured_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (entity_type, customer_id, snapshot_date)
);

CREATE TABLE IF NOT EXISTS recorder_snapshot_record (
	snapshot_date DATE NOT NULL,
	customer_id   TEXT NOT NULL,
	entity_type   TEXT NOT NULL,
	ordinal       INTEGER NOT NULL,
	record        JSON NOT NULL,
	PRIMARY KEY (entity_type, customer_id, snapshot_date, ordinal)
);

CREATE TABLE IF NOT EXISTS recorder_diff (
	snapshot_date DATE NOT NULL,
	customer_id   TEXT NOT NULL,
	entity_type   TEXT NOT NULL,
	identity_key  TEXT NOT NULL,
	changed_field TEXT NOT NULL,
	change_class  TEXT NOT NULL,
	old_value     TEXT,
	new_value     TEXT,
	ordinal       INTEGER NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (snapshot_date, customer_id, entity_type, identity_key, changed_field)
);

CREATE INDEX IF NOT EXISTS idx_recorder_diff_unit
	ON recorder_diff (entity_type, customer_id, snapshot_date, ordinal);
`

// Config holds pool settings.
type Config struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store implements core.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects, verifies the connection and creates missing tables.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// FetchSnapshot loads the snapshot for exactly asOf.
func (s *Store) FetchSnapshot(ctx context.Context, entityType, customerID string, asOf time.Time) (core.Snapshot, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT record_count FROM recorder_snapshot
		WHERE entity_type = $1 AND customer_id = $2 AND snapshot_date = $3`,
		entityType, customerID, asOf,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Snapshot{}, core.ErrNoSnapshot
	}
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("fetch snapshot header: %w", err)
	}
	return loadSnapshot(ctx, s.pool, entityType, customerID, asOf, count)
}

// FetchPreviousSnapshot loads the latest snapshot strictly before asOf.
func (s *Store) FetchPreviousSnapshot(ctx context.Context, entityType, customerID string, asOf time.Time) (core.Snapshot, error) {
	var (
		prev  pgtype.Date
		count pgtype.Int4
	)
	err := s.pool.QueryRow(ctx, `
		SELECT snapshot_date, record_count FROM recorder_snapshot
		WHERE entity_type = $1 AND customer_id = $2 AND snapshot_date < $3
		ORDER BY snapshot_date DESC
		LIMIT 1`,
		entityType, customerID, asOf,
	).Scan(&prev, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Snapshot{}, core.ErrNoPreviousSnapshot
	}
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("fetch previous snapshot header: %w", err)
	}
	return loadSnapshot(ctx, s.pool, entityType, customerID, prev.Time, int(count.Int32))
}

func loadSnapshot(ctx context.Context, q DBTX, entityType, customerID string, asOf time.Time, count int) (core.Snapshot, error) {
	snap := core.Snapshot{
		EntityType: entityType,
		CustomerID: customerID,
		AsOf:       asOf,
		Records:    make([]core.Record, 0, count),
	}

	rows, err := q.Query(ctx, `
		SELECT record FROM recorder_snapshot_record
		WHERE entity_type = $1 AND customer_id = $2 AND snapshot_date = $3
		ORDER BY ordinal`,
		entityType, customerID, asOf,
	)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("query snapshot records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return core.Snapshot{}, fmt.Errorf("scan snapshot record: %w", err)
		}
		rec, err := store.DecodeRecord(entityType, data)
		if err != nil {
			return core.Snapshot{}, err
		}
		snap.Records = append(snap.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return core.Snapshot{}, fmt.Errorf("iterate snapshot records: %w", err)
	}
	return snap, nil
}

// SaveSnapshot replaces the stored snapshot of one unit.
func (s *Store) SaveSnapshot(ctx context.Context, snap core.Snapshot) error {
	encoded := make([][]any, len(snap.Records))
	for i, rec := range snap.Records {
		data, err := store.EncodeRecord(rec)
		if err != nil {
			return err
		}
		encoded[i] = []any{snap.AsOf, snap.CustomerID, snap.EntityType, i, data}
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`
			DELETE FROM recorder_snapshot_record
			WHERE entity_type = $1 AND customer_id = $2 AND snapshot_date = $3`,
			snap.EntityType, snap.CustomerID, snap.AsOf)
		batch.Queue(`
			INSERT INTO recorder_snapshot (snapshot_date, customer_id, entity_type, record_count)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (entity_type, customer_id, snapshot_date)
			DO UPDATE SET record_count = EXCLUDED.record_count, captured_at = now()`,
			snap.AsOf, snap.CustomerID, snap.EntityType, len(snap.Records))
		if err := execBatch(ctx, tx, batch); err != nil {
			return fmt.Errorf("replace snapshot header: %w", err)
		}

		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"recorder_snapshot_record"},
			[]string{"snapshot_date", "customer_id", "entity_type", "ordinal", "record"},
			pgx.CopyFromRows(encoded),
		)
		if err != nil {
			return fmt.Errorf("copy snapshot records: %w", err)
		}
		return nil
	})
}

// Persist replaces the stored diffs of one unit. Rows are keyed by
// (date, customer, entity type, identity, changed field), so persisting the
// same diffs twice leaves the table unchanged.
func (s *Store) Persist(ctx context.Context, entityType, customerID string, asOf time.Time, diffs []core.DiffRecord) error {
	rows := store.ToRows(diffs)

	return s.withTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range rows {
			batch.Queue(`
				INSERT INTO recorder_diff (
					snapshot_date, customer_id, entity_type, identity_key, changed_field,
					change_class, old_value, new_value, ordinal
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (snapshot_date, customer_id, entity_type, identity_key, changed_field)
				DO UPDATE SET
					change_class = EXCLUDED.change_class,
					old_value = EXCLUDED.old_value,
					new_value = EXCLUDED.new_value,
					ordinal = EXCLUDED.ordinal`,
				asOf, customerID, entityType, r.IdentityKey, r.ChangedField,
				r.ChangeClass, r.OldValue, r.NewValue, r.Ordinal)
		}
		keys := make([]string, len(rows))
		fields := make([]string, len(rows))
		for i, r := range rows {
			keys[i], fields[i] = r.IdentityKey, r.ChangedField
		}
		// Drop rows from an earlier run of this unit that no longer apply.
		batch.Queue(`
			DELETE FROM recorder_diff d
			WHERE d.entity_type = $1 AND d.customer_id = $2 AND d.snapshot_date = $3
			AND NOT EXISTS (
				SELECT 1 FROM unnest($4::text[], $5::text[]) AS k(identity_key, changed_field)
				WHERE k.identity_key = d.identity_key AND k.changed_field = d.changed_field
			)`,
			entityType, customerID, asOf, keys, fields)

		if err := execBatch(ctx, tx, batch); err != nil {
			return fmt.Errorf("persist diffs: %w", err)
		}
		return nil
	})
}

// ListDiffs returns the stored diffs of one unit in emission order.
func (s *Store) ListDiffs(ctx context.Context, entityType, customerID string, asOf time.Time) ([]core.DiffRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ordinal, identity_key, changed_field, change_class, old_value, new_value
		FROM recorder_diff
		WHERE entity_type = $1 AND customer_id = $2 AND snapshot_date = $3
		ORDER BY ordinal`,
		entityType, customerID, asOf,
	)
	if err != nil {
		return nil, fmt.Errorf("query diffs: %w", err)
	}
	defer rows.Close()

	var out []core.DiffRecord
	for rows.Next() {
		var r store.DiffRow
		if err := rows.Scan(&r.Ordinal, &r.IdentityKey, &r.ChangedField, &r.ChangeClass, &r.OldValue, &r.NewValue); err != nil {
			return nil, fmt.Errorf("scan diff: %w", err)
		}
		out = append(out, r.Record(entityType))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diffs: %w", err)
	}
	return out, nil
}

// withTx runs fn in a transaction, retrying when the failure is one the
// server never acted on.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = pgx.BeginFunc(ctx, s.pool, fn)
		if err == nil || !pgconn.SafeToRetry(err) || ctx.Err() != nil {
			return err
		}
		slog.Warn("retrying database transaction", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return err
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}
