package core

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// Diff computes the ordered change set between two snapshots of one entity
// type: ADDED in current order, then REMOVED in previous order, then
// FIELD_CHANGED grouped by identity in current order with fields in declared
// order. Output depends only on the inputs.
func Diff(schema EntitySchema, previous, current Snapshot) ([]DiffRecord, error) {
	for _, snap := range []Snapshot{previous, current} {
		if snap.EntityType != "" && snap.EntityType != schema.EntityType {
			return nil, schemaMismatch(schema.EntityType, "", "snapshot is for entity type %q", snap.EntityType)
		}
	}
	return DiffRecords(schema, previous.Records, current.Records)
}

// DiffRecords is Diff over bare record slices.
func DiffRecords(schema EntitySchema, previous, current []Record) ([]DiffRecord, error) {
	prev, err := indexRecords(schema, previous, "previous")
	if err != nil {
		return nil, err
	}
	curr, err := indexRecords(schema, current, "current")
	if err != nil {
		return nil, err
	}

	var added, removed, changed []DiffRecord

	for _, e := range curr.order {
		if _, ok := prev.pos[e.key]; ok {
			continue
		}
		added = append(added, DiffRecord{
			EntityType:   schema.EntityType,
			Identity:     e.id,
			ChangedField: EntityField,
			NewValue:     lifecycleValue(schema, e),
			ChangeClass:  ChangeAdded,
		})
	}

	for _, e := range prev.order {
		if _, ok := curr.pos[e.key]; ok {
			continue
		}
		removed = append(removed, DiffRecord{
			EntityType:   schema.EntityType,
			Identity:     e.id,
			ChangedField: EntityField,
			OldValue:     lifecycleValue(schema, e),
			ChangeClass:  ChangeRemoved,
		})
	}

	for _, e := range curr.order {
		i, ok := prev.pos[e.key]
		if !ok {
			continue
		}
		recs, err := compareMatched(schema, e.id, prev.order[i].rec, e.rec)
		if err != nil {
			return nil, err
		}
		changed = append(changed, recs...)
	}

	out := make([]DiffRecord, 0, len(added)+len(removed)+len(changed))
	out = append(out, added...)
	out = append(out, removed...)
	return append(out, changed...), nil
}

type indexEntry struct {
	key string
	id  Identity
	rec Record
}

type recordIndex struct {
	order []indexEntry
	pos   map[string]int
}

func indexRecords(schema EntitySchema, records []Record, side string) (recordIndex, error) {
	idx := recordIndex{
		order: make([]indexEntry, 0, len(records)),
		pos:   make(map[string]int, len(records)),
	}
	for _, rec := range records {
		id, err := schema.IdentityOf(rec)
		if err != nil {
			return recordIndex{}, err
		}
		key := id.indexKey()
		if _, dup := idx.pos[key]; dup {
			return recordIndex{}, &DiffError{
				Kind:       KindDuplicateIdentity,
				EntityType: schema.EntityType,
				Identity:   id,
				Msg:        fmt.Sprintf("identity appears more than once in %s snapshot", side),
			}
		}
		idx.pos[key] = len(idx.order)
		idx.order = append(idx.order, indexEntry{key: key, id: id, rec: rec})
	}
	return idx, nil
}

// lifecycleValue is the value reported on ADDED/REMOVED rows.
func lifecycleValue(schema EntitySchema, e indexEntry) pgtype.Text {
	if schema.LabelField != "" {
		if v, err := normalizeScalar(e.rec.Values[schema.LabelField]); err == nil && !v.absent {
			return v.pgText()
		}
	}
	return value{text: e.id.String()}.pgText()
}
