// Package store holds what the storage backends share: the record codec and
// the table layout both backends follow.
//
// A snapshot is stored as one header row per (date, customer, entity type)
// plus one row per record, numbered by ordinal so records come back in
// capture order. Diff rows are keyed by (date, customer, entity type,
// identity, changed field) and also carry an ordinal, so a unit's diffs are
// listed in the order the differ emitted them.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JonMunkholm/flightrecorder/internal/core"
)

// EncodeRecord serializes a record's values as a JSON object.
func EncodeRecord(rec core.Record) ([]byte, error) {
	values := make(map[string]any, len(rec.Values))
	for k, v := range rec.Values {
		if t, ok := v.(time.Time); ok {
			v = t.Format(time.RFC3339)
		}
		values[k] = v
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// DecodeRecord is the inverse of EncodeRecord. Numbers decode as
// json.Number so their text survives, and nested objects and arrays decode as
// json.RawMessage so blob fields keep their key order.
func DecodeRecord(entityType string, data []byte) (core.Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return core.Record{}, fmt.Errorf("decode record: %w", err)
	}

	values := make(map[string]any, len(raw))
	for k, msg := range raw {
		v, err := DecodeValue(msg)
		if err != nil {
			return core.Record{}, fmt.Errorf("decode record field %q: %w", k, err)
		}
		values[k] = v
	}
	return core.NewRecord(entityType, values), nil
}

// DecodeValue converts one JSON value into a record value.
func DecodeValue(msg json.RawMessage) (any, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, nil
	}

	switch msg[0] {
	case 'n':
		return nil, nil
	case '"':
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return nil, err
		}
		return s, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(msg, &b); err != nil {
			return nil, err
		}
		return b, nil
	case '{', '[':
		out := make(json.RawMessage, len(msg))
		copy(out, msg)
		return out, nil
	default:
		dec := json.NewDecoder(bytes.NewReader(msg))
		dec.UseNumber()
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, err
		}
		return n, nil
	}
}

// DiffRow is the storage form of a core.DiffRecord.
type DiffRow struct {
	Ordinal      int
	IdentityKey  string
	ChangedField string
	ChangeClass  string
	OldValue     *string
	NewValue     *string
}

// ToRows converts diffs into rows numbered in emission order.
func ToRows(diffs []core.DiffRecord) []DiffRow {
	rows := make([]DiffRow, len(diffs))
	for i, d := range diffs {
		rows[i] = DiffRow{
			Ordinal:      i,
			IdentityKey:  EncodeIdentity(d.Identity),
			ChangedField: d.ChangedField,
			ChangeClass:  string(d.ChangeClass),
			OldValue:     textPtr(d.OldValue.String, d.OldValue.Valid),
			NewValue:     textPtr(d.NewValue.String, d.NewValue.Valid),
		}
	}
	return rows
}

// Record converts a stored row back into a diff record.
func (r DiffRow) Record(entityType string) core.DiffRecord {
	d := core.DiffRecord{
		EntityType:   entityType,
		Identity:     DecodeIdentity(r.IdentityKey),
		ChangedField: r.ChangedField,
		ChangeClass:  core.ChangeClass(r.ChangeClass),
	}
	if r.OldValue != nil {
		d.OldValue.String, d.OldValue.Valid = *r.OldValue, true
	}
	if r.NewValue != nil {
		d.NewValue.String, d.NewValue.Valid = *r.NewValue, true
	}
	return d
}

// EncodeIdentity renders an identity as a JSON array. Unlike
// Identity.String it round-trips values that contain the separator.
func EncodeIdentity(id core.Identity) string {
	if id == nil {
		id = core.Identity{}
	}
	b, _ := json.Marshal([]string(id))
	return string(b)
}

// DecodeIdentity parses an EncodeIdentity key. Keys that are not JSON
// arrays are split on the display separator.
func DecodeIdentity(key string) core.Identity {
	var parts []string
	if err := json.Unmarshal([]byte(key), &parts); err != nil {
		return core.ParseIdentity(key)
	}
	return core.Identity(parts)
}

func textPtr(s string, valid bool) *string {
	if !valid {
		return nil
	}
	return &s
}

// DateKey renders a unit date in the stored form.
func DateKey(t time.Time) string {
	return t.Format(core.DateLayout)
}
