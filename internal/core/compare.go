package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// value is a field value after normalization. Absent covers nil, missing,
// and blank values.
type value struct {
	absent bool
	text   string  // Rendered form reported in DiffRecords
	num    float64 // NUMERIC only
}

var absentValue = value{absent: true}

// ComparePair compares two records of the same identity field by field and
// returns one FIELD_CHANGED record per differing field, in declared order.
func ComparePair(schema EntitySchema, oldRec, newRec Record) ([]DiffRecord, error) {
	oldID, err := schema.IdentityOf(oldRec)
	if err != nil {
		return nil, err
	}
	newID, err := schema.IdentityOf(newRec)
	if err != nil {
		return nil, err
	}
	if !oldID.Equal(newID) {
		return nil, &DiffError{
			Kind:       KindSchemaMismatch,
			EntityType: schema.EntityType,
			Identity:   newID,
			Msg:        fmt.Sprintf("cannot compare records with different identities (old %s)", oldID),
		}
	}
	return compareMatched(schema, newID, oldRec, newRec)
}

func compareMatched(schema EntitySchema, id Identity, oldRec, newRec Record) ([]DiffRecord, error) {
	var out []DiffRecord
	for _, spec := range schema.Fields {
		ov, err := normalize(spec, oldRec.Values[spec.Name])
		if err != nil {
			return nil, fieldError(schema, id, spec, err)
		}
		nv, err := normalize(spec, newRec.Values[spec.Name])
		if err != nil {
			return nil, fieldError(schema, id, spec, err)
		}
		if equalValues(spec, ov, nv) {
			continue
		}
		out = append(out, DiffRecord{
			EntityType:   schema.EntityType,
			Identity:     id,
			ChangedField: spec.Name,
			OldValue:     ov.pgText(),
			NewValue:     nv.pgText(),
			ChangeClass:  ChangeFieldChanged,
		})
	}
	return out, nil
}

func fieldError(schema EntitySchema, id Identity, spec FieldSpec, err error) *DiffError {
	return &DiffError{
		Kind:       KindSchemaMismatch,
		EntityType: schema.EntityType,
		Identity:   id,
		Field:      spec.Name,
		Msg:        err.Error(),
	}
}

// EqualValues reports whether two raw values are equal under spec.
func EqualValues(spec FieldSpec, a, b any) (bool, error) {
	av, err := normalize(spec, a)
	if err != nil {
		return false, err
	}
	bv, err := normalize(spec, b)
	if err != nil {
		return false, err
	}
	return equalValues(spec, av, bv), nil
}

// Render returns the normalized string form of v under spec, or NULL.
func Render(spec FieldSpec, v any) (pgtype.Text, error) {
	nv, err := normalize(spec, v)
	if err != nil {
		return pgtype.Text{}, err
	}
	return nv.pgText(), nil
}

func equalValues(spec FieldSpec, a, b value) bool {
	if a.absent || b.absent {
		return a.absent == b.absent
	}
	if spec.Kind == Numeric {
		if spec.Epsilon == 0 {
			return a.num == b.num
		}
		return math.Abs(a.num-b.num) <= spec.Epsilon
	}
	return a.text == b.text
}

func (v value) pgText() pgtype.Text {
	if v.absent {
		return pgtype.Text{}
	}
	return pgtype.Text{String: truncateValue(v.text), Valid: true}
}

func normalize(spec FieldSpec, raw any) (value, error) {
	if raw == nil {
		return absentValue, nil
	}
	switch spec.Kind {
	case Numeric:
		return normalizeNumeric(raw)
	case OpaqueBlob:
		return normalizeBlob(raw)
	case Date:
		return normalizeDate(raw)
	default:
		return normalizeScalar(raw)
	}
}

func normalizeScalar(raw any) (value, error) {
	switch x := raw.(type) {
	case string:
		return textValue(x), nil
	case []byte:
		return textValue(string(x)), nil
	case pgtype.Text:
		if !x.Valid {
			return absentValue, nil
		}
		return textValue(x.String), nil
	}
	s, err := keyString(raw)
	if err != nil {
		return value{}, err
	}
	return textValue(s), nil
}

func textValue(s string) value {
	s = strings.TrimSpace(s)
	if s == "" {
		return absentValue
	}
	return value{text: s}
}

func normalizeNumeric(raw any) (value, error) {
	switch x := raw.(type) {
	case string:
		return numericText(x)
	case json.Number:
		return numericText(x.String())
	case pgtype.Text:
		if !x.Valid {
			return absentValue, nil
		}
		return numericText(x.String)
	case float64:
		return floatValue(x)
	case float32:
		return floatValue(float64(x))
	case int:
		return value{text: strconv.Itoa(x), num: float64(x)}, nil
	case int32:
		return value{text: strconv.FormatInt(int64(x), 10), num: float64(x)}, nil
	case int64:
		return value{text: strconv.FormatInt(x, 10), num: float64(x)}, nil
	case uint64:
		return value{text: strconv.FormatUint(x, 10), num: float64(x)}, nil
	default:
		return value{}, fmt.Errorf("value of type %T is not numeric", raw)
	}
}

func numericText(s string) (value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return absentValue, nil
	}
	clean, ok := CleanNumeric(s)
	if !ok {
		return value{}, fmt.Errorf("invalid number %q", s)
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return value{}, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return value{text: s, num: f}, nil
}

func floatValue(f float64) (value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return value{}, fmt.Errorf("invalid number %v", f)
	}
	return value{text: strconv.FormatFloat(f, 'f', -1, 64), num: f}, nil
}

func normalizeBlob(raw any) (value, error) {
	var s string
	switch x := raw.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	case json.RawMessage:
		s = string(x)
	case pgtype.Text:
		if !x.Valid {
			return absentValue, nil
		}
		s = x.String
	default:
		b, err := json.Marshal(raw)
		if err != nil {
			return value{}, fmt.Errorf("cannot encode blob of type %T: %w", raw, err)
		}
		s = string(b)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return absentValue, nil
	}
	return value{text: CanonicalBlob(s)}, nil
}

// CanonicalBlob removes insignificant whitespace. JSON text is compacted,
// which leaves string literals and key order untouched. Other text has its
// whitespace runs collapsed to a single space.
func CanonicalBlob(s string) string {
	s = strings.TrimSpace(s)
	if json.Valid([]byte(s)) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(s)); err == nil {
			return buf.String()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

func normalizeDate(raw any) (value, error) {
	switch x := raw.(type) {
	case time.Time:
		if x.IsZero() {
			return absentValue, nil
		}
		return value{text: x.Format(DateLayout)}, nil
	case pgtype.Date:
		if !x.Valid {
			return absentValue, nil
		}
		return value{text: x.Time.Format(DateLayout)}, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return absentValue, nil
		}
		if t, ok := ParseDate(s); ok {
			return value{text: t.Format(DateLayout)}, nil
		}
		return value{text: s}, nil
	default:
		return normalizeScalar(raw)
	}
}
