package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Validate checks the structural invariants of a schema: at least one key
// field, no duplicate names, key fields disjoint from comparable fields,
// non-negative epsilons.
func (s EntitySchema) Validate() error {
	var errs []error

	if strings.TrimSpace(s.EntityType) == "" {
		errs = append(errs, errors.New("entity type is required"))
	}
	if len(s.KeyFields) == 0 {
		errs = append(errs, errors.New("at least one key field is required"))
	}

	keys := make(map[string]bool, len(s.KeyFields))
	for _, k := range s.KeyFields {
		if k == "" {
			errs = append(errs, errors.New("empty key field name"))
			continue
		}
		if keys[k] {
			errs = append(errs, fmt.Errorf("duplicate key field %q", k))
		}
		keys[k] = true
	}

	fields := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			errs = append(errs, errors.New("empty field name"))
			continue
		}
		if keys[f.Name] {
			errs = append(errs, fmt.Errorf("field %q is both a key and a comparable field", f.Name))
		}
		if fields[f.Name] {
			errs = append(errs, fmt.Errorf("duplicate field %q", f.Name))
		}
		fields[f.Name] = true
		if f.Epsilon < 0 || math.IsNaN(f.Epsilon) {
			errs = append(errs, fmt.Errorf("field %q: epsilon must be non-negative", f.Name))
		}
		if f.Kind < ExactScalar || f.Kind > Date {
			errs = append(errs, fmt.Errorf("field %q: unknown comparison kind %d", f.Name, f.Kind))
		}
	}

	if s.LabelField != "" && !fields[s.LabelField] && !keys[s.LabelField] {
		errs = append(errs, fmt.Errorf("label field %q is not declared", s.LabelField))
	}

	return errors.Join(errs...)
}

// Field returns the named comparable field.
func (s EntitySchema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// IdentityOf extracts the identity of a record. Every key field must be
// present and non-blank, and the record must be tagged with this schema.
func (s EntitySchema) IdentityOf(rec Record) (Identity, error) {
	if err := s.checkTag(rec); err != nil {
		return nil, err
	}

	id := make(Identity, len(s.KeyFields))
	for i, k := range s.KeyFields {
		v, ok := rec.Values[k]
		if !ok || v == nil {
			return nil, schemaMismatch(s.EntityType, k, "key field missing")
		}
		part, err := keyString(v)
		if err != nil {
			return nil, schemaMismatch(s.EntityType, k, "key field: %v", err)
		}
		if part == "" {
			return nil, schemaMismatch(s.EntityType, k, "key field is blank")
		}
		id[i] = part
	}
	return id, nil
}

// checkTag rejects records built for a different entity type. Untagged
// records are accepted.
func (s EntitySchema) checkTag(rec Record) error {
	if rec.EntityType != "" && rec.EntityType != s.EntityType {
		return schemaMismatch(s.EntityType, "", "record tagged %q", rec.EntityType)
	}
	return nil
}

// keyString renders a key value in its exact textual form.
func keyString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), nil
	case json.Number:
		return x.String(), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.Format(DateLayout), nil
	case fmt.Stringer:
		return strings.TrimSpace(x.String()), nil
	default:
		return "", fmt.Errorf("unsupported key type %T", v)
	}
}
