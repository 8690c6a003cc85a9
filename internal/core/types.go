package core

import (
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ComparisonKind selects how a field's old and new values are normalized
// and compared.
type ComparisonKind int

const (
	ExactScalar ComparisonKind = iota
	Numeric
	OpaqueBlob
	Date
)

func (k ComparisonKind) String() string {
	switch k {
	case ExactScalar:
		return "EXACT_SCALAR"
	case Numeric:
		return "NUMERIC"
	case OpaqueBlob:
		return "OPAQUE_BLOB"
	case Date:
		return "DATE"
	default:
		return "UNKNOWN"
	}
}

// FieldSpec declares one comparable field of an entity type.
type FieldSpec struct {
	Name    string         // Record key, also the ChangedField of emitted diffs
	Kind    ComparisonKind // Comparison strategy
	Epsilon float64        // NUMERIC only: differences <= Epsilon are not changes
}

// EntitySchema describes one trackable entity type: how records are keyed
// and which fields are compared, in declared order.
type EntitySchema struct {
	EntityType string      // Unique identifier: "campaign_control_state"
	Group      string      // Display grouping: "Control", "Structure", ...
	Label      string      // Display name: "Campaign Control State"
	KeyFields  []string    // Ordered identity fields
	Fields     []FieldSpec // Comparable fields in declared order

	// LabelField names a field whose value is reported as the old/new value
	// of ADDED and REMOVED rows. Falls back to the identity when unset.
	LabelField string
}

// FieldNames returns the comparable field names in declared order.
func (s EntitySchema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Columns returns key fields followed by comparable fields.
// Used for CSV templates and ingest header matching.
func (s EntitySchema) Columns() []string {
	cols := make([]string, 0, len(s.KeyFields)+len(s.Fields))
	cols = append(cols, s.KeyFields...)
	return append(cols, s.FieldNames()...)
}

// clone returns a deep copy so callers cannot mutate registry state.
func (s EntitySchema) clone() EntitySchema {
	out := s
	out.KeyFields = append([]string(nil), s.KeyFields...)
	out.Fields = append([]FieldSpec(nil), s.Fields...)
	return out
}

// Record is one entity row. Values are strings, numbers (any Go numeric kind
// or json.Number), time.Time, or nil.
type Record struct {
	EntityType string
	Values     map[string]any
}

// NewRecord builds a record tagged with entityType.
func NewRecord(entityType string, values map[string]any) Record {
	if values == nil {
		values = make(map[string]any)
	}
	return Record{EntityType: entityType, Values: values}
}

// Identity is the ordered tuple of a record's key values.
type Identity []string

// IdentitySeparator joins identity parts for display and storage.
const IdentitySeparator = "|"

func (id Identity) String() string {
	return strings.Join(id, IdentitySeparator)
}

// indexKey encodes the tuple for in-memory indexing. Each part is length
// prefixed, so two keys are equal only when every part is equal.
func (id Identity) indexKey() string {
	var b strings.Builder
	for _, part := range id {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// Equal reports exact equality of two identities.
func (id Identity) Equal(other Identity) bool {
	if len(id) != len(other) {
		return false
	}
	for i := range id {
		if id[i] != other[i] {
			return false
		}
	}
	return true
}

// ParseIdentity splits a stored identity string back into its parts.
func ParseIdentity(s string) Identity {
	if s == "" {
		return nil
	}
	return Identity(strings.Split(s, IdentitySeparator))
}

// Snapshot is the full set of records of one entity type at one logical time.
type Snapshot struct {
	EntityType string
	CustomerID string
	AsOf       time.Time
	Records    []Record
}

// ChangeClass is the kind of change a DiffRecord describes.
type ChangeClass string

const (
	ChangeAdded        ChangeClass = "ADDED"
	ChangeRemoved      ChangeClass = "REMOVED"
	ChangeFieldChanged ChangeClass = "FIELD_CHANGED"
)

// EntityField is the ChangedField value of ADDED and REMOVED rows.
const EntityField = "__entity__"

// MaxValueLength caps rendered old/new values.
const MaxValueLength = 65535

// DiffRecord is one detected change. OldValue is invalid (NULL) for ADDED,
// NewValue is invalid for REMOVED.
type DiffRecord struct {
	EntityType   string      `json:"entityType"`
	Identity     Identity    `json:"identity"`
	ChangedField string      `json:"changedField"`
	OldValue     pgtype.Text `json:"oldValue"`
	NewValue     pgtype.Text `json:"newValue"`
	ChangeClass  ChangeClass `json:"changeClass"`
}

// Unit is one independent piece of diff work.
type Unit struct {
	EntityType string
	CustomerID string
	AsOf       time.Time
}

// DateLayout is the calendar-date layout used for units and DATE fields.
const DateLayout = "2006-01-02"

// Key returns a stable string form of the unit.
func (u Unit) Key() string {
	return u.EntityType + "/" + u.CustomerID + "/" + u.AsOf.Format(DateLayout)
}

// RunStatus is the outcome of one unit.
type RunStatus string

const (
	StatusSuccess RunStatus = "SUCCESS"
	StatusFailure RunStatus = "FAILURE"
)

// RunResult reports the outcome of one unit.
type RunResult struct {
	Unit      Unit          `json:"-"`
	UnitKey   string        `json:"unit"`
	Status    RunStatus     `json:"status"`
	DiffCount int           `json:"diffCount"`
	Skipped   bool          `json:"skipped,omitempty"` // No previous snapshot to diff against
	Kind      FailureKind   `json:"kind,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Succeeded reports whether the unit finished successfully.
func (r RunResult) Succeeded() bool {
	return r.Status == StatusSuccess
}
