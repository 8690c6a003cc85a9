package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

func testSchema() EntitySchema {
	return EntitySchema{
		EntityType: "campaign_control_state",
		Group:      "Control",
		KeyFields:  []string{"campaign_id"},
		Fields: []FieldSpec{
			{Name: "campaign_name", Kind: ExactScalar},
			{Name: "campaign_status", Kind: ExactScalar},
			{Name: "campaign_budget_amount", Kind: Numeric, Epsilon: 0.01},
			{Name: "bidding_strategy_json", Kind: OpaqueBlob},
			{Name: "end_date", Kind: Date},
		},
		LabelField: "campaign_name",
	}
}

func rec(values map[string]any) Record {
	return NewRecord("campaign_control_state", values)
}

func TestEqualValues(t *testing.T) {
	exact := FieldSpec{Name: "f", Kind: ExactScalar}
	num := FieldSpec{Name: "f", Kind: Numeric, Epsilon: 0.01}
	numExact := FieldSpec{Name: "f", Kind: Numeric}
	blob := FieldSpec{Name: "f", Kind: OpaqueBlob}
	date := FieldSpec{Name: "f", Kind: Date}

	tests := []struct {
		name string
		spec FieldSpec
		a, b any
		want bool
	}{
		{"nil equals empty string", exact, nil, "", true},
		{"nil equals blank", exact, nil, "   ", true},
		{"nil vs value", exact, nil, "ENABLED", false},
		{"same string", exact, "ENABLED", "ENABLED", true},
		{"case sensitive", exact, "Enabled", "ENABLED", false},
		{"trimmed", exact, " ENABLED ", "ENABLED", true},
		{"int vs string", exact, 42, "42", true},
		{"invalid pgtext is absent", exact, pgtype.Text{}, nil, true},

		{"within epsilon", num, "10.00", "10.005", true},
		{"at epsilon", num, "10.00", "10.01", true},
		{"beyond epsilon", num, "10.00", "10.02", false},
		{"float vs string", num, 1.5, "1.50", true},
		{"json number", num, json.Number("3"), 3, true},
		{"currency formatting", num, "$1,000", "1000", true},
		{"zero epsilon exact", numExact, "1.0", "1", true},
		{"zero epsilon differs", numExact, "1.0", "1.0000001", false},
		{"numeric absent", num, "", nil, true},
		{"numeric absent vs zero", num, nil, "0", false},

		{"blob whitespace", blob, `{"a": 1, "b": [1, 2]}`, `{"a":1,"b":[1,2]}`, true},
		{"blob key order matters", blob, `{"a":1,"b":2}`, `{"b":2,"a":1}`, false},
		{"blob array order matters", blob, `["x","y"]`, `["y","x"]`, false},
		{"blob non-json whitespace", blob, "a  b\n c", "a b c", true},
		{"blob raw message", blob, json.RawMessage(`{ "k" : "v" }`), `{"k":"v"}`, true},
		{"blob map marshalled", blob, map[string]any{"k": "v"}, `{"k":"v"}`, true},
		{"blob string literal spacing", blob, `{"k":"a b"}`, `{"k":"a  b"}`, false},

		{"date formats", date, "2024-01-15", "1/15/2024", true},
		{"date vs time", date, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), "2024-01-15", true},
		{"date vs pgtype", date, pgtype.Date{Time: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), Valid: true}, "2024-01-15", true},
		{"date differs", date, "2024-01-15", "2024-01-16", false},
		{"date unparsed text", date, "someday", "someday", true},
		{"zero time is absent", date, time.Time{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EqualValues(tt.spec, tt.a, tt.b)
			if err != nil {
				t.Fatalf("EqualValues() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("EqualValues(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestEqualValues_InvalidNumber(t *testing.T) {
	spec := FieldSpec{Name: "f", Kind: Numeric}
	if _, err := EqualValues(spec, "abc", "1"); err == nil {
		t.Error("expected error for non-numeric text")
	}
	if _, err := EqualValues(spec, true, "1"); err == nil {
		t.Error("expected error for bool")
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name      string
		spec      FieldSpec
		in        any
		wantValid bool
		want      string
	}{
		{"numeric string keeps text", FieldSpec{Kind: Numeric}, " 10.00 ", true, "10.00"},
		{"float shortest form", FieldSpec{Kind: Numeric}, 0.1, true, "0.1"},
		{"int", FieldSpec{Kind: Numeric}, int64(250000), true, "250000"},
		{"blob compacted", FieldSpec{Kind: OpaqueBlob}, `{ "a" : 1 }`, true, `{"a":1}`},
		{"date canonical", FieldSpec{Kind: Date}, "01/02/2025", true, "2025-01-02"},
		{"absent", FieldSpec{Kind: ExactScalar}, "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.spec, tt.in)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if got.Valid != tt.wantValid || got.String != tt.want {
				t.Errorf("Render(%v) = %+v, want valid=%v %q", tt.in, got, tt.wantValid, tt.want)
			}
		})
	}
}

func TestRender_Truncates(t *testing.T) {
	got, err := Render(FieldSpec{Kind: ExactScalar}, strings.Repeat("x", MaxValueLength+10))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(got.String) != MaxValueLength {
		t.Errorf("len = %d, want %d", len(got.String), MaxValueLength)
	}
}

func TestComparePair(t *testing.T) {
	schema := testSchema()

	oldRec := rec(map[string]any{
		"campaign_id":            "A",
		"campaign_name":          "Brand",
		"campaign_status":        "ENABLED",
		"campaign_budget_amount": "10.00",
		"bidding_strategy_json":  `{"type": "MAXIMIZE_CLICKS"}`,
		"end_date":               "",
	})
	newRec := rec(map[string]any{
		"campaign_id":            "A",
		"campaign_name":          "Brand",
		"campaign_status":        "PAUSED",
		"campaign_budget_amount": "10.02",
		"bidding_strategy_json":  `{"type":"MAXIMIZE_CLICKS"}`,
	})

	got, err := ComparePair(schema, oldRec, newRec)
	if err != nil {
		t.Fatalf("ComparePair() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ComparePair() returned %d records, want 2: %+v", len(got), got)
	}

	if got[0].ChangedField != "campaign_status" || got[0].OldValue.String != "ENABLED" || got[0].NewValue.String != "PAUSED" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].ChangedField != "campaign_budget_amount" || got[1].OldValue.String != "10.00" || got[1].NewValue.String != "10.02" {
		t.Errorf("got[1] = %+v", got[1])
	}
	for _, d := range got {
		if d.ChangeClass != ChangeFieldChanged {
			t.Errorf("ChangeClass = %s, want %s", d.ChangeClass, ChangeFieldChanged)
		}
		if d.Identity.String() != "A" {
			t.Errorf("Identity = %s, want A", d.Identity)
		}
	}
}

func TestComparePair_AbsentTransitions(t *testing.T) {
	schema := testSchema()

	got, err := ComparePair(schema,
		rec(map[string]any{"campaign_id": "A", "end_date": nil}),
		rec(map[string]any{"campaign_id": "A", "end_date": "2025-03-31"}),
	)
	if err != nil {
		t.Fatalf("ComparePair() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].OldValue.Valid {
		t.Errorf("OldValue = %+v, want NULL", got[0].OldValue)
	}
	if got[0].NewValue.String != "2025-03-31" {
		t.Errorf("NewValue = %q, want 2025-03-31", got[0].NewValue.String)
	}
}

func TestComparePair_Errors(t *testing.T) {
	schema := testSchema()

	tests := []struct {
		name     string
		old, new Record
	}{
		{
			name: "different identities",
			old:  rec(map[string]any{"campaign_id": "A"}),
			new:  rec(map[string]any{"campaign_id": "B"}),
		},
		{
			name: "missing key",
			old:  rec(map[string]any{"campaign_id": "A"}),
			new:  rec(map[string]any{"campaign_name": "x"}),
		},
		{
			name: "wrong entity type",
			old:  rec(map[string]any{"campaign_id": "A"}),
			new:  NewRecord("ad_group", map[string]any{"campaign_id": "A"}),
		},
		{
			name: "non-numeric budget",
			old:  rec(map[string]any{"campaign_id": "A", "campaign_budget_amount": "ten"}),
			new:  rec(map[string]any{"campaign_id": "A", "campaign_budget_amount": "10"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComparePair(schema, tt.old, tt.new)
			if !errors.Is(err, ErrSchemaMismatch) {
				t.Errorf("ComparePair() error = %v, want ErrSchemaMismatch", err)
			}
		})
	}
}

func TestCanonicalBlob(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{ "a" : [1, 2] }`, `{"a":[1,2]}`},
		{"  plain   text \n here ", "plain text here"},
		{`{"broken": `, `{"broken":`},
	}
	for _, tt := range tests {
		if got := CanonicalBlob(tt.in); got != tt.want {
			t.Errorf("CanonicalBlob(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
