package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/JonMunkholm/flightrecorder/internal/core"
	"github.com/JonMunkholm/flightrecorder/internal/store"
)

// ParseJSON parses a JSON array of objects, or an object holding one under
// "records". Nested objects and arrays stay raw so blob fields keep their
// exact text.
func ParseJSON(schema core.EntitySchema, data []byte) ([]core.Record, error) {
	data = bytes.TrimSpace(data)

	var items []map[string]json.RawMessage
	switch {
	case len(data) > 0 && data[0] == '[':
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("invalid snapshot file: %w", err)
		}
	case len(data) > 0 && data[0] == '{':
		var wrapper struct {
			Records []map[string]json.RawMessage `json:"records"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("invalid snapshot file: %w", err)
		}
		if wrapper.Records == nil {
			return nil, fmt.Errorf("invalid snapshot file: object has no \"records\" array")
		}
		items = wrapper.Records
	default:
		return nil, fmt.Errorf("invalid snapshot file: expected a JSON array or object")
	}

	known := make(map[string]bool)
	for _, col := range schema.Columns() {
		known[col] = true
	}

	records := make([]core.Record, 0, len(items))
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("invalid snapshot file: record %d is null", i)
		}
		values := make(map[string]any, len(item))
		for k, raw := range item {
			if !known[k] {
				continue
			}
			v, err := store.DecodeValue(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid snapshot file: record %d field %q: %w", i, k, err)
			}
			values[k] = v
		}
		records = append(records, core.NewRecord(schema.EntityType, values))
	}
	return records, nil
}
