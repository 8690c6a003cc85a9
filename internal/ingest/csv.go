package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/JonMunkholm/flightrecorder/internal/core"
)

// nullMarkers are cell values report exports use for "no value".
var nullMarkers = map[string]bool{
	"--":   true,
	"null": true,
	"NULL": true,
}

// ParseCSV parses CSV data. Cells are kept as text; the comparator
// normalizes them per field kind.
func ParseCSV(schema core.EntitySchema, data []byte) ([]core.Record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot file: parse CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty snapshot file")
	}

	headerRow := findHeader(rows, schema.KeyFields)
	if headerRow < 0 {
		return nil, fmt.Errorf("invalid snapshot file: header not found (expected key columns: %s)",
			strings.Join(schema.KeyFields, ", "))
	}
	idx := core.MakeHeaderIndex(rows[headerRow])

	columns := schema.Columns()
	records := make([]core.Record, 0, len(rows)-headerRow-1)
	for _, row := range rows[headerRow+1:] {
		if isEmptyRow(row) {
			continue
		}
		values := make(map[string]any, len(columns))
		for _, col := range columns {
			i, ok := idx[strings.ToLower(col)]
			if !ok {
				continue
			}
			values[col] = cellValue(row, i)
		}
		records = append(records, core.NewRecord(schema.EntityType, values))
	}
	return records, nil
}

// findHeader returns the index of the first row naming every key column.
func findHeader(rows [][]string, keys []string) int {
	maxRows := MaxHeaderSearchRows
	if len(rows) < maxRows {
		maxRows = len(rows)
	}

	for i := 0; i < maxRows; i++ {
		idx := core.MakeHeaderIndex(rows[i])
		found := true
		for _, k := range keys {
			if _, ok := idx[strings.ToLower(k)]; !ok {
				found = false
				break
			}
		}
		if found {
			return i
		}
	}
	return -1
}

func cellValue(row []string, i int) any {
	if i >= len(row) {
		return nil
	}
	v := core.CleanCell(row[i])
	if v == "" || nullMarkers[v] {
		return nil
	}
	return v
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
