// Package ingest parses captured snapshot files into records.
//
// Two formats are accepted:
//   - CSV with a header row naming the schema's columns. Report exports often
//     carry title rows above the header, so the first rows are searched for
//     one that names every key field. Columns the schema does not know are
//     ignored.
//   - JSON: an array of objects, or an object with a "records" array.
//
// Parsing never validates identities; core.Service.IngestSnapshot does that
// before anything is stored.
package ingest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/flightrecorder/internal/core"
)

// MaxFileSize is the largest snapshot file accepted.
const MaxFileSize = 100 * 1024 * 1024

// MaxHeaderSearchRows limits how far down a CSV the header row may appear.
const MaxHeaderSearchRows = 20

// Format is a snapshot file format.
type Format int

const (
	FormatCSV Format = iota
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "csv"
}

// DetectFormat picks a format from a file name or content type. CSV is the
// default.
func DetectFormat(name, contentType string) Format {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "json") {
		return FormatJSON
	}
	if strings.Contains(ct, "csv") {
		return FormatCSV
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// Parse reads a snapshot of schema's entity type in the given format.
func Parse(schema core.EntitySchema, format Format, r io.Reader) ([]core.Record, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot file: read: %w", err)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("invalid snapshot file: exceeds %dMB limit", MaxFileSize/(1024*1024))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty snapshot file")
	}

	switch format {
	case FormatJSON:
		return ParseJSON(schema, data)
	default:
		return ParseCSV(schema, sanitizeUTF8(data))
	}
}

// ReadFile parses the snapshot file at path, choosing the format by
// extension.
func ReadFile(schema core.EntitySchema, path string) ([]core.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(schema, DetectFormat(path, ""), f)
}

// sanitizeUTF8 replaces invalid byte sequences with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('\uFFFD')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
