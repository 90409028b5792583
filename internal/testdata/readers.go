package testdata

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func readFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode YAML %s: %w", path, err)
		}
		return toRecords(doc)
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode JSON %s: %w", path, err)
		}
		return toRecords(doc)
	case ".csv":
		return readCSV(data)
	}
	return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
}

// toRecords accepts a list of mappings, a mapping with a "data" list, or a
// single mapping.
func toRecords(doc any) ([]Record, error) {
	if m, ok := asMap(doc); ok {
		if data, ok := m["data"]; ok {
			return toRecords(data)
		}
		return []Record{m}, nil
	}

	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		records := make([]Record, 0, len(v))
		for i, item := range v {
			m, ok := asMap(item)
			if !ok {
				return nil, fmt.Errorf("record %d: expected mapping, got %T", i, item)
			}
			records = append(records, m)
		}
		return records, nil
	}
	return nil, fmt.Errorf("expected list or mapping, got %T", doc)
}

func asMap(v any) (Record, bool) {
	switch m := v.(type) {
	case map[string]any:
		return Record(m), true
	case map[any]any:
		out := make(Record, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// readCSV treats the first row as the header.
func readCSV(data []byte) ([]Record, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", i+2, len(row), len(header))
		}
		record := make(Record, len(header))
		for j, field := range header {
			record[field] = row[j]
		}
		records = append(records, record)
	}
	return records, nil
}
