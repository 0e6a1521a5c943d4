package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is one result row: an ordered mapping from column name to value.
// Columns and Values always have the same length.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of the named column.
func (r Row) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map returns the row as an unordered map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// MarshalJSON encodes the row as a JSON object whose keys follow column order.
func (r Row) MarshalJSON() ([]byte, error) {
	if len(r.Columns) != len(r.Values) {
		return nil, fmt.Errorf("row has %d columns but %d values", len(r.Columns), len(r.Values))
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping its key order as column order.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("row: expected object, got %v", tok)
	}

	r.Columns = r.Columns[:0]
	r.Values = r.Values[:0]
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("row: expected key, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("row: column %s: %w", key, err)
		}
		r.Columns = append(r.Columns, key)
		r.Values = append(r.Values, normalizeValue(v))
	}
	_, err = dec.Token()
	return err
}

// ResultSet is the engine-native result of an exec request.
type ResultSet struct {
	Columns []string `json:"columns"`
	Values  [][]any  `json:"values"`
}

func (rs *ResultSet) UnmarshalJSON(data []byte) error {
	var raw struct {
		Columns []string `json:"columns"`
		Values  [][]any  `json:"values"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	for _, row := range raw.Values {
		normalizeValues(row)
	}
	rs.Columns = raw.Columns
	rs.Values = raw.Values
	return nil
}

// normalizeValue converts JSON numbers to int64 when they are integral and
// to float64 otherwise.
func normalizeValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func normalizeValues(values []any) {
	for i, v := range values {
		values[i] = normalizeValue(v)
	}
}
