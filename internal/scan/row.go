package scan

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrMissingKey is returned when a row has no usable symbol/interval value.
var ErrMissingKey = errors.New("scan: row has no symbol/interval value")

// SourceID identifies the upstream data source (file association) a row set
// belongs to.
type SourceID string

// Field is a single named cell used to build rows.
type Field struct {
	Name  string
	Value Value
}

// F is shorthand for building a Field from a Go scalar.
func F(name string, v any) Field { return Field{Name: name, Value: ValueOf(v)} }

// Row is an ordered mapping from column name to Value. Rows are treated as
// immutable once built and are shared between the authoritative set and
// derived views.
type Row struct {
	cols []string
	vals map[string]Value
}

// NewRow builds a row from fields in order. A repeated name keeps its first
// position and takes the last value.
func NewRow(fields ...Field) Row {
	r := Row{
		cols: make([]string, 0, len(fields)),
		vals: make(map[string]Value, len(fields)),
	}
	for _, f := range fields {
		r.set(f.Name, f.Value)
	}
	return r
}

func (r *Row) set(name string, v Value) {
	if r.vals == nil {
		r.vals = make(map[string]Value)
	}
	if _, ok := r.vals[name]; !ok {
		r.cols = append(r.cols, name)
	}
	r.vals[name] = v
}

// Columns returns the column names in source order.
func (r Row) Columns() []string { return r.cols }

// Len returns the number of columns.
func (r Row) Len() int { return len(r.cols) }

// Get returns the value for column name. Missing columns yield null.
func (r Row) Get(name string) Value { return r.vals[name] }

// Lookup returns the value for column name and whether the column exists.
func (r Row) Lookup(name string) (Value, bool) {
	v, ok := r.vals[name]
	return v, ok
}

// Hash returns the trimmed row content hash, or "" when the row has none.
func (r Row) Hash() string {
	return strings.TrimSpace(r.Get(HashColumn).Text())
}

// SymbolInterval returns the row's favoriting key: the trimmed value of the
// first column whose name contains both "sym" and "int" (case-insensitive).
func (r Row) SymbolInterval() (string, error) {
	col := SymbolIntervalColumn(r.cols)
	if col == "" {
		return "", ErrMissingKey
	}
	key := strings.TrimSpace(r.Get(col).Text())
	if key == "" {
		return "", ErrMissingKey
	}
	return key, nil
}

// Equal reports whether two rows have identical columns and values.
func (r Row) Equal(o Row) bool {
	if len(r.cols) != len(o.cols) {
		return false
	}
	for i, c := range r.cols {
		if o.cols[i] != c || !r.vals[c].Equal(o.vals[c]) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the row as a JSON object preserving column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.cols {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := r.vals[c].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the row preserving key order.
func (r *Row) UnmarshalJSON(data []byte) error {
	row, err := ParseRow(data)
	if err != nil {
		return err
	}
	*r = row
	return nil
}

// RowSet is a versioned snapshot of rows from a single source.
type RowSet struct {
	Source  SourceID
	Version int64
	Rows    []Row
}

// Columns returns the column set of the row set, taken from its first row.
func (s RowSet) Columns() []string {
	if len(s.Rows) == 0 {
		return nil
	}
	return s.Rows[0].Columns()
}

// IsZero reports whether no row set has been loaded.
func (s RowSet) IsZero() bool {
	return s.Source == "" && s.Version == 0 && s.Rows == nil
}
