package scan

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// ParseRows decodes a JSON array of objects into rows, keeping each object's
// key order. Nested objects and arrays are kept as their raw JSON text.
func ParseRows(data []byte) ([]Row, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("scan: invalid JSON")
	}
	return RowsFromResult(gjson.ParseBytes(data))
}

// RowsFromResult converts an already parsed gjson array into rows. A null or
// missing result yields an empty slice.
func RowsFromResult(res gjson.Result) ([]Row, error) {
	if !res.Exists() || res.Type == gjson.Null {
		return []Row{}, nil
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("scan: rows: expected array, got %s", res.Type)
	}
	arr := res.Array()
	rows := make([]Row, 0, len(arr))
	for i, item := range arr {
		if !item.IsObject() {
			return nil, fmt.Errorf("scan: rows[%d]: expected object, got %s", i, item.Type)
		}
		rows = append(rows, rowFromResult(item))
	}
	return rows, nil
}

// ParseRow decodes a single JSON object into a row.
func ParseRow(data []byte) (Row, error) {
	if !gjson.ValidBytes(data) {
		return Row{}, fmt.Errorf("scan: invalid JSON")
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return Row{}, fmt.Errorf("scan: expected object, got %s", res.Type)
	}
	return rowFromResult(res), nil
}

func rowFromResult(obj gjson.Result) Row {
	var r Row
	obj.ForEach(func(key, val gjson.Result) bool {
		r.set(key.String(), valueFromResult(val))
		return true
	})
	if r.vals == nil {
		r.vals = map[string]Value{}
	}
	return r
}

func valueFromResult(v gjson.Result) Value {
	switch v.Type {
	case gjson.String:
		return Str(v.Str)
	case gjson.Number:
		return Num(v.Num)
	case gjson.True:
		return Bool(true)
	case gjson.False:
		return Bool(false)
	case gjson.JSON:
		return Str(v.Raw)
	default:
		return Null()
	}
}
