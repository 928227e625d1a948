package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"

	"scanwatch/internal/scan"
)

// columnType is the physical type chosen for an exported column.
type columnType int

const (
	colString columnType = iota
	colDouble
	colBool
)

// inferTypes picks a type per column: DOUBLE when every non-null value is a
// number, BOOLEAN when every non-null value is a bool, UTF8 otherwise.
func inferTypes(cols []string, rows []scan.Row) map[string]columnType {
	types := make(map[string]columnType, len(cols))
	for _, c := range cols {
		var seen, nums, bools int
		for _, r := range rows {
			v := r.Get(c)
			switch v.Kind() {
			case scan.KindNull:
				continue
			case scan.KindNumber:
				nums++
			case scan.KindBool:
				bools++
			}
			seen++
		}
		switch {
		case seen > 0 && nums == seen:
			types[c] = colDouble
		case seen > 0 && bools == seen:
			types[c] = colBool
		default:
			types[c] = colString
		}
	}
	return types
}

// exportSchema builds an all-optional schema over cols.
func exportSchema(cols []string, types map[string]columnType) *parquet.Schema {
	group := make(parquet.Group, len(cols))
	for _, c := range cols {
		var node parquet.Node
		switch types[c] {
		case colDouble:
			node = parquet.Leaf(parquet.DoubleType)
		case colBool:
			node = parquet.Leaf(parquet.BooleanType)
		default:
			node = parquet.String()
		}
		group[c] = parquet.Optional(node)
	}
	return parquet.NewSchema("scan_view", group)
}

// WriteParquet writes rows as a Parquet file with one optional column per
// entry of cols. Duplicate column names are written once.
func WriteParquet(w io.Writer, cols []string, rows []scan.Row) error {
	uniq := make([]string, 0, len(cols))
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if !seen[c] {
			seen[c] = true
			uniq = append(uniq, c)
		}
	}
	if len(uniq) == 0 {
		return fmt.Errorf("exporting parquet: no columns")
	}
	// Group fields are laid out in name order; leaf indexes follow it.
	sort.Strings(uniq)

	types := inferTypes(uniq, rows)
	pw := parquet.NewWriter(w, exportSchema(uniq, types))

	batch := make([]parquet.Row, 0, len(rows))
	for _, r := range rows {
		row := make(parquet.Row, len(uniq))
		for i, c := range uniq {
			row[i] = leafValue(r.Get(c), types[c]).Level(0, definitionLevel(r.Get(c)), i)
		}
		batch = append(batch, row)
	}
	if _, err := pw.WriteRows(batch); err != nil {
		pw.Close()
		return fmt.Errorf("writing parquet rows: %w", err)
	}
	return pw.Close()
}

func definitionLevel(v scan.Value) int {
	if v.IsNull() {
		return 0
	}
	return 1
}

func leafValue(v scan.Value, t columnType) parquet.Value {
	if v.IsNull() {
		return parquet.NullValue()
	}
	switch t {
	case colDouble:
		f, _ := v.Float()
		return parquet.DoubleValue(f)
	case colBool:
		b, _ := v.Boolean()
		return parquet.BooleanValue(b)
	default:
		return parquet.ByteArrayValue([]byte(v.Text()))
	}
}

// ExportFile writes rows to path atomically via a temp file and rename.
func ExportFile(path string, cols []string, rows []scan.Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := WriteParquet(f, cols, rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
