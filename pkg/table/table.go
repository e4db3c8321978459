// Package table provides the in-memory tabular structure that carries data
// between extract, transform and load.
package table

import (
	"sort"

	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// Frame is an ordered set of equally long columns
type Frame struct {
	columns []string
	data    map[string][]interface{}
	rows    int
}

// New creates an empty frame with rows rows and no columns
func New(rows int) *Frame {
	return &Frame{data: make(map[string][]interface{}), rows: rows}
}

// FromRecords builds a frame from row objects. Columns appear in first-seen
// order; keys within one record are visited in sorted order so the result
// is deterministic. Missing cells are nil.
func FromRecords(records []map[string]interface{}) *Frame {
	f := New(len(records))
	for i, rec := range records {
		keys := lo.Keys(rec)
		sort.Strings(keys)
		for _, k := range keys {
			col, ok := f.data[k]
			if !ok {
				col = make([]interface{}, len(records))
				f.data[k] = col
				f.columns = append(f.columns, k)
			}
			col[i] = rec[k]
		}
	}
	return f
}

// Rows returns the row count
func (f *Frame) Rows() int {
	return f.rows
}

// Columns returns the column names in insertion order
func (f *Frame) Columns() []string {
	return append([]string(nil), f.columns...)
}

// Has reports whether a column exists
func (f *Frame) Has(name string) bool {
	_, ok := f.data[name]
	return ok
}

// Column returns the values of a column, or nil and false when absent
func (f *Frame) Column(name string) ([]interface{}, bool) {
	col, ok := f.data[name]
	return col, ok
}

// Set adds or replaces a column. A new column is appended after the
// existing ones; replacing keeps its position. Values are padded with nil
// or truncated to the frame's row count.
func (f *Frame) Set(name string, values []interface{}) {
	col := make([]interface{}, f.rows)
	copy(col, values)
	if _, ok := f.data[name]; !ok {
		f.columns = append(f.columns, name)
	}
	f.data[name] = col
}

// Records returns the frame as row objects
func (f *Frame) Records() []map[string]interface{} {
	out := make([]map[string]interface{}, f.rows)
	for i := range out {
		rec := make(map[string]interface{}, len(f.columns))
		for _, c := range f.columns {
			rec[c] = f.data[c][i]
		}
		out[i] = rec
	}
	return out
}

// StringRows returns the frame as a header plus stringified rows, nil cells
// becoming empty strings
func (f *Frame) StringRows() (header []string, rows [][]string) {
	header = f.Columns()
	rows = make([][]string, f.rows)
	for i := range rows {
		row := make([]string, len(header))
		for j, c := range header {
			if v := f.data[c][i]; v != nil {
				row[j] = cast.ToString(v)
			}
		}
		rows[i] = row
	}
	return header, rows
}

// FromStringRows builds a frame from a header and string rows
func FromStringRows(header []string, rows [][]string) *Frame {
	f := New(len(rows))
	for j, name := range header {
		col := make([]interface{}, len(rows))
		for i, row := range rows {
			if j < len(row) {
				col[i] = row[j]
			}
		}
		f.Set(name, col)
	}
	return f
}
