// Package aggregate turns flat result tables into the grouped,
// pivoted time series the dashboard charts. It never touches the
// database; its inputs are plain columns and rows.
package aggregate

import (
	"errors"
	"fmt"
)

// Table is a flat result set: named columns and rows of cells. Cells
// are nil, time.Time, []byte, string, int64, float64 or bool.
type Table struct {
	Columns []string
	Rows    [][]any
}

// DataAggregationError reports a value that could not be aggregated,
// carrying the offending column and a description of the row so the
// bad source record can be found.
type DataAggregationError struct {
	Column string
	RowKey string
	Err    error
}

func (e *DataAggregationError) Error() string {
	return fmt.Sprintf("data aggregation failed on column %q at row %s: %v", e.Column, e.RowKey, e.Err)
}

func (e *DataAggregationError) Unwrap() error { return e.Err }

// AsDataAggregationError unwraps err into a DataAggregationError if
// there is one in its chain.
func AsDataAggregationError(err error) (*DataAggregationError, bool) {
	var aggErr *DataAggregationError
	ok := errors.As(err, &aggErr)
	return aggErr, ok
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the table carries name.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return len(t.Rows) == 0
}

// AppendColumn adds a derived column. values must cover every row.
func (t *Table) AppendColumn(name string, values []any) error {
	if len(values) != len(t.Rows) {
		return fmt.Errorf("column %q: got %d values for %d rows", name, len(values), len(t.Rows))
	}
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], values[i])
	}
	return nil
}

// Clone returns a deep copy of the table's shape. Cell values are
// shared, which is safe because cells are treated as immutable.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]any, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}
