package aggregate

import (
	"fmt"
	"strings"
	"time"
)

const bytesPerMegabyte = 1 << 20

// BytesSuffix and MegabytesSuffix name the unit convention of network
// counter columns.
const (
	BytesSuffix     = "_bytes"
	MegabytesSuffix = "_mb"
)

// GroupAndAverage collapses rows sharing the same values in groupBy
// into one row holding the arithmetic mean of each column in average.
// Nil cells are skipped; a group with only nil cells averages to nil.
// Columns outside both sets keep the value of the group's first row.
// Group order follows first appearance, so sorted input stays sorted.
func GroupAndAverage(t *Table, groupBy []string, average []string) (*Table, error) {
	groupIdx, err := columnIndexes(t, groupBy)
	if err != nil {
		return nil, err
	}
	avgIdx, err := columnIndexes(t, average)
	if err != nil {
		return nil, err
	}

	type accumulator struct {
		first  []any
		sums   []float64
		counts []int64
	}

	var order []string
	groups := make(map[string]*accumulator)

	for rowNum, row := range t.Rows {
		key := groupKey(row, groupIdx)
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{
				first:  row,
				sums:   make([]float64, len(avgIdx)),
				counts: make([]int64, len(avgIdx)),
			}
			groups[key] = acc
			order = append(order, key)
		}
		for i, col := range avgIdx {
			cell := row[col]
			if cell == nil {
				continue
			}
			f, ok := cellFloat(cell)
			if !ok {
				return nil, &DataAggregationError{
					Column: t.Columns[col],
					RowKey: rowKey(t, row, groupIdx, rowNum),
					Err:    fmt.Errorf("non-numeric value %v (%T)", cell, cell),
				}
			}
			acc.sums[i] += f
			acc.counts[i]++
		}
	}

	averaged := make(map[int]int, len(avgIdx))
	for i, col := range avgIdx {
		averaged[col] = i
	}

	out := &Table{Columns: append([]string(nil), t.Columns...)}
	for _, key := range order {
		acc := groups[key]
		row := make([]any, len(t.Columns))
		for col := range t.Columns {
			if i, ok := averaged[col]; ok {
				if acc.counts[i] == 0 {
					row[col] = nil
				} else {
					row[col] = acc.sums[i] / float64(acc.counts[i])
				}
				continue
			}
			row[col] = acc.first[col]
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// BytesToMegabytes returns a copy of the table with the named byte
// counter columns divided by 1048576 and renamed with the _mb suffix.
// The conversion never happens implicitly; exports keep byte units by
// simply not calling this.
func BytesToMegabytes(t *Table, columns ...string) (*Table, error) {
	out := t.Clone()
	for _, name := range columns {
		idx := out.ColumnIndex(name)
		if idx < 0 {
			return nil, &DataAggregationError{Column: name, RowKey: "all", Err: fmt.Errorf("column not present")}
		}
		for rowNum, row := range out.Rows {
			if row[idx] == nil {
				continue
			}
			f, ok := cellFloat(row[idx])
			if !ok {
				return nil, &DataAggregationError{
					Column: name,
					RowKey: fmt.Sprintf("row %d", rowNum),
					Err:    fmt.Errorf("non-numeric value %v (%T)", row[idx], row[idx]),
				}
			}
			row[idx] = f / bytesPerMegabyte
		}
		out.Columns[idx] = MegabyteColumnName(name)
	}
	return out, nil
}

// MegabyteColumnName maps a byte counter column name onto its
// converted counterpart.
func MegabyteColumnName(name string) string {
	if strings.HasSuffix(name, BytesSuffix) {
		return strings.TrimSuffix(name, BytesSuffix) + MegabytesSuffix
	}
	return name + MegabytesSuffix
}

func columnIndexes(t *Table, names []string) ([]int, error) {
	idx := make([]int, 0, len(names))
	for _, name := range names {
		i := t.ColumnIndex(name)
		if i < 0 {
			return nil, &DataAggregationError{Column: name, RowKey: "all", Err: fmt.Errorf("column not present")}
		}
		idx = append(idx, i)
	}
	return idx, nil
}

func groupKey(row []any, groupIdx []int) string {
	parts := make([]string, len(groupIdx))
	for i, col := range groupIdx {
		parts[i] = formatCell(row[col])
	}
	return strings.Join(parts, "\x00")
}

// rowKey renders a human readable identity for an offending row,
// preferring the group columns over a bare row number.
func rowKey(t *Table, row []any, groupIdx []int, rowNum int) string {
	if len(groupIdx) == 0 {
		return fmt.Sprintf("row %d", rowNum)
	}
	parts := make([]string, len(groupIdx))
	for i, col := range groupIdx {
		parts[i] = fmt.Sprintf("%s=%s", t.Columns[col], formatCell(row[col]))
	}
	return strings.Join(parts, " ")
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case time.Time:
		return v.Format("2006-01-02")
	case []byte:
		return fmt.Sprintf("%x", v)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func cellFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
