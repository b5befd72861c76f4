package aggregate

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// TimeSeriesFrame is a pivoted metric: one row per date, one column
// per entity label. A (date, entity) pair the source never reported
// is a gap, distinct from a reported zero.
type TimeSeriesFrame struct {
	dates   []time.Time
	columns []string
	cells   map[string]float64
}

// Pivot spreads a long table into a frame, taking row identity from
// dateColumn, series identity from labelColumn and cell values from
// valueColumn. Nil values leave a gap. Dates and labels come out
// sorted, so frame layout is deterministic regardless of input order.
func Pivot(t *Table, dateColumn, labelColumn, valueColumn string) (*TimeSeriesFrame, error) {
	idx, err := columnIndexes(t, []string{dateColumn, labelColumn, valueColumn})
	if err != nil {
		return nil, err
	}
	dateIdx, labelIdx, valueIdx := idx[0], idx[1], idx[2]

	f := &TimeSeriesFrame{cells: make(map[string]float64)}
	seenDates := make(map[string]bool)
	seenLabels := make(map[string]bool)

	for rowNum, row := range t.Rows {
		date, ok := row[dateIdx].(time.Time)
		if !ok {
			return nil, &DataAggregationError{
				Column: dateColumn,
				RowKey: fmt.Sprintf("row %d", rowNum),
				Err:    fmt.Errorf("unexpected value %v (%T)", row[dateIdx], row[dateIdx]),
			}
		}
		label := cellString(row[labelIdx])

		dk := date.Format(dateLayout)
		if !seenDates[dk] {
			seenDates[dk] = true
			f.dates = append(f.dates, date)
		}
		if !seenLabels[label] {
			seenLabels[label] = true
			f.columns = append(f.columns, label)
		}

		cell := row[valueIdx]
		if cell == nil {
			continue
		}
		value, ok := cellFloat(cell)
		if !ok {
			return nil, &DataAggregationError{
				Column: valueColumn,
				RowKey: fmt.Sprintf("%s=%s %s=%s", dateColumn, dk, labelColumn, label),
				Err:    fmt.Errorf("non-numeric value %v (%T)", cell, cell),
			}
		}
		f.cells[cellKey(dk, label)] = value
	}

	sort.Slice(f.dates, func(i, j int) bool { return f.dates[i].Before(f.dates[j]) })
	sort.Strings(f.columns)
	return f, nil
}

// Dates returns the frame's date index, ascending.
func (f *TimeSeriesFrame) Dates() []time.Time {
	return append([]time.Time(nil), f.dates...)
}

// Columns returns the frame's entity labels, sorted.
func (f *TimeSeriesFrame) Columns() []string {
	return append([]string(nil), f.columns...)
}

// Value returns the cell for a date and label. ok is false for gaps.
func (f *TimeSeriesFrame) Value(date time.Time, label string) (float64, bool) {
	v, ok := f.cells[cellKey(date.Format(dateLayout), label)]
	return v, ok
}

// Empty reports whether the frame has no dates at all.
func (f *TimeSeriesFrame) Empty() bool {
	return len(f.dates) == 0
}

// MarshalJSON renders the frame row-major with explicit nulls for
// gaps, so chart consumers can break lines instead of drawing zeros.
func (f *TimeSeriesFrame) MarshalJSON() ([]byte, error) {
	type payload struct {
		Index   []string     `json:"index"`
		Columns []string     `json:"columns"`
		Values  [][]*float64 `json:"values"`
	}

	p := payload{
		Index:   make([]string, len(f.dates)),
		Columns: f.columns,
		Values:  make([][]*float64, len(f.dates)),
	}
	for i, date := range f.dates {
		dk := date.Format(dateLayout)
		p.Index[i] = dk
		row := make([]*float64, len(f.columns))
		for j, label := range f.columns {
			if v, ok := f.cells[cellKey(dk, label)]; ok {
				value := v
				row[j] = &value
			}
		}
		p.Values[i] = row
	}
	return json.Marshal(p)
}

func cellKey(date, label string) string {
	return date + "\x00" + label
}
