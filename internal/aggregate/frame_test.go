package aggregate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPivotPreservesGaps(t *testing.T) {
	tbl := &Table{
		Columns: []string{"date", "client_label", "avg_cpu_usage"},
		Rows: [][]any{
			{day(1), "GPU-A (1111aaaa...)", 10.0},
			{day(3), "GPU-A (1111aaaa...)", 30.0},
			{day(2), "GPU-B (2222bbbb...)", 20.0},
		},
	}

	frame, err := Pivot(tbl, "date", "client_label", "avg_cpu_usage")
	require.NoError(t, err)

	require.Equal(t, []string{"GPU-A (1111aaaa...)", "GPU-B (2222bbbb...)"}, frame.Columns())
	dates := frame.Dates()
	require.Len(t, dates, 3)
	assert.Equal(t, day(1), dates[0])
	assert.Equal(t, day(2), dates[1])
	assert.Equal(t, day(3), dates[2])

	v, ok := frame.Value(day(1), "GPU-A (1111aaaa...)")
	assert.True(t, ok)
	assert.Equal(t, 10.0, v)

	// the day GPU-A never reported is a gap, not a zero
	_, ok = frame.Value(day(2), "GPU-A (1111aaaa...)")
	assert.False(t, ok)
	_, ok = frame.Value(day(1), "GPU-B (2222bbbb...)")
	assert.False(t, ok)
}

func TestPivotNilValueIsGap(t *testing.T) {
	tbl := &Table{
		Columns: []string{"date", "client_label", "v"},
		Rows: [][]any{
			{day(1), "a", nil},
		},
	}

	frame, err := Pivot(tbl, "date", "client_label", "v")
	require.NoError(t, err)

	require.Len(t, frame.Dates(), 1)
	require.Equal(t, []string{"a"}, frame.Columns())
	_, ok := frame.Value(day(1), "a")
	assert.False(t, ok)
}

func TestPivotDeterministicLayout(t *testing.T) {
	shuffled := &Table{
		Columns: []string{"date", "client_label", "v"},
		Rows: [][]any{
			{day(2), "b", 2.0},
			{day(1), "a", 1.0},
			{day(1), "b", 3.0},
		},
	}

	frame, err := Pivot(shuffled, "date", "client_label", "v")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, frame.Columns())
	dates := frame.Dates()
	require.Len(t, dates, 2)
	assert.True(t, dates[0].Before(dates[1]))
}

func TestPivotRejectsNonNumericValues(t *testing.T) {
	tbl := &Table{
		Columns: []string{"date", "client_label", "v"},
		Rows: [][]any{
			{day(1), "a", "garbage"},
		},
	}

	_, err := Pivot(tbl, "date", "client_label", "v")
	require.Error(t, err)

	aggErr, ok := AsDataAggregationError(err)
	require.True(t, ok)
	assert.Equal(t, "v", aggErr.Column)
}

func TestFrameMarshalJSONEmitsNullGaps(t *testing.T) {
	tbl := &Table{
		Columns: []string{"date", "client_label", "v"},
		Rows: [][]any{
			{day(1), "a", 10.0},
			{day(2), "b", 20.0},
		},
	}

	frame, err := Pivot(tbl, "date", "client_label", "v")
	require.NoError(t, err)

	raw, err := json.Marshal(frame)
	require.NoError(t, err)

	var decoded struct {
		Index   []string     `json:"index"`
		Columns []string     `json:"columns"`
		Values  [][]*float64 `json:"values"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, []string{"2024-01-01", "2024-01-02"}, decoded.Index)
	assert.Equal(t, []string{"a", "b"}, decoded.Columns)
	require.Len(t, decoded.Values, 2)
	require.NotNil(t, decoded.Values[0][0])
	assert.Equal(t, 10.0, *decoded.Values[0][0])
	assert.Nil(t, decoded.Values[0][1])
	assert.Nil(t, decoded.Values[1][0])
	require.NotNil(t, decoded.Values[1][1])
	assert.Equal(t, 20.0, *decoded.Values[1][1])
}
