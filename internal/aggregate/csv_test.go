package aggregate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV(t *testing.T) {
	tbl := &Table{
		Columns: []string{"date", "client_id", "client_name", "total_network_in_bytes"},
		Rows: [][]any{
			{day(1), []byte{0x11, 0x11}, "GPU-A", 2097152.0},
			{day(2), []byte{0x22, 0x22}, nil, nil},
		},
	}

	var b strings.Builder
	require.NoError(t, WriteCSV(&b, tbl))

	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "date,client_id,client_name,total_network_in_bytes", lines[0])
	// byte counters are exported as stored, without unit conversion,
	// and large values stay plain decimals
	assert.Equal(t, "2024-01-01,1111,GPU-A,2097152", lines[1])
	assert.Equal(t, "2024-01-02,2222,,", lines[2])
}

func TestWriteCSVEmptyTable(t *testing.T) {
	tbl := &Table{Columns: []string{"date", "avg_cpu_usage"}}

	var b strings.Builder
	require.NoError(t, WriteCSV(&b, tbl))

	assert.Equal(t, "date,avg_cpu_usage\n", b.String())
}

func TestCSVCellFormats(t *testing.T) {
	assert.Equal(t, "42", csvCell(int64(42)))
	assert.Equal(t, "1.5", csvCell(1.5))
	assert.Equal(t, "2097152", csvCell(2097152.0))
	assert.Equal(t, "true", csvCell(true))
	assert.Equal(t, "", csvCell(nil))
	assert.Equal(t, "2024-01-01", csvCell(day(1)))
	assert.Equal(t, "deadbeef", csvCell([]byte{0xde, 0xad, 0xbe, 0xef}))
}
