package db

import (
	"context"
	"fmt"
)

// Table names of the external usage statistics schema. The tables are
// written by the fleet collector; this service only reads them.
const (
	TableGPUAssets        = "gpu_assets"
	TableClientDailyStats = "client_daily_stats"
	TableDeviceDailyStats = "device_daily_stats"
)

const describeColumnsQuery = `SELECT column_name
FROM information_schema.columns
WHERE table_name = $1
ORDER BY ordinal_position`

// DescribeColumns returns the column names of a table in ordinal
// order. A missing table yields an empty slice, not an error.
func DescribeColumns(ctx context.Context, q Queryer, table string) ([]string, error) {
	rows, err := q.Query(ctx, describeColumnsQuery, table)
	if err != nil {
		return nil, SchemaError(err, table, "")
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, SchemaError(err, table, "")
		}
		name, ok := values[0].(string)
		if !ok {
			return nil, SchemaError(fmt.Errorf("unexpected column_name type %T", values[0]), table, "")
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, SchemaError(err, table, "")
	}
	return columns, nil
}

// SchemaSnapshot is the observed shape of the statistics tables,
// taken once per refresh so every query built for that refresh sees
// the same schema.
type SchemaSnapshot struct {
	columns map[string][]string
}

// NewSchemaSnapshot builds a snapshot from known table shapes, mainly
// for tests and callers that introspect out of band.
func NewSchemaSnapshot(columns map[string][]string) *SchemaSnapshot {
	copied := make(map[string][]string, len(columns))
	for table, cols := range columns {
		copied[table] = append([]string(nil), cols...)
	}
	return &SchemaSnapshot{columns: copied}
}

// TakeSchemaSnapshot introspects the given tables on one connection.
func TakeSchemaSnapshot(ctx context.Context, q Queryer, tables ...string) (*SchemaSnapshot, error) {
	snap := &SchemaSnapshot{columns: make(map[string][]string, len(tables))}
	for _, table := range tables {
		cols, err := DescribeColumns(ctx, q, table)
		if err != nil {
			return nil, err
		}
		snap.columns[table] = cols
	}
	return snap, nil
}

// Columns returns the introspected columns of table in ordinal order.
func (s *SchemaSnapshot) Columns(table string) []string {
	return append([]string(nil), s.columns[table]...)
}

// Has reports whether table carries column.
func (s *SchemaSnapshot) Has(table, column string) bool {
	for _, c := range s.columns[table] {
		if c == column {
			return true
		}
	}
	return false
}

// Require fails with a schema error when the table is absent or any
// of the named columns is missing. Optional columns are checked with
// Has instead and silently skipped by query builders.
func (s *SchemaSnapshot) Require(table string, columns ...string) error {
	if len(s.columns[table]) == 0 {
		return SchemaError(fmt.Errorf("table not found"), table, "")
	}
	for _, col := range columns {
		if !s.Has(table, col) {
			return SchemaError(fmt.Errorf("required column missing"), table, col)
		}
	}
	return nil
}
