package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Queryer is the read surface of a checked out connection. *Conn
// satisfies it; tests satisfy it with canned rows.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// timedQuery runs a query and records its duration under the given
// operation label.
func timedQuery(ctx context.Context, q Queryer, operation, sql string, args ...any) (pgx.Rows, error) {
	start := time.Now()
	rows, err := q.Query(ctx, sql, args...)
	queryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, QueryError(err, sql, args)
	}
	return rows, nil
}

// normalizeValue maps driver-level values onto the small set of cell
// types the aggregation layer understands: nil, time.Time, []byte,
// string, int64, float64 and bool.
func normalizeValue(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case time.Time:
		return v
	case []byte:
		return append([]byte(nil), v...)
	case string, int64, float64, bool:
		return v
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float32:
		return float64(v)
	case pgtype.Numeric:
		f, err := v.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	default:
		return v
	}
}
