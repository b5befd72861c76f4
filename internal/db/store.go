package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/gpufabric/gpu-stats-analytics/internal/aggregate"
)

// Store reads the usage statistics schema. It holds no connection of
// its own; every call runs on the Queryer handed in, so one refresh
// can pin all of its reads to a single pooled connection.
type Store struct {
	logger *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger}
}

// ListClients returns the known clients from the asset inventory.
// When the inventory is empty it falls back to the distinct client
// identifiers that have reported daily stats, so a fleet without
// asset records is still selectable.
func (s *Store) ListClients(ctx context.Context, q Queryer) ([]ClientRecord, error) {
	query := BuildClientListQuery()
	table, err := s.queryTable(ctx, q, "list_clients", query)
	if err != nil {
		return nil, err
	}

	if table.Empty() {
		s.logger.Debug("asset inventory empty, listing clients from daily stats")
		query = BuildClientListFallbackQuery()
		table, err = s.queryTable(ctx, q, "list_clients_fallback", query)
		if err != nil {
			return nil, err
		}
	}

	idIdx := table.ColumnIndex("client_id")
	nameIdx := table.ColumnIndex("client_name")

	clients := make([]ClientRecord, 0, len(table.Rows))
	for _, row := range table.Rows {
		id, ok := row[idIdx].([]byte)
		if !ok {
			return nil, QueryError(fmt.Errorf("unexpected client_id value %v (%T)", row[idIdx], row[idIdx]), query.SQL, query.Args)
		}
		rec := ClientRecord{ClientID: id}
		if nameIdx >= 0 {
			rec.ClientName = optionalString(row[nameIdx])
		}
		clients = append(clients, rec)
	}
	return clients, nil
}

// ListDevices returns the distinct devices seen in the daily stats,
// optionally narrowed to one client.
func (s *Store) ListDevices(ctx context.Context, q Queryer, snap *SchemaSnapshot, filter StatsFilter) ([]DeviceRecord, error) {
	query, err := BuildDeviceListQuery(snap, filter)
	if err != nil {
		return nil, err
	}
	table, err := s.queryTable(ctx, q, "list_devices", query)
	if err != nil {
		return nil, err
	}

	idIdx := table.ColumnIndex("client_id")
	idxIdx := table.ColumnIndex("device_index")
	nameIdx := table.ColumnIndex("device_name")
	clientNameIdx := table.ColumnIndex("client_name")

	devices := make([]DeviceRecord, 0, len(table.Rows))
	for _, row := range table.Rows {
		id, ok := row[idIdx].([]byte)
		if !ok {
			return nil, QueryError(fmt.Errorf("unexpected client_id value %v (%T)", row[idIdx], row[idIdx]), query.SQL, query.Args)
		}
		index, ok := row[idxIdx].(int64)
		if !ok {
			return nil, QueryError(fmt.Errorf("unexpected device_index value %v (%T)", row[idxIdx], row[idxIdx]), query.SQL, query.Args)
		}
		rec := DeviceRecord{ClientID: id, DeviceIndex: index}
		if nameIdx >= 0 {
			rec.DeviceName = optionalString(row[nameIdx])
		}
		if clientNameIdx >= 0 {
			rec.ClientName = optionalString(row[clientNameIdx])
		}
		devices = append(devices, rec)
	}
	return devices, nil
}

// ClientStats returns the per-client daily statistics as a flat
// table, one row per (date, client).
func (s *Store) ClientStats(ctx context.Context, q Queryer, snap *SchemaSnapshot, dr DateRange, filter StatsFilter, order Order) (*aggregate.Table, error) {
	query, err := BuildClientStatsQuery(snap, dr, filter, order)
	if err != nil {
		return nil, err
	}
	return s.queryTable(ctx, q, "client_stats", query)
}

// DeviceStats returns the per-device daily statistics as a flat
// table, one row per (date, client, device).
func (s *Store) DeviceStats(ctx context.Context, q Queryer, snap *SchemaSnapshot, dr DateRange, filter StatsFilter, order Order) (*aggregate.Table, error) {
	query, err := BuildDeviceStatsQuery(snap, dr, filter, order)
	if err != nil {
		return nil, err
	}
	return s.queryTable(ctx, q, "device_stats", query)
}

func (s *Store) queryTable(ctx context.Context, q Queryer, operation string, query StatsQuery) (*aggregate.Table, error) {
	rows, err := timedQuery(ctx, q, operation, query.SQL, query.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table, err := scanTable(rows, query.Columns)
	if err != nil {
		return nil, QueryError(err, query.SQL, query.Args)
	}
	return table, nil
}

// scanTable drains rows into a table, normalizing driver values into
// the cell types the aggregation layer understands.
func scanTable(rows pgx.Rows, columns []string) (*aggregate.Table, error) {
	table := &aggregate.Table{Columns: append([]string(nil), columns...)}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		if len(values) != len(columns) {
			return nil, fmt.Errorf("got %d values for %d columns", len(values), len(columns))
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = normalizeValue(v)
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

func optionalString(v any) *string {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		return &v
	case []byte:
		s := string(v)
		return &s
	default:
		s := fmt.Sprintf("%v", v)
		return &s
	}
}
