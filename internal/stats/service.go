// Package stats orchestrates one dashboard refresh: schema snapshot,
// statistics queries, aggregation and pivoting, all on a single
// pooled connection.
package stats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/gpufabric/gpu-stats-analytics/internal/aggregate"
	"github.com/gpufabric/gpu-stats-analytics/internal/db"
)

// ErrRefreshInProgress is returned when a refresh is requested while
// another one is still running. Refreshes never queue up; the caller
// is expected to retry after the running one finishes.
var ErrRefreshInProgress = errors.New("refresh already in progress")

const (
	stateIdle int32 = iota
	stateRefreshing
)

// RefreshParams selects what one refresh covers. Zero-valued filter
// fields impose no constraint.
type RefreshParams struct {
	Range       db.DateRange
	ClientID    []byte
	DeviceIndex *int64
}

func (p RefreshParams) filter() db.StatsFilter {
	return db.StatsFilter{ClientID: p.ClientID, DeviceIndex: p.DeviceIndex}
}

// Dashboard is the complete result of one refresh. Tables keep the
// raw per-day rows in query order; series are grouped, converted and
// pivoted per metric. Table rows are ordered newest first for
// display; charts sort their own index.
type Dashboard struct {
	Clients []db.ClientRecord
	Devices []db.DeviceRecord

	ClientTable *aggregate.Table
	DeviceTable *aggregate.Table

	ClientSeries map[string]*aggregate.TimeSeriesFrame
	DeviceSeries map[string]*aggregate.TimeSeriesFrame
}

type Service struct {
	pool   *db.Pool
	store  *db.Store
	logger *slog.Logger
	state  atomic.Int32
}

func NewService(pool *db.Pool, store *db.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, store: store, logger: logger}
}

// Refresh runs one full dashboard refresh. Only one refresh runs at a
// time; overlapping calls fail fast with ErrRefreshInProgress. All
// reads of the refresh happen on one connection, so the schema
// snapshot taken first is consistent with every query built from it.
func (s *Service) Refresh(ctx context.Context, params RefreshParams) (*Dashboard, error) {
	if !s.state.CompareAndSwap(stateIdle, stateRefreshing) {
		return nil, ErrRefreshInProgress
	}
	defer s.state.Store(stateIdle)

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(ctx, conn)

	snap, err := db.TakeSchemaSnapshot(ctx, conn, db.TableClientDailyStats, db.TableDeviceDailyStats)
	if err != nil {
		return nil, err
	}

	dash := &Dashboard{
		ClientSeries: make(map[string]*aggregate.TimeSeriesFrame),
		DeviceSeries: make(map[string]*aggregate.TimeSeriesFrame),
	}

	dash.Clients, err = s.store.ListClients(ctx, conn)
	if err != nil {
		return nil, err
	}
	dash.Devices, err = s.store.ListDevices(ctx, conn, snap, db.StatsFilter{ClientID: params.ClientID})
	if err != nil {
		return nil, err
	}

	clientTable, err := s.store.ClientStats(ctx, conn, snap, params.Range, params.filter(), db.OrderAsc)
	if err != nil {
		return nil, err
	}
	if err := aggregate.AppendClientLabels(clientTable); err != nil {
		return nil, err
	}
	dash.ClientTable = sortedForDisplay(clientTable)

	dash.ClientSeries, err = buildSeries(clientTable, aggregate.ClientLabelColumn, presentColumns(snap, db.TableClientDailyStats, db.ClientMetricColumns))
	if err != nil {
		return nil, err
	}

	deviceTable, err := s.store.DeviceStats(ctx, conn, snap, params.Range, params.filter(), db.OrderAsc)
	if err != nil {
		return nil, err
	}
	if err := aggregate.AppendDeviceLabels(deviceTable); err != nil {
		return nil, err
	}
	dash.DeviceTable = sortedForDisplay(deviceTable)

	dash.DeviceSeries, err = buildSeries(deviceTable, aggregate.DeviceLabelColumn, presentColumns(snap, db.TableDeviceDailyStats, db.DeviceMetricColumns))
	if err != nil {
		return nil, err
	}

	s.logger.Info("dashboard refresh complete",
		"clients", len(dash.Clients),
		"devices", len(dash.Devices),
		"client_rows", len(dash.ClientTable.Rows),
		"device_rows", len(dash.DeviceTable.Rows),
	)
	return dash, nil
}

// buildSeries groups a labeled stats table by date and entity, then
// pivots one frame per metric. Byte counter metrics are converted to
// megabytes for charting; the source table stays in bytes.
func buildSeries(table *aggregate.Table, labelColumn string, metrics []string) (map[string]*aggregate.TimeSeriesFrame, error) {
	series := make(map[string]*aggregate.TimeSeriesFrame, len(metrics))
	if len(metrics) == 0 || table.Empty() {
		return series, nil
	}

	grouped, err := aggregate.GroupAndAverage(table, []string{"date", labelColumn}, metrics)
	if err != nil {
		return nil, err
	}

	for _, metric := range metrics {
		source := grouped
		name := metric
		if isByteCounter(metric) {
			source, err = aggregate.BytesToMegabytes(grouped, metric)
			if err != nil {
				return nil, err
			}
			name = aggregate.MegabyteColumnName(metric)
		}
		frame, err := aggregate.Pivot(source, "date", labelColumn, name)
		if err != nil {
			return nil, err
		}
		series[name] = frame
	}
	return series, nil
}

// Clients lists selectable clients on a connection of its own, for
// populating pickers without running a full refresh.
func (s *Service) Clients(ctx context.Context) ([]db.ClientRecord, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(ctx, conn)

	return s.store.ListClients(ctx, conn)
}

// Devices lists selectable devices, optionally narrowed to a client.
func (s *Service) Devices(ctx context.Context, clientID []byte) ([]db.DeviceRecord, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(ctx, conn)

	snap, err := db.TakeSchemaSnapshot(ctx, conn, db.TableDeviceDailyStats)
	if err != nil {
		return nil, err
	}
	return s.store.ListDevices(ctx, conn, snap, db.StatsFilter{ClientID: clientID})
}

// ExportClients streams the raw per-client rows as CSV. Exports run
// on their own connection and are not serialized with refreshes.
// Values are written as stored; byte counters keep byte units.
func (s *Service) ExportClients(ctx context.Context, params RefreshParams, w io.Writer) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(ctx, conn)

	snap, err := db.TakeSchemaSnapshot(ctx, conn, db.TableClientDailyStats)
	if err != nil {
		return err
	}
	table, err := s.store.ClientStats(ctx, conn, snap, params.Range, params.filter(), db.OrderAsc)
	if err != nil {
		return err
	}
	return aggregate.WriteCSV(w, table)
}

// ExportDevices streams the raw per-device rows as CSV.
func (s *Service) ExportDevices(ctx context.Context, params RefreshParams, w io.Writer) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(ctx, conn)

	snap, err := db.TakeSchemaSnapshot(ctx, conn, db.TableDeviceDailyStats)
	if err != nil {
		return err
	}
	table, err := s.store.DeviceStats(ctx, conn, snap, params.Range, params.filter(), db.OrderAsc)
	if err != nil {
		return err
	}
	return aggregate.WriteCSV(w, table)
}

func presentColumns(snap *db.SchemaSnapshot, table string, candidates []string) []string {
	var out []string
	for _, c := range candidates {
		if snap.Has(table, c) {
			out = append(out, c)
		}
	}
	return out
}

func isByteCounter(column string) bool {
	return len(column) > len(aggregate.BytesSuffix) &&
		column[len(column)-len(aggregate.BytesSuffix):] == aggregate.BytesSuffix
}

// sortedForDisplay reverses the ascending query order so table views
// show the most recent day first.
func sortedForDisplay(t *aggregate.Table) *aggregate.Table {
	out := t.Clone()
	for i, j := 0, len(out.Rows)-1; i < j; i, j = i+1, j-1 {
		out.Rows[i], out.Rows[j] = out.Rows[j], out.Rows[i]
	}
	return out
}
