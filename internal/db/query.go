package db

import (
	"fmt"
	"strings"
)

// StatsQuery is a parameterized statement together with the column
// names its result set carries, in select-list order. Filter values
// are always bound parameters, never spliced into the text.
type StatsQuery struct {
	SQL     string
	Args    []any
	Columns []string
}

// Metric columns the dashboard knows how to chart. Any of them may be
// absent from the live schema; builders select only what the snapshot
// reports.
var (
	ClientMetricColumns = []string{
		"total_heartbeats",
		"avg_cpu_usage",
		"avg_memory_usage",
		"avg_disk_usage",
		"total_network_in_bytes",
		"total_network_out_bytes",
	}

	DeviceMetricColumns = []string{
		"avg_utilization",
		"avg_temperature",
		"avg_power_usage",
		"avg_memory_usage",
	}
)

// BuildClientStatsQuery builds the per-client daily statistics query
// for the given range and filter. The asset table is left-joined so
// clients without an inventory row still appear, with a null name.
func BuildClientStatsQuery(snap *SchemaSnapshot, dr DateRange, filter StatsFilter, order Order) (StatsQuery, error) {
	if err := snap.Require(TableClientDailyStats, "date", "client_id"); err != nil {
		return StatsQuery{}, err
	}

	sel := []string{"c.date", "c.client_id", "g.client_name"}
	columns := []string{"date", "client_id", "client_name"}
	for _, m := range ClientMetricColumns {
		if snap.Has(TableClientDailyStats, m) {
			sel = append(sel, "c."+m)
			columns = append(columns, m)
		}
	}

	var b strings.Builder
	args := []any{dr.From, dr.To}
	fmt.Fprintf(&b, `SELECT %s
FROM client_daily_stats c
LEFT JOIN gpu_assets g ON c.client_id = g.client_id
WHERE c.date >= $1 AND c.date <= $2`, strings.Join(sel, ", "))

	if len(filter.ClientID) > 0 {
		args = append(args, filter.ClientID)
		fmt.Fprintf(&b, " AND c.client_id = $%d", len(args))
	}

	fmt.Fprintf(&b, "\nORDER BY c.date %s, c.client_id", orderKeyword(order))

	return StatsQuery{SQL: b.String(), Args: args, Columns: columns}, nil
}

// BuildDeviceStatsQuery builds the per-device daily statistics query.
// device_name is selected only when present in the snapshot, so a
// fleet running an older collector degrades to nameless devices
// instead of failing.
func BuildDeviceStatsQuery(snap *SchemaSnapshot, dr DateRange, filter StatsFilter, order Order) (StatsQuery, error) {
	if err := snap.Require(TableDeviceDailyStats, "date", "client_id", "device_index"); err != nil {
		return StatsQuery{}, err
	}

	sel := []string{"d.date", "d.client_id", "d.device_index", "g.client_name"}
	columns := []string{"date", "client_id", "device_index", "client_name"}
	if snap.Has(TableDeviceDailyStats, "device_name") {
		sel = append(sel, "d.device_name")
		columns = append(columns, "device_name")
	}
	for _, m := range DeviceMetricColumns {
		if snap.Has(TableDeviceDailyStats, m) {
			sel = append(sel, "d."+m)
			columns = append(columns, m)
		}
	}

	var b strings.Builder
	args := []any{dr.From, dr.To}
	fmt.Fprintf(&b, `SELECT %s
FROM device_daily_stats d
LEFT JOIN gpu_assets g ON d.client_id = g.client_id
WHERE d.date >= $1 AND d.date <= $2`, strings.Join(sel, ", "))

	if len(filter.ClientID) > 0 {
		args = append(args, filter.ClientID)
		fmt.Fprintf(&b, " AND d.client_id = $%d", len(args))
	}
	if filter.DeviceIndex != nil {
		args = append(args, *filter.DeviceIndex)
		fmt.Fprintf(&b, " AND d.device_index = $%d", len(args))
	}

	fmt.Fprintf(&b, "\nORDER BY d.date %s, d.client_id, d.device_index", orderKeyword(order))

	return StatsQuery{SQL: b.String(), Args: args, Columns: columns}, nil
}

// BuildClientListQuery lists known clients from the asset inventory.
func BuildClientListQuery() StatsQuery {
	return StatsQuery{
		SQL: `SELECT client_id, client_name
FROM gpu_assets
ORDER BY client_name NULLS LAST, client_id`,
		Columns: []string{"client_id", "client_name"},
	}
}

// BuildClientListFallbackQuery lists clients that reported stats but
// have no asset row, used when the inventory is empty.
func BuildClientListFallbackQuery() StatsQuery {
	return StatsQuery{
		SQL: `SELECT DISTINCT client_id
FROM client_daily_stats
ORDER BY client_id`,
		Columns: []string{"client_id"},
	}
}

// BuildDeviceListQuery lists distinct devices, optionally narrowed to
// one client.
func BuildDeviceListQuery(snap *SchemaSnapshot, filter StatsFilter) (StatsQuery, error) {
	if err := snap.Require(TableDeviceDailyStats, "client_id", "device_index"); err != nil {
		return StatsQuery{}, err
	}

	sel := []string{"d.client_id", "d.device_index", "g.client_name"}
	columns := []string{"client_id", "device_index", "client_name"}
	if snap.Has(TableDeviceDailyStats, "device_name") {
		sel = append(sel, "max(d.device_name) AS device_name")
		columns = append(columns, "device_name")
	}

	var b strings.Builder
	var args []any
	fmt.Fprintf(&b, `SELECT %s
FROM device_daily_stats d
LEFT JOIN gpu_assets g ON d.client_id = g.client_id`, strings.Join(sel, ", "))

	if len(filter.ClientID) > 0 {
		args = append(args, filter.ClientID)
		fmt.Fprintf(&b, "\nWHERE d.client_id = $%d", len(args))
	}

	b.WriteString("\nGROUP BY d.client_id, d.device_index, g.client_name")
	b.WriteString("\nORDER BY d.client_id, d.device_index")

	return StatsQuery{SQL: b.String(), Args: args, Columns: columns}, nil
}

func orderKeyword(o Order) string {
	if o == OrderDesc {
		return "DESC"
	}
	return "ASC"
}
