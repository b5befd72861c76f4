package models

import (
	"encoding/hex"
	"time"

	"github.com/gpufabric/gpu-stats-analytics/internal/aggregate"
	"github.com/gpufabric/gpu-stats-analytics/internal/db"
	"github.com/gpufabric/gpu-stats-analytics/internal/stats"
)

// Client is one selectable GPU client. ID is the hex encoding of the
// binary identifier; Label is what pickers display.
type Client struct {
	ID    string  `json:"id"`
	Name  *string `json:"name"`
	Label string  `json:"label"`
}

// Device is one selectable GPU device of a client.
type Device struct {
	ClientID    string  `json:"client_id"`
	DeviceIndex int64   `json:"device_index"`
	Name        *string `json:"name"`
	Label       string  `json:"label"`
}

// Table is the JSON shape of a flat statistics table. Cells are
// strings, numbers or nulls; dates render as YYYY-MM-DD and binary
// identifiers as hex.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Dashboard is the response of a full refresh.
type Dashboard struct {
	Clients []Client `json:"clients"`
	Devices []Device `json:"devices"`

	ClientStats Table `json:"client_stats"`
	DeviceStats Table `json:"device_stats"`

	ClientSeries map[string]*aggregate.TimeSeriesFrame `json:"client_series"`
	DeviceSeries map[string]*aggregate.TimeSeriesFrame `json:"device_series"`
}

func ClientFromRecord(rec db.ClientRecord) Client {
	var name string
	if rec.ClientName != nil {
		name = *rec.ClientName
	}
	return Client{
		ID:    hex.EncodeToString(rec.ClientID),
		Name:  rec.ClientName,
		Label: aggregate.ClientLabel(name, rec.ClientID),
	}
}

func DeviceFromRecord(rec db.DeviceRecord) Device {
	var name string
	if rec.DeviceName != nil {
		name = *rec.DeviceName
	}
	return Device{
		ClientID:    hex.EncodeToString(rec.ClientID),
		DeviceIndex: rec.DeviceIndex,
		Name:        rec.DeviceName,
		Label:       aggregate.DeviceLabel(name, rec.DeviceIndex, rec.ClientID),
	}
}

func TableFromAggregate(t *aggregate.Table) Table {
	out := Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]any, len(t.Rows)),
	}
	for i, row := range t.Rows {
		cells := make([]any, len(row))
		for j, cell := range row {
			cells[j] = jsonCell(cell)
		}
		out.Rows[i] = cells
	}
	return out
}

func DashboardFromResult(d *stats.Dashboard) Dashboard {
	out := Dashboard{
		Clients:      make([]Client, 0, len(d.Clients)),
		Devices:      make([]Device, 0, len(d.Devices)),
		ClientStats:  TableFromAggregate(d.ClientTable),
		DeviceStats:  TableFromAggregate(d.DeviceTable),
		ClientSeries: d.ClientSeries,
		DeviceSeries: d.DeviceSeries,
	}
	for _, rec := range d.Clients {
		out.Clients = append(out.Clients, ClientFromRecord(rec))
	}
	for _, rec := range d.Devices {
		out.Devices = append(out.Devices, DeviceFromRecord(rec))
	}
	return out
}

func jsonCell(v any) any {
	switch v := v.(type) {
	case time.Time:
		return v.Format("2006-01-02")
	case []byte:
		return hex.EncodeToString(v)
	default:
		return v
	}
}
