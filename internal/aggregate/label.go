package aggregate

import (
	"encoding/hex"
	"fmt"
)

// Column names of the derived entity label columns.
const (
	ClientLabelColumn = "client_label"
	DeviceLabelColumn = "device_label"
)

const shortHexLen = 8

// shortHex renders the leading bytes of an identifier as hex with a
// trailing ellipsis, so two clients sharing a display name still get
// distinct labels.
func shortHex(id []byte) string {
	s := hex.EncodeToString(id)
	if len(s) > shortHexLen {
		s = s[:shortHexLen]
	}
	return s + "..."
}

// ClientLabel renders the display label of a client. The truncated
// identifier is always included, name or not.
func ClientLabel(name string, id []byte) string {
	if name == "" {
		return fmt.Sprintf("Client %s", shortHex(id))
	}
	return fmt.Sprintf("%s (%s)", name, shortHex(id))
}

// DeviceLabel renders the display label of one device of a client.
func DeviceLabel(name string, index int64, clientID []byte) string {
	if name == "" {
		return fmt.Sprintf("Device %d (%s)", index, shortHex(clientID))
	}
	return fmt.Sprintf("%s (device %d, %s)", name, index, shortHex(clientID))
}

// AppendClientLabels derives the client_label column from client_name
// and client_id.
func AppendClientLabels(t *Table) error {
	idIdx := t.ColumnIndex("client_id")
	if idIdx < 0 {
		return &DataAggregationError{Column: "client_id", RowKey: "all", Err: fmt.Errorf("column not present")}
	}
	nameIdx := t.ColumnIndex("client_name")

	labels := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		id, err := cellBytes(row[idIdx], "client_id", i)
		if err != nil {
			return err
		}
		var name string
		if nameIdx >= 0 {
			name = cellString(row[nameIdx])
		}
		labels[i] = ClientLabel(name, id)
	}
	return t.AppendColumn(ClientLabelColumn, labels)
}

// AppendDeviceLabels derives the device_label column from
// device_name, device_index and client_id.
func AppendDeviceLabels(t *Table) error {
	idIdx := t.ColumnIndex("client_id")
	idxIdx := t.ColumnIndex("device_index")
	if idIdx < 0 || idxIdx < 0 {
		return &DataAggregationError{Column: "device_index", RowKey: "all", Err: fmt.Errorf("column not present")}
	}
	nameIdx := t.ColumnIndex("device_name")

	labels := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		id, err := cellBytes(row[idIdx], "client_id", i)
		if err != nil {
			return err
		}
		index, ok := cellInt(row[idxIdx])
		if !ok {
			return &DataAggregationError{
				Column: "device_index",
				RowKey: fmt.Sprintf("row %d", i),
				Err:    fmt.Errorf("unexpected value %v", row[idxIdx]),
			}
		}
		var name string
		if nameIdx >= 0 {
			name = cellString(row[nameIdx])
		}
		labels[i] = DeviceLabel(name, index, id)
	}
	return t.AppendColumn(DeviceLabelColumn, labels)
}

func cellBytes(v any, column string, row int) ([]byte, error) {
	switch v := v.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, &DataAggregationError{
			Column: column,
			RowKey: fmt.Sprintf("row %d", row),
			Err:    fmt.Errorf("unexpected value %v", v),
		}
	}
}

func cellString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func cellInt(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
