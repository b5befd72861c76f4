package db

import "time"

// ClientRecord is one GPU client known to the fleet. ClientName is
// nil when the asset inventory has no name for it.
type ClientRecord struct {
	ClientID   []byte
	ClientName *string
}

// DeviceRecord is one GPU device of a client. DeviceName is nil when
// the stats table does not carry device names.
type DeviceRecord struct {
	ClientID    []byte
	DeviceIndex int64
	DeviceName  *string
	ClientName  *string
}

// DateRange bounds a statistics query, inclusive on both ends, at day
// granularity.
type DateRange struct {
	From time.Time
	To   time.Time
}

// LastDays returns the range covering the n days up to today.
func LastDays(n int, now time.Time) DateRange {
	day := now.UTC().Truncate(24 * time.Hour)
	return DateRange{From: day.AddDate(0, 0, -(n - 1)), To: day}
}

// StatsFilter narrows a statistics query. Zero-valued fields impose
// no constraint, so an unset filter is equivalent to no filter at
// all.
type StatsFilter struct {
	ClientID    []byte
	DeviceIndex *int64
}

// Order is the sort direction of the date column in built queries.
type Order string

const (
	OrderAsc  Order = "ASC"
	OrderDesc Order = "DESC"
)
