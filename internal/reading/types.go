package reading

import (
	"strconv"
	"time"
)

// Temperature units as stored.
const (
	UnitCelsius    = "C"
	UnitFahrenheit = "F"
)

// TemperatureReading is one persisted temperature sample.
//
// Rows are created by either a history import or a single realtime insert
// and are never updated or deleted afterwards.
type TemperatureReading struct {
	ID            int64   `json:"id"`
	UserID        int64   `json:"user_id"`
	DeviceAddress string  `json:"device_address"`
	DeviceName    *string `json:"device_name,omitempty"`
	Temperature   float64 `json:"temperature"`
	Unit          string  `json:"unit"`

	// Timestamp is epoch milliseconds. Realtime samples use the host
	// clock at insert time; history rows use the device-reported
	// calendar fields.
	Timestamp int64 `json:"timestamp"`

	// Realtime distinguishes polled live samples from history imports.
	Realtime bool `json:"realtime"`

	// DeviceError is the raw error string the device reported with the
	// sample, if any.
	DeviceError *string `json:"device_error,omitempty"`

	// RawState is the raw device status code reported with the sample.
	RawState *int64 `json:"raw_state,omitempty"`
}

// HistoryRecord is one device-resident record as decoded from a history
// transfer, before conversion to a TemperatureReading.
type HistoryRecord struct {
	Year   int
	Month  int // 1-12 as reported by the device
	Day    int
	Hour   int
	Minute int
	Second int

	// UnitCode is the device unit flag: 0 celsius, 1 fahrenheit.
	UnitCode int

	// Temperature is the value exactly as the device reported it.
	Temperature string
}

// Timestamp combines the record's calendar fields into epoch milliseconds
// using the local system time zone, with milliseconds zeroed.
func (h HistoryRecord) Timestamp() int64 {
	return time.Date(h.Year, time.Month(h.Month), h.Day, h.Hour, h.Minute, h.Second, 0, time.Local).UnixMilli()
}

// Unit maps the device unit code to a stored unit string.
func (h HistoryRecord) Unit() string {
	if h.UnitCode == 1 {
		return UnitFahrenheit
	}
	return UnitCelsius
}

// Value parses the reported temperature. Unparsable values become 0,
// matching how the import has always treated malformed device records.
func (h HistoryRecord) Value() float64 {
	v, err := strconv.ParseFloat(h.Temperature, 64)
	if err != nil {
		return 0
	}
	return v
}
