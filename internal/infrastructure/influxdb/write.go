package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/takniatech/htd-core/internal/reading"
)

// ReadingStored writes one persisted temperature reading as a point in
// the temperature measurement. It implements reading.Sink; the write is
// non-blocking and failures arrive through the error callback, so a
// broken mirror never fails the persistence path.
func (c *Client) ReadingStored(r reading.TemperatureReading) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"user_id":        strconv.FormatInt(r.UserID, 10),
		"device_address": r.DeviceAddress,
		"realtime":       strconv.FormatBool(r.Realtime),
		"unit":           r.Unit,
	}
	fields := map[string]interface{}{
		"temperature": r.Temperature,
	}
	if r.DeviceError != nil {
		fields["device_error"] = *r.DeviceError
	}
	if r.RawState != nil {
		fields["raw_state"] = *r.RawState
	}

	point := write.NewPoint("temperature", tags, fields, time.UnixMilli(r.Timestamp))
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point for measurements outside the reading
// mirror. Tags should stay low cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
