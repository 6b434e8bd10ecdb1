package influxdb

import (
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// MeasurementReadings is the measurement mirrored readings are written to.
const MeasurementReadings = "temperature"

// WriteReading queues one reading as it left the decision engine.
//
// The point is tagged with the sensor id and the engine action and stamped
// with the observation time, so the bucket holds the raw series while the
// relational store holds the compacted one. Points written after Close are
// discarded.
func (c *Client) WriteReading(sensorID int, temperature float64, action string, observedAt time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(influxdb2.NewPointWithMeasurement(MeasurementReadings).
		AddTag("sensor_id", strconv.Itoa(sensorID)).
		AddTag("action", action).
		AddField("value", temperature).
		SetTime(observedAt))
}
