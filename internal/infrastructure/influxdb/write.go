package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTelemetry mirrors one telemetry measurement.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Called by the event mirror after the measurement has been committed
// to SQLite.
//
// Parameters:
//   - deviceID: The reporting device
//   - metric: The metric name (e.g. "temperature", "humidity")
//   - value: The measured value
//   - at: Device-reported measurement time
func (c *Client) WriteTelemetry(deviceID, metric string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"telemetry",
		map[string]string{
			"device_id": deviceID,
			"metric":    metric,
		},
		map[string]interface{}{
			"value": value,
		},
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WriteConnectionState mirrors a device connection-state change so fleet
// availability can be graphed over time.
//
// Parameters:
//   - deviceID: The device
//   - state: The new connection state ("online", "offline", "error")
func (c *Client) WriteConnectionState(deviceID, state string) {
	if !c.IsConnected() {
		return
	}

	online := 0.0
	if state == "online" {
		online = 1.0
	}

	point := write.NewPoint(
		"connection_state",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"state":  state,
			"online": online,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
