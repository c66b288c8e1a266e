package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceMetric writes a single device measurement to InfluxDB.
//
// This is the primary method for recording column telemetry data.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the controller (e.g., "esp-column-01")
//   - measurement: The metric name (e.g., "boiler_temp_c", "reflux_ratio")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteDeviceMetric("esp-column-01", "boiler_temp_c", 78.4)
//	client.WriteDeviceMetric("esp-column-01", "head_temp_c", 64.2)
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_metrics",
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePresenceTransition records a device coming online or going offline.
//
// Presence is stored as a boolean field so dashboards can chart uptime
// and alert on prolonged gaps.
func (c *Client) WritePresenceTransition(deviceID string, online bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_presence",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"online": online,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("relay_stats",
//	    map[string]string{"host": "relay-01"},
//	    map[string]interface{}{"devices_online": 4, "queued_commands": 12})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
