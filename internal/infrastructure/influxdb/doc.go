// Package influxdb provides InfluxDB connectivity for Column Relay.
//
// It wraps the official influxdb-client-go v2 library with Column Relay-specific
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package backs the optional telemetry recorder: numeric readings
// extracted from device frames and presence transitions are written here
// so runs can be charted and reviewed after the fact. The relay itself
// never depends on InfluxDB.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "columnrelay",
//	    Bucket: "telemetry",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Record a column reading
//	client.WriteDeviceMetric("esp-column-01", "boiler_temp_c", 78.4)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead for high-frequency telemetry data.
package influxdb
