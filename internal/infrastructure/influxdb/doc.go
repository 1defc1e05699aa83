// Package influxdb provides the optional time-series mirror for
// telemetry data.
//
// SQLite remains the source of truth; this mirror exists for dashboards
// and retention-friendly downsampling. Writes are batched, non-blocking
// and best-effort: when the mirror is disabled or unreachable the rest
// of the system is unaffected.
package influxdb
