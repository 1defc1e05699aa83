package influxdb

import "errors"

// Domain errors for the influxdb package.
var (
	// ErrDisabled is returned by Connect when the mirror is disabled in
	// configuration. Callers treat this as "run without the mirror".
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the server cannot be reached
	// at connect time.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")
)
