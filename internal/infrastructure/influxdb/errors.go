package influxdb

import "errors"

var (
	// ErrDisabled is returned by New when telemetry is switched off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrMissingURL is returned by New when no server URL is configured.
	ErrMissingURL = errors.New("influxdb: server url is empty")

	// ErrUnreachable is returned by Ping when the server cannot be reached
	// or reports itself unhealthy.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrClosed is returned by Ping after Close.
	ErrClosed = errors.New("influxdb: client closed")
)
