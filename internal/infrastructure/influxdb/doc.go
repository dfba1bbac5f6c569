// Package influxdb provides InfluxDB connectivity for node telemetry.
//
// It wraps the official influxdb-client-go v2 library. The client is
// created offline and buffers points until the server is reachable.
//
// # Purpose
//
// The node writes two measurements:
//   - node_log: every mirrored log line (via LogSink)
//   - node_state: active module mask and running bank after each broker connect
//
// # Usage
//
//	client, err := influxdb.New(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	logger.AddSink(influxdb.NewLogSink(client, identity.Fingerprint))
//
// # Error Handling
//
// Writes are non-blocking; batch errors are delivered to the SetOnError
// callback. That callback must log locally only (logging.Logger.Local),
// otherwise a failing write would feed itself through the sink.
package influxdb
