// Package logging provides structured logging for the BMaC node agent.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Mirroring of every record to remote sinks (MQTT log topic, InfluxDB)
//
// # Configuration
//
//	logging:
//	  level: "info"          # local stream: debug, info, warn, error
//	  format: "json"         # json, text
//	  output: "stdout"       # stdout, stderr
//	  mirror_level: "debug"  # remote sinks
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.AddSink(channel.LogSink())
//	logger.Info("claimed pin", "pin", 4)
//
// Sinks receive "message k=v ..." with the numeric level code
// (0 error, 1 warning, 2 info, 3 debug). Default fields are not mirrored.
package logging
