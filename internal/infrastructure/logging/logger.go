package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/bmac-node/internal/infrastructure/config"
)

// Logger wraps slog.Logger with BMaC-specific functionality.
//
// It provides structured logging with default fields, level-based filtering
// and an optional mirror that forwards every record to remote sinks.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
	sinks *sinkSet
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, text for development)
//   - Log level filtering for the local stream
//   - Default fields (service name, version)
//   - The mirror level used for remote sinks
//
// Parameters:
//   - cfg: Logging configuration from node.yaml
//   - version: Firmware version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use; sinks are added with AddSink
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter is New with an explicit output stream.
func NewWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "bmac-node"),
		slog.String("version", version),
	})

	mirrorLevel := slog.LevelDebug
	if cfg.MirrorLevel != "" {
		mirrorLevel = parseLevel(cfg.MirrorLevel)
	}

	sinks := &sinkSet{}
	return &Logger{
		Logger: slog.New(newMirrorHandler(handler, sinks, mirrorLevel)),
		sinks:  sinks,
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
// The child shares the parent's sinks.
//
// Example:
//
//	mqttLogger := logger.With("component", "mqtt")
//	mqttLogger.Info("connected") // Includes component=mqtt
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		sinks:  l.sinks,
	}
}

// AddSink registers a remote sink. Records emitted after the call, by this
// logger or any logger derived from it, are forwarded to the sink.
func (l *Logger) AddSink(s Sink) {
	if l.sinks != nil {
		l.sinks.add(s)
	}
}

// RemoveSink unregisters a sink previously passed to AddSink.
func (l *Logger) RemoveSink(s Sink) {
	if l.sinks != nil {
		l.sinks.remove(s)
	}
}

// Local returns a logger that writes only to the local stream.
//
// Components that sit underneath a sink (the MQTT client publishing the
// log topic, the InfluxDB writer) must log through Local to avoid feeding
// their own output back into the sink.
func (l *Logger) Local() *Logger {
	if m, ok := l.Handler().(*mirrorHandler); ok {
		return &Logger{Logger: slog.New(m.next)}
	}
	return &Logger{Logger: l.Logger}
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
