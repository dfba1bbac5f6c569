package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/bmac-node/internal/infrastructure/logging"
)

// Measurement names written by the node.
const (
	MeasurementLog   = "node_log"
	MeasurementState = "node_state"
)

// WriteLog records one mirrored log line.
//
// Parameters:
//   - fingerprint: Node identifier, stored as a tag
//   - level: Numeric level code (0 error .. 3 debug)
//   - message: Flattened message text
func (c *Client) WriteLog(fingerprint string, level logging.Code, message string) {
	c.WritePoint(MeasurementLog,
		map[string]string{
			"node":  fingerprint,
			"level": levelTag(level),
		},
		map[string]interface{}{
			"code":    int(level),
			"message": message,
		})
}

// WriteState records the node's module mask and running bank.
func (c *Client) WriteState(fingerprint, location string, activeMask uint32, bank int) {
	c.WritePoint(MeasurementState,
		map[string]string{
			"node":     fingerprint,
			"location": location,
		},
		map[string]interface{}{
			"active_mask": int64(activeMask),
			"bank":        bank,
		})
}

// WritePoint queues one point stamped with the current time.
// Points written after Close are dropped.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if c.closed.Load() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

func levelTag(level logging.Code) string {
	switch level {
	case logging.CodeError:
		return "error"
	case logging.CodeWarning:
		return "warning"
	case logging.CodeInfo:
		return "info"
	default:
		return "debug"
	}
}

// LogSink adapts a Client to logging.Sink.
type LogSink struct {
	client      *Client
	fingerprint func() string
}

// NewLogSink returns a sink tagging each line with fingerprint().
// The fingerprint is read per record because it is only known after association.
func NewLogSink(client *Client, fingerprint func() string) *LogSink {
	return &LogSink{client: client, fingerprint: fingerprint}
}

// Emit implements logging.Sink.
func (s *LogSink) Emit(level logging.Code, message string) {
	fp := ""
	if s.fingerprint != nil {
		fp = s.fingerprint()
	}
	s.client.WriteLog(fp, level, message)
}
