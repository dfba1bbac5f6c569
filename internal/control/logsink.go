package control

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/bmac-node/internal/infrastructure/logging"
)

// logQueueSize bounds the lines waiting for the publisher goroutine.
const logQueueSize = 256

// LogSink publishes mirrored log lines to the log/all topic as
// "<fingerprint>;<level> - <message>". Publishing is best-effort: while
// detached lines are dropped, publish errors are swallowed, and lines are
// dropped when the queue is full.
//
// Emit never waits for the broker. Lines are formatted on the caller's
// goroutine and published by a background goroutine started on first use.
type LogSink struct {
	topic       string
	qos         byte
	fingerprint func() string

	mu        sync.RWMutex
	transport Transport

	queue     chan logItem
	start     sync.Once
	running   atomic.Bool
	stop      chan struct{}
	stopped   atomic.Bool
	closeOnce sync.Once
	dropped   atomic.Uint64
}

type logItem struct {
	t       Transport
	payload []byte
	flushed chan struct{}
}

// NewLogSink creates a detached sink.
func NewLogSink(topic string, qos byte, fingerprint func() string) *LogSink {
	return &LogSink{
		topic:       topic,
		qos:         qos,
		fingerprint: fingerprint,
		queue:       make(chan logItem, logQueueSize),
		stop:        make(chan struct{}),
	}
}

// SetTransport attaches the sink to a connection, or detaches it with nil.
func (s *LogSink) SetTransport(t Transport) {
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
}

// Emit implements logging.Sink.
func (s *LogSink) Emit(level logging.Code, message string) {
	if s.stopped.Load() {
		return
	}
	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()
	if t == nil {
		return
	}

	s.start.Do(func() {
		s.running.Store(true)
		go s.run()
	})
	item := logItem{t: t, payload: []byte(FormatLogLine(s.fingerprint(), level, message))}
	select {
	case s.queue <- item:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many lines were discarded because the queue was full.
func (s *LogSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Flush waits until every line queued before the call has been handed to
// its transport. It returns at once if the publisher never started or the
// sink is closed.
func (s *LogSink) Flush() {
	if s.stopped.Load() || !s.running.Load() {
		return
	}

	done := make(chan struct{})
	select {
	case s.queue <- logItem{flushed: done}:
	case <-s.stop:
		return
	}
	select {
	case <-done:
	case <-s.stop:
	}
}

// Close stops the publisher. Lines still queued are discarded.
func (s *LogSink) Close() {
	s.closeOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stop)
	})
}

func (s *LogSink) run() {
	for {
		select {
		case <-s.stop:
			return
		case item := <-s.queue:
			if item.flushed != nil {
				close(item.flushed)
				continue
			}
			_ = item.t.Publish(s.topic, item.payload, s.qos, false)
		}
	}
}

// FormatLogLine renders one log/all payload.
func FormatLogLine(fingerprint string, level logging.Code, message string) string {
	return fingerprint + ";" + strconv.Itoa(int(level)) + " - " + message
}
