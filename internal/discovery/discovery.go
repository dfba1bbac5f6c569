// Package discovery locates the MQTT broker on the local network.
//
// A Discoverer sends one service query, waits a fixed window on the event
// loop and hands whatever responses arrived to its caller. Responses that
// arrive after the window are dropped. The first candidate wins.
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nerrad567/bmac-node/internal/eventloop"
)

// Endpoint is one service instance announced by a responder.
type Endpoint struct {
	Address  string
	Port     uint16
	Hostname string
	Service  string
}

// URL returns the paho broker URL for the endpoint.
func (e Endpoint) URL() string {
	return "tcp://" + net.JoinHostPort(e.Address, strconv.Itoa(int(e.Port)))
}

// Query is an in-flight discovery query.
type Query interface {
	// Responses returns the endpoints received so far, in arrival order.
	Responses() []Endpoint

	// Close releases the query's resources. Later responses are discarded.
	Close() error
}

// Transport sends discovery queries.
type Transport interface {
	SendQuery(port int, filter string) (Query, error)
}

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// Discoverer runs at most one discovery at a time. All methods must be
// called on the event loop.
type Discoverer struct {
	transport Transport
	sched     eventloop.Scheduler
	port      int
	filter    string
	logger    Logger

	query Query
	timer eventloop.Timer
	done  func([]Endpoint, error)
}

// New creates a Discoverer querying filter on the given UDP port.
func New(transport Transport, sched eventloop.Scheduler, port int, filter string) *Discoverer {
	return &Discoverer{
		transport: transport,
		sched:     sched,
		port:      port,
		filter:    filter,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for discovery progress.
func (d *Discoverer) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
}

// Discover sends a query and calls done on the loop once window has elapsed.
// done receives every candidate in arrival order, or ErrNoBrokerFound.
// A discovery already in progress is cancelled without calling its done.
func (d *Discoverer) Discover(window time.Duration, done func([]Endpoint, error)) {
	d.Cancel()

	q, err := d.transport.SendQuery(d.port, d.filter)
	if err != nil {
		done(nil, fmt.Errorf("%w: %w", ErrQueryFailed, err))
		return
	}

	d.logger.Debug("discovery query sent", "port", d.port, "filter", d.filter, "window", window)
	d.query = q
	d.done = done
	d.timer = d.sched.AfterFunc(window, func() { d.collect(q) })
}

// Running reports whether a collection window is open.
func (d *Discoverer) Running() bool {
	return d.query != nil
}

// Cancel stops the window timer and closes the query. The pending done
// callback is dropped.
func (d *Discoverer) Cancel() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.query != nil {
		d.query.Close() //nolint:errcheck // Nothing useful to do on close failure
		d.query = nil
	}
	d.done = nil
}

func (d *Discoverer) collect(q Query) {
	if d.query != q {
		return
	}
	done := d.done
	d.query, d.timer, d.done = nil, nil, nil
	defer q.Close() //nolint:errcheck // Nothing useful to do on close failure

	candidates := q.Responses()
	if len(candidates) == 0 {
		d.logger.Warn("no responses for broker query", "filter", d.filter)
		done(nil, ErrNoBrokerFound)
		return
	}

	d.logger.Info("broker found", "url", candidates[0].URL(), "candidates", len(candidates))
	done(candidates, nil)
}

// First applies the selection policy: the first candidate, unconditionally.
func First(candidates []Endpoint) (Endpoint, error) {
	if len(candidates) == 0 {
		return Endpoint{}, ErrNoBrokerFound
	}
	return candidates[0], nil
}
