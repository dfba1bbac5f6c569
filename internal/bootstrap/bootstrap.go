// Package bootstrap drives the node from power-on to a live broker session.
//
// The sequence is: associate with WiFi, derive the fingerprint and location,
// discover the broker, connect, attach the control channel and finally apply
// the persisted module mask. Module activation never happens before the
// broker connection is up. Every blocking step runs off the event loop and
// reports back through it; every retry is a fixed-delay timer.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/bmac-node/internal/control"
	"github.com/nerrad567/bmac-node/internal/discovery"
	"github.com/nerrad567/bmac-node/internal/eventloop"
	"github.com/nerrad567/bmac-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/bmac-node/internal/node"
	"github.com/nerrad567/bmac-node/internal/store"
)

// Station associates with the access point. Each Associate call reports
// onUp and/or onDown from any goroutine; see wifi.Station.
type Station interface {
	Associate(creds store.WiFiCredentials, onUp func(), onDown func(error))
	Stop()
}

// Discoverer finds broker candidates; see discovery.Discoverer.
type Discoverer interface {
	Discover(window time.Duration, done func([]discovery.Endpoint, error))
	Cancel()
}

// BrokerConn is a live broker session. *mqtt.Client satisfies it.
type BrokerConn interface {
	control.Transport
	SetOnDisconnect(callback func(err error))
	Close() error
}

// Dialer opens a broker session. It blocks and runs off the event loop.
type Dialer func(ctx context.Context, sess mqtt.Session) (BrokerConn, error)

// Channel is the control channel surface the bootstrap drives.
type Channel interface {
	Will() *mqtt.Will
	Attach(t control.Transport) error
	Detach()
}

// Modules applies the persisted module mask once connected.
type Modules interface {
	ApplyBitmask(mask uint32) uint32
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options are the bootstrap's tunables.
type Options struct {
	// Interface is the network interface whose MAC is the fingerprint.
	Interface string

	// DiscoveryEnabled selects discovery; otherwise StaticBroker is dialled.
	DiscoveryEnabled bool
	DiscoveryWindow  time.Duration
	StaticBroker     discovery.Endpoint

	// ReconnectDelay is the fixed wait before retrying association or the broker.
	ReconnectDelay time.Duration

	// ConnectTimeout bounds one dial.
	ConnectTimeout time.Duration
}

// Deps are the collaborators.
type Deps struct {
	Scheduler  eventloop.Scheduler
	Station    Station
	Discoverer Discoverer
	Dial       Dialer
	Channel    Channel
	Modules    Modules
	Store      store.Store
	Node       *node.Context

	// Fingerprint derives the node id after association. Defaults to node.Fingerprint.
	Fingerprint func(iface string) (string, error)
}

// Bootstrap is the connectivity state machine. All methods must be called
// on the event loop.
type Bootstrap struct {
	deps   Deps
	opts   Options
	logger Logger

	state State
	creds store.WiFiCredentials

	// attempt and connGen invalidate callbacks from abandoned attempts.
	attempt     int
	connGen     int
	dialCancel  context.CancelFunc
	conn        BrokerConn
	retry       eventloop.Timer
	onConnected []func()
}

// New creates a Bootstrap in the Disconnected state.
func New(deps Deps, opts Options) *Bootstrap {
	if deps.Fingerprint == nil {
		deps.Fingerprint = node.Fingerprint
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &Bootstrap{deps: deps, opts: opts, logger: noopLogger{}}
}

// SetLogger sets the logger for state transitions and failures.
func (b *Bootstrap) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

// OnConnected registers fn to run after each successful connect, once the
// module mask has been applied.
func (b *Bootstrap) OnConnected(fn func()) {
	b.onConnected = append(b.onConnected, fn)
}

// State returns the current state.
func (b *Bootstrap) State() State {
	return b.state
}

// Start loads the WiFi credentials and begins association.
func (b *Bootstrap) Start() error {
	creds, err := store.ReadWiFiCredentials(b.deps.Store)
	if err != nil {
		b.logger.Error("no usable WiFi credentials", "file", store.WiFiFile, "error", err)
		return fmt.Errorf("loading WiFi credentials: %w", err)
	}
	b.creds = creds
	b.associate()
	return nil
}

// Stop abandons every pending step and closes the broker session.
func (b *Bootstrap) Stop() {
	b.attempt++
	b.dropConnection()
	b.deps.Station.Stop()
	b.setState(StateDisconnected)
}

func (b *Bootstrap) setState(s State) {
	if b.state == s {
		return
	}
	b.logger.Debug("bootstrap state", "from", b.state.String(), "to", s.String())
	b.state = s
}

func (b *Bootstrap) associate() {
	b.retry = nil
	b.setState(StateAssociating)

	// Callbacks are registered afresh on every attempt.
	b.attempt++
	attempt := b.attempt
	b.deps.Station.Associate(b.creds,
		func() {
			b.deps.Scheduler.Post(func() {
				if attempt == b.attempt {
					b.onAssociated()
				}
			})
		},
		func(err error) {
			b.deps.Scheduler.Post(func() {
				if attempt == b.attempt {
					b.onAssociationLost(err)
				}
			})
		})
}

func (b *Bootstrap) onAssociated() {
	fp, err := b.deps.Fingerprint(b.opts.Interface)
	if err != nil {
		b.logger.Error("cannot derive fingerprint", "interface", b.opts.Interface, "error", err)
		return
	}
	b.deps.Node.SetFingerprint(fp)

	loc, err := store.ReadLocation(b.deps.Store)
	if err != nil || loc == "" {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			b.logger.Warn("reading location", "error", err)
		}
		loc = fp
	}
	b.deps.Node.SetLocation(loc)

	b.setState(StateAssociated)
	b.logger.Info("associated", "fingerprint", fp, "location", loc)
	b.discover()
}

func (b *Bootstrap) onAssociationLost(err error) {
	b.logger.Warn("WiFi association lost", "error", err)
	b.dropConnection()
	b.setState(StateAssociating)
	b.retry = b.deps.Scheduler.AfterFunc(b.opts.ReconnectDelay, b.associate)
}

func (b *Bootstrap) discover() {
	if !b.opts.DiscoveryEnabled {
		b.connect(b.opts.StaticBroker)
		return
	}
	b.setState(StateDiscovering)
	b.deps.Discoverer.Discover(b.opts.DiscoveryWindow, b.onDiscovered)
}

func (b *Bootstrap) onDiscovered(candidates []discovery.Endpoint, err error) {
	if b.state != StateDiscovering {
		return
	}
	ep, selErr := discovery.First(candidates)
	if err != nil || selErr != nil {
		if err == nil {
			err = selErr
		}
		// No broker: wait for an operator or the next boot.
		b.logger.Error("broker discovery failed", "error", err)
		b.setState(StateAssociated)
		return
	}
	b.connect(ep)
}

func (b *Bootstrap) connect(ep discovery.Endpoint) {
	b.deps.Discoverer.Cancel()
	b.setState(StateConnectingBroker)

	b.connGen++
	gen := b.connGen
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.ConnectTimeout)
	b.dialCancel = cancel

	sess := mqtt.Session{
		BrokerURL: ep.URL(),
		ClientID:  b.deps.Node.Fingerprint(),
		Will:      b.deps.Channel.Will(),
	}
	b.logger.Info("connecting to broker", "url", sess.BrokerURL)

	go func() {
		conn, err := b.deps.Dial(ctx, sess)
		cancel()
		b.deps.Scheduler.Post(func() { b.onDialed(gen, conn, err) })
	}()
}

func (b *Bootstrap) onDialed(gen int, conn BrokerConn, err error) {
	if gen != b.connGen || b.state != StateConnectingBroker {
		if conn != nil {
			conn.Close() //nolint:errcheck // Abandoned session
		}
		return
	}
	b.dialCancel = nil

	if err != nil {
		b.logger.Error("broker connection failed", "error", err, "retry_in", b.opts.ReconnectDelay)
		b.setState(StateAssociated)
		b.scheduleReconnect()
		return
	}

	conn.SetOnDisconnect(func(err error) {
		b.deps.Scheduler.Post(func() { b.onBrokerLost(conn, err) })
	})
	if err := b.deps.Channel.Attach(conn); err != nil {
		b.logger.Error("attaching control channel", "error", err)
		conn.Close() //nolint:errcheck // Already failing
		b.setState(StateAssociated)
		b.scheduleReconnect()
		return
	}

	b.conn = conn
	b.setState(StateConnected)
	b.logger.Info("connected to broker")

	b.applyPersistedModules()
	for _, fn := range b.onConnected {
		fn()
	}
}

func (b *Bootstrap) applyPersistedModules() {
	mask, err := store.ReadModuleMask(b.deps.Store)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return
	case err != nil:
		b.logger.Warn("ignoring stored module mask", "error", err)
		return
	}
	b.deps.Modules.ApplyBitmask(mask)
}

func (b *Bootstrap) onBrokerLost(conn BrokerConn, err error) {
	if conn != b.conn {
		return
	}
	b.logger.Warn("broker disconnected", "error", err, "retry_in", b.opts.ReconnectDelay)
	b.deps.Channel.Detach()
	conn.Close() //nolint:errcheck // Session already lost
	b.conn = nil
	b.setState(StateAssociated)
	b.scheduleReconnect()
}

func (b *Bootstrap) scheduleReconnect() {
	b.stopRetry()
	b.retry = b.deps.Scheduler.AfterFunc(b.opts.ReconnectDelay, func() {
		b.retry = nil
		if b.state == StateAssociated {
			b.discover()
		}
	})
}

func (b *Bootstrap) stopRetry() {
	if b.retry != nil {
		b.retry.Stop()
		b.retry = nil
	}
}

// dropConnection stops timers, discovery and any dial, and closes the session.
func (b *Bootstrap) dropConnection() {
	b.stopRetry()
	b.deps.Discoverer.Cancel()

	b.connGen++
	if b.dialCancel != nil {
		b.dialCancel()
		b.dialCancel = nil
	}
	if b.conn != nil {
		b.deps.Channel.Detach()
		b.conn.Close() //nolint:errcheck // Tearing down
		b.conn = nil
	}
}
