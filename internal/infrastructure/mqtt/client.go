package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/bmac-node/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for a single broker session.
//
// A Client is created per connection attempt. paho's own reconnect logic is
// disabled: when the session drops, the disconnect callback fires once and the
// owner decides when to dial again (fixed delay, fresh discovery).
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// subscriptions tracks active subscriptions on this session.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked by the paho library on its router goroutine, in
// arrival order. They should hand the message off rather than block.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// Will is the Last Will and Testament registered with the broker.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Session identifies one connection attempt.
type Session struct {
	// BrokerURL is the full broker URL, e.g. "tcp://10.0.0.5:1883".
	BrokerURL string

	// ClientID is the MQTT client identifier (the node fingerprint).
	ClientID string

	// Will is optional.
	Will *Will
}

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (auth, TLS) and the session (URL, client ID)
//  2. Configures Last Will and Testament when provided
//  3. Attempts the connection, bounded by ctx and the connect timeout
//
// Parameters:
//   - ctx: Cancels the wait for the connection to complete
//   - cfg: MQTT configuration from node.yaml
//   - sess: Broker URL, client ID and will for this attempt
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed (wrapped) if the connection could not be made
func Connect(ctx context.Context, cfg config.MQTTConfig, sess Session) (*Client, error) {
	if sess.BrokerURL == "" {
		return nil, fmt.Errorf("%w: broker URL is empty", ErrConnectionFailed)
	}

	opts := buildClientOptions(cfg, sess)
	if sess.Will != nil {
		configureLWT(opts, *sess.Will)
	}

	c := &Client{
		cfg:           cfg,
		options:       opts,
		subscriptions: make(map[string]subscription),
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if !wasConnected {
		return
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Close disconnects from the MQTT broker.
//
// A deliberate disconnect does not trigger the broker's last will and does not
// invoke the disconnect callback.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnDisconnect sets a callback to be invoked when the connection is lost.
// It fires at most once per Client.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
//
// The logger must not mirror to the log topic through this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
