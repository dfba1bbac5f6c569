// Package control implements the node's MQTT command-and-control channel.
//
// The Channel owns the static subscriptions (upgrade, presence, the
// per-node command topic and the OTA URL announcement), parses commands of
// the form "<command>;<payload>" and routes any other topic through a
// dynamic handler registry. Inbound messages arrive on the MQTT client's
// goroutine and are posted onto the event loop; everything else runs there.
package control

import (
	"fmt"

	"github.com/nerrad567/bmac-node/internal/eventloop"
	"github.com/nerrad567/bmac-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/bmac-node/internal/node"
	"github.com/nerrad567/bmac-node/internal/store"
)

// Transport is the MQTT surface the channel needs. *mqtt.Client satisfies it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Modules is the module manager surface used by the mod and mod_active commands.
type Modules interface {
	ApplyBitmask(mask uint32) uint32
	ActiveMask() uint32
}

// Updater starts an OTA update.
type Updater interface {
	Trigger()
}

// System restarts the node.
type System interface {
	Restart(reason string) error
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

// Deps are the collaborators a Channel drives.
type Deps struct {
	Scheduler eventloop.Scheduler
	Node      *node.Context
	Store     store.Store
	Modules   Modules
	Updater   Updater
	System    System

	// LogSink, when set, is attached and detached with the channel.
	LogSink *LogSink
}

// Channel is the command-and-control endpoint. All methods except the
// transport callbacks must be called on the event loop.
type Channel struct {
	deps     Deps
	topics   mqtt.Topics
	qos      byte
	logger   Logger
	registry Registry

	transport Transport
}

// New creates a detached Channel.
func New(deps Deps, topics mqtt.Topics, qos byte) *Channel {
	return &Channel{
		deps:   deps,
		topics: topics,
		qos:    qos,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger. Debug lines carry the inbound message mirror.
func (c *Channel) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// Will returns the last will registered with the broker on connect.
func (c *Channel) Will() *mqtt.Will {
	return &mqtt.Will{
		Topic:    c.topics.LastWill(),
		Payload:  []byte(c.deps.Node.Fingerprint() + ";connection lost"),
		QoS:      1,
		Retained: true,
	}
}

// Attached reports whether the channel has a live transport.
func (c *Channel) Attached() bool {
	return c.transport != nil
}

// Attach subscribes the static and registered topics on t, attaches the
// log sink and announces the node on cc/config.
func (c *Channel) Attach(t Transport) error {
	for _, topic := range c.staticTopics() {
		if err := t.Subscribe(topic, c.qos, c.inbound); err != nil {
			return fmt.Errorf("subscribing %s: %w", topic, err)
		}
	}
	for _, topic := range c.registry.Topics() {
		if err := t.Subscribe(topic, c.qos, c.inbound); err != nil {
			return fmt.Errorf("subscribing %s: %w", topic, err)
		}
	}

	c.transport = t
	if c.deps.LogSink != nil {
		c.deps.LogSink.SetTransport(t)
	}

	fp := c.deps.Node.Fingerprint()
	if err := t.Publish(c.topics.Config(), []byte(fp), c.qos, false); err != nil {
		c.logger.Warn("presence announcement failed", "error", err)
	}
	c.logger.Info("control channel attached", "fingerprint", fp, "registered", c.registry.Len())
	return nil
}

// Detach drops the transport. Registered topics are kept for the next Attach.
func (c *Channel) Detach() {
	if c.deps.LogSink != nil {
		c.deps.LogSink.SetTransport(nil)
	}
	c.transport = nil
}

// RegisterTopic routes topic (an exact topic or an MQTT filter) to h,
// subscribing it on the live connection. Registering a topic again replaces
// its handler.
func (c *Channel) RegisterTopic(topic string, h Handler) error {
	if topic == "" || h == nil || c.isStatic(topic) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	isNew := c.registry.Set(topic, h)
	if !isNew || c.transport == nil {
		return nil
	}
	if err := c.transport.Subscribe(topic, c.qos, c.inbound); err != nil {
		return fmt.Errorf("subscribing %s: %w", topic, err)
	}
	return nil
}

// DeregisterTopic removes topic from the registry and unsubscribes it.
func (c *Channel) DeregisterTopic(topic string) error {
	if !c.registry.Remove(topic) || c.transport == nil {
		return nil
	}
	if err := c.transport.Unsubscribe(topic); err != nil {
		return fmt.Errorf("unsubscribing %s: %w", topic, err)
	}
	return nil
}

// Publish sends payload on topic through the live connection.
func (c *Channel) Publish(topic string, payload []byte) error {
	if c.transport == nil {
		return ErrNotAttached
	}
	return c.transport.Publish(topic, payload, c.qos, false)
}

func (c *Channel) staticTopics() []string {
	return []string{
		c.topics.Upgrade(),
		c.topics.PresenceTell(),
		c.topics.PresencePing(),
		c.topics.PresenceRestartFilter(),
		c.topics.Command(c.deps.Node.Fingerprint()),
		c.topics.OTAURL(),
	}
}

func (c *Channel) isStatic(topic string) bool {
	for _, s := range c.staticTopics() {
		if s == topic {
			return true
		}
	}
	return false
}

// inbound runs on the MQTT client goroutine.
func (c *Channel) inbound(topic string, payload []byte) error {
	body := append([]byte(nil), payload...)
	c.deps.Scheduler.Post(func() { c.dispatch(topic, body) })
	return nil
}

func (c *Channel) dispatch(topic string, payload []byte) {
	c.logger.Debug(topic + " - " + string(payload))

	fp := c.deps.Node.Fingerprint()
	switch topic {
	case c.topics.Upgrade():
		if string(payload) == fp {
			c.deps.Updater.Trigger()
		}
	case c.topics.PresenceTell():
		c.reply(c.topics.PresenceResponse(), []byte(fp))
	case c.topics.PresencePing():
		c.reply(c.topics.PresencePong(), []byte(fp))
	case c.topics.PresenceRestart():
		if string(payload) == fp {
			c.restart(topic)
		}
	case c.topics.PresenceRestartAll():
		c.restart(topic)
	case c.topics.OTAURL():
		c.deps.Node.SetOTABaseURL(string(payload))
		c.logger.Info("OTA base URL updated", "url", string(payload))
	case c.topics.Command(fp):
		c.handleCommand(payload)
	default:
		if h, ok := c.registry.Lookup(topic); ok {
			h(topic, payload)
			return
		}
		c.logger.Debug("no handler for topic", "topic", topic)
	}
}

func (c *Channel) reply(topic string, payload []byte) {
	if err := c.Publish(topic, payload); err != nil {
		c.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}

func (c *Channel) restart(topic string) {
	c.logger.Warn("restart requested", "topic", topic)
	if err := c.deps.System.Restart("restart requested on " + topic); err != nil {
		c.logger.Error("restart failed", "error", err)
	}
}
