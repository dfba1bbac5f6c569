package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Largest payload the node will send. Firmware images never travel over MQTT,
// so anything near this is a bug.
const maxPayloadSize = 1 << 20

// Publish sends payload on topic and waits for the broker acknowledgment
// (QoS 1/2) or for the write to the socket (QoS 0).
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishString publishes a text payload.
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// await blocks on tok for at most defaultPublishTimeout and wraps any
// failure in sentinel.
func await(tok pahomqtt.Token, sentinel error) error {
	if !tok.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: no acknowledgment within %v", sentinel, defaultPublishTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
