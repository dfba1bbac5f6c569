// Package mqtt provides MQTT client connectivity for the BMaC node agent.
//
// This package manages:
//   - One broker session per Client, with a Last Will and Testament
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - A single disconnect notification per session
//   - The BMaC topic hierarchy (Topics)
//
// # Reconnection
//
// paho's auto-reconnect is turned off. The node re-runs broker discovery
// before each attempt, so the bootstrap state machine owns the retry timer
// and dials a new Client every time.
//
// # Security Considerations
//
//   - TLS is available via mqtt.broker.tls
//   - Credentials come from mqtt.auth or BMAC_MQTT_USERNAME/BMAC_MQTT_PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.Session{
//	    BrokerURL: "tcp://10.0.0.5:1883",
//	    ClientID:  fingerprint,
//	    Will:      &mqtt.Will{Topic: topics.LastWill(), Payload: []byte(fingerprint + ";connection lost"), QoS: 1, Retained: true},
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnDisconnect(func(err error) { loop.Post(onLost) })
package mqtt
