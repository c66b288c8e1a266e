// Package mqtt provides MQTT client connectivity for Column Relay.
//
// This package manages:
//   - Connection to the site broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The relay itself never depends on MQTT: device and client traffic flows
// over the WebSocket endpoints. This client backs the optional ops mirror,
// which republishes presence transitions (retained) and telemetry frames so
// site tooling can follow the fleet without holding a relay connection.
//
//	Column Relay → MQTT Broker → dashboards / alerting
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Mirror a presence transition (retained)
//	topic := mqtt.Topics{}.DevicePresence("esp-1")
//	client.PublishRetained(topic, []byte(`{"online":true}`))
//
//	// Follow the whole fleet
//	err = client.Subscribe(mqtt.Topics{}.AllPresence(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
