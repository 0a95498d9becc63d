// Package mqtt provides MQTT client connectivity for mwha2mqtt.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on the connected topic
//   - Connection health monitoring
//
// # Architecture
//
// The daemon exposes the amplifier over a retained MQTT namespace:
// status topics carry zone state, set topics accept adjustments, and
// the connected topic reflects bridge liveness (0 offline, 2 running).
//
//	MQTT clients ↔ Broker ↔ mwha2mqtt ↔ RS232 ↔ amplifier stack
//
// # Security Considerations
//
//   - TLS is recommended off-host (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("mwha/set/zone/+/+", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
