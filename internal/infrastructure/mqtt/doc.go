// Package mqtt provides MQTT client connectivity for Fleet Core.
//
// This package manages:
//   - Connection to the broker with a generated client identifier
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Bounded reconnection with a capped attempt counter
//
// # Architecture
//
// MQTT is the transport between Fleet Core and the device fleet. This
// package is transport-only: every inbound message is handed raw to the
// registered handler; parsing and validation happen downstream in the
// router and response packages, never here.
//
//	Devices ↔ MQTT Broker ↔ Fleet Core (this package)
//
// # Reconnection
//
// Unlike paho's unbounded auto-reconnect, reconnection here stops after
// reconnect.max_attempts consecutive failures. Beyond that point the
// client stays offline until an operator calls Reconnect(), preventing
// reconnect storms against an unreachable broker. Tracked subscriptions
// are re-asserted on every successful (re)connect.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("fleet/+/telemetry", 1,
//	    func(topic string, payload []byte) error {
//	        return pipeline.Handle(topic, payload)
//	    })
package mqtt
