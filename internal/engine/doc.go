// Package engine drives the per-device provisioning and connection
// state machine from validated responses.
//
// Transitions:
//
//	(none)     --discovery-----------------> DISCOVERED  (device created, topics provisioned)
//	DISCOVERED --assignment ack ACCEPTED---> ASSIGNED    (functionality ⊆ capabilities)
//	ASSIGNED   --heartbeat-----------------> ACTIVE      (connection state refreshed)
//
// Telemetry, hardware status, reboot and upgrade acks do not move the
// provisioning state; they append history or stamp timestamps. Every
// terminal handling path, success or rejection, retires the pending
// correlation entry exactly once and emits a domain event on a buffered
// channel consumed by the WebSocket bridge.
package engine
