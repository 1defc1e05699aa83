package engine

import "time"

// EventType labels a domain event emitted by the state engine.
type EventType string

// Domain event types.
const (
	EventDeviceDiscovered   EventType = "device_discovered"
	EventDeviceAssigned     EventType = "device_assigned"
	EventAssignmentRejected EventType = "assignment_rejected"
	EventHeartbeat          EventType = "heartbeat"
	EventTelemetryRecorded  EventType = "telemetry_recorded"
	EventHardwareRecorded   EventType = "hardware_status_recorded"
	EventConfigApplied      EventType = "config_applied"
	EventConfigRejected     EventType = "config_rejected"
	EventRebootCompleted    EventType = "reboot_completed"
	EventUpgradeCompleted   EventType = "upgrade_completed"
	EventUpgradeProgress    EventType = "upgrade_progress"
	EventDeviceError        EventType = "device_error"
)

// Event is a domain event describing one processed response. Events are
// fire-and-forget notifications for external sinks (WebSocket bridge);
// delivery is best-effort and losing one never affects device state.
type Event struct {
	// Type labels what happened.
	Type EventType `json:"type"`

	// DeviceID is the device the event concerns.
	DeviceID string `json:"device_id"`

	// RequestID is the correlation id of the response that caused the
	// event.
	RequestID string `json:"request_id"`

	// Detail carries event-specific fields (rejection reasons, upgrade
	// progress, metric counts).
	Detail map[string]any `json:"detail,omitempty"`

	// Timestamp is when the engine emitted the event.
	Timestamp time.Time `json:"timestamp"`
}
