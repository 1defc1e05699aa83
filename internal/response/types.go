package response

import (
	"encoding/json"

	"github.com/amin2ace/fleet-core/internal/pending"
	"github.com/amin2ace/fleet-core/internal/router"
)

// Device-reported status values.
const (
	// StatusAccepted acknowledges an assignment or config push.
	StatusAccepted = "ACCEPTED"

	// StatusRejected refuses an assignment or config push.
	StatusRejected = "REJECTED"

	// StatusSuccess reports a completed reboot or firmware upgrade.
	StatusSuccess = "SUCCESS"

	// StatusFailure reports a failed reboot or firmware upgrade.
	StatusFailure = "FAILURE"

	// StatusProcessing reports an in-flight firmware upgrade.
	StatusProcessing = "PROCESSING"
)

// ExpectedResponseCode is the code a device returns on a successful
// discovery or telemetry response.
const ExpectedResponseCode = 200

// Discovery is a device's answer to a discovery request.
type Discovery struct {
	RequestID    string   `json:"requestId"`
	DeviceID     string   `json:"deviceId"`
	ResponseCode int      `json:"responseCode"`
	Capabilities []string `json:"capabilities"`
}

// AssignmentAck is a device's answer to a functionality assignment.
type AssignmentAck struct {
	RequestID     string   `json:"requestId"`
	DeviceID      string   `json:"deviceId"`
	Status        string   `json:"status"`
	Functionality []string `json:"functionality,omitempty"`
}

// Heartbeat is a device's answer to a heartbeat request.
type Heartbeat struct {
	RequestID string `json:"requestId"`
	DeviceID  string `json:"deviceId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

// TelemetryReading is one measurement inside a telemetry response.
type TelemetryReading struct {
	Metric     string  `json:"metric"`
	Value      float64 `json:"value"`
	RecordedAt string  `json:"recordedAt,omitempty"`
}

// Telemetry is a device's answer to a telemetry pull.
type Telemetry struct {
	RequestID    string             `json:"requestId"`
	DeviceID     string             `json:"deviceId"`
	ResponseCode int                `json:"responseCode"`
	Readings     []TelemetryReading `json:"readings"`
}

// HardwareStatus is a device's answer to a hardware status request.
type HardwareStatus struct {
	RequestID string          `json:"requestId"`
	DeviceID  string          `json:"deviceId"`
	Status    string          `json:"status"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// ConfigAck is a device's answer to a config push.
type ConfigAck struct {
	RequestID string `json:"requestId"`
	DeviceID  string `json:"deviceId"`
	Status    string `json:"status"`
}

// RebootAck is a device's answer to a reboot request.
type RebootAck struct {
	RequestID string `json:"requestId"`
	DeviceID  string `json:"deviceId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

// UpgradeAck is a device's answer to a firmware upgrade request.
// Status PROCESSING carries Progress; SUCCESS/FAILURE are terminal.
type UpgradeAck struct {
	RequestID string `json:"requestId"`
	DeviceID  string `json:"deviceId"`
	Status    string `json:"status"`
	Progress  int    `json:"progress,omitempty"`
}

// Validated is a fully validated, correlated response ready for the
// state engine. Body holds a pointer to one of the typed structs above,
// selected by Kind.
type Validated struct {
	// Kind is the routed message kind.
	Kind router.Kind

	// RequestID and DeviceID are the correlation identifiers from the
	// payload, already cross-checked against Pending.
	RequestID string
	DeviceID  string

	// Pending is the cached request metadata retrieved from the
	// correlation store.
	Pending pending.Request

	// Body is the typed payload: *Discovery, *AssignmentAck, *Heartbeat,
	// *Telemetry, *HardwareStatus, *ConfigAck, *RebootAck or *UpgradeAck.
	Body any
}
