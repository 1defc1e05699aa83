package topics

import "fmt"

// UseCase identifies the purpose of a device topic. Each use case maps to
// exactly one topic per device under the configured prefix.
type UseCase string

// Known topic use cases.
const (
	UseCaseDiscovery UseCase = "discovery"
	UseCaseAssign    UseCase = "assign"
	UseCaseHeartbeat UseCase = "heartbeat"
	UseCaseTelemetry UseCase = "telemetry"
	UseCaseHardware  UseCase = "hardware"
	UseCaseConfig    UseCase = "config"
	UseCaseReboot    UseCase = "reboot"
	UseCaseUpgrade   UseCase = "upgrade"
	UseCaseBroadcast UseCase = "broadcast"
)

// BroadcastDeviceID is the pseudo device segment used for fleet-wide
// broadcast topics, where no single device is addressed.
const BroadcastDeviceID = "all"

// allUseCases lists every known use case in subscription order.
var allUseCases = []UseCase{
	UseCaseDiscovery,
	UseCaseAssign,
	UseCaseHeartbeat,
	UseCaseTelemetry,
	UseCaseHardware,
	UseCaseConfig,
	UseCaseReboot,
	UseCaseUpgrade,
	UseCaseBroadcast,
}

// AllUseCases returns every known use case. The returned slice is a copy;
// callers may reorder it freely.
func AllUseCases() []UseCase {
	out := make([]UseCase, len(allUseCases))
	copy(out, allUseCases)
	return out
}

// DeviceUseCases returns the use cases that get a per-device topic when a
// device is discovered. Broadcast is fleet-wide and excluded.
func DeviceUseCases() []UseCase {
	out := make([]UseCase, 0, len(allUseCases)-1)
	for _, uc := range allUseCases {
		if uc == UseCaseBroadcast {
			continue
		}
		out = append(out, uc)
	}
	return out
}

// Valid reports whether uc is a known use case.
func (uc UseCase) Valid() bool {
	for _, known := range allUseCases {
		if uc == known {
			return true
		}
	}
	return false
}

// String returns the use case as its topic suffix.
func (uc UseCase) String() string {
	return string(uc)
}

// Name builds the canonical topic name for a device and use case.
//
// The scheme is fixed: {prefix}/{deviceID}/{useCase}. The function is pure
// and deterministic; the same inputs always produce the same topic, so
// topic names never need to be stored to be recomputed.
//
// Parameters:
//   - prefix: Configured topic prefix (e.g. "fleet")
//   - deviceID: Device identifier, or BroadcastDeviceID for broadcast
//   - useCase: The topic's purpose
//
// Returns:
//   - string: The full topic name
func Name(prefix, deviceID string, useCase UseCase) string {
	return fmt.Sprintf("%s/%s/%s", prefix, deviceID, useCase)
}
