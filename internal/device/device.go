package device

import "time"

// ProvisionState tracks a device's position in the provisioning lifecycle.
type ProvisionState string

// Provisioning lifecycle states.
const (
	// ProvisionDiscovered: the device announced itself; no functionality
	// assigned yet.
	ProvisionDiscovered ProvisionState = "discovered"

	// ProvisionAssigned: an assignment was acknowledged; awaiting first
	// heartbeat.
	ProvisionAssigned ProvisionState = "assigned"

	// ProvisionActive: the device heartbeats with its assigned
	// functionality.
	ProvisionActive ProvisionState = "active"

	// ProvisionError: the device reported a fault during provisioning.
	ProvisionError ProvisionState = "error"

	// ProvisionUnassigned: functionality was revoked; the device is known
	// but idle.
	ProvisionUnassigned ProvisionState = "unassigned"
)

// Valid reports whether ps is a known provisioning state.
func (ps ProvisionState) Valid() bool {
	switch ps {
	case ProvisionDiscovered, ProvisionAssigned, ProvisionActive,
		ProvisionError, ProvisionUnassigned:
		return true
	}
	return false
}

// ConnectionState tracks broker-level reachability, independent of the
// provisioning lifecycle.
type ConnectionState string

// Connection states.
const (
	ConnectionOnline  ConnectionState = "online"
	ConnectionOffline ConnectionState = "offline"
	ConnectionError   ConnectionState = "error"
)

// Valid reports whether cs is a known connection state.
func (cs ConnectionState) Valid() bool {
	switch cs {
	case ConnectionOnline, ConnectionOffline, ConnectionError:
		return true
	}
	return false
}

// Device is a fleet device known to the core.
type Device struct {
	// DeviceID is the device's externally assigned identifier (typically
	// its MAC address). Unique across the fleet.
	DeviceID string `json:"device_id"`

	// Capabilities lists everything the hardware can do, reported by the
	// device at discovery.
	Capabilities []string `json:"capabilities"`

	// AssignedFunctionality lists what the device has been told to do.
	// Always a subset of Capabilities.
	AssignedFunctionality []string `json:"assigned_functionality"`

	// ProvisionState is the device's lifecycle position.
	ProvisionState ProvisionState `json:"provision_state"`

	// ConnectionState is the device's broker reachability.
	ConnectionState ConnectionState `json:"connection_state"`

	// BaseTopic is the topic stem the device was discovered under,
	// e.g. "fleet/aa:bb:cc:dd:ee:ff".
	BaseTopic string `json:"base_topic"`

	// LastReboot is the time of the last acknowledged reboot, if any.
	LastReboot *time.Time `json:"last_reboot,omitempty"`

	// LastUpgrade is the time of the last acknowledged firmware upgrade,
	// if any.
	LastUpgrade *time.Time `json:"last_upgrade,omitempty"`

	// IsDeleted marks a soft-deleted device. Deleted devices are hidden
	// from reads but their history is retained.
	IsDeleted bool `json:"is_deleted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCapabilities reports whether every entry of functionality appears in
// the device's capability list. Used to enforce the subset invariant
// before persisting an assignment.
func (d *Device) HasCapabilities(functionality []string) bool {
	caps := make(map[string]bool, len(d.Capabilities))
	for _, c := range d.Capabilities {
		caps[c] = true
	}
	for _, f := range functionality {
		if !caps[f] {
			return false
		}
	}
	return true
}
