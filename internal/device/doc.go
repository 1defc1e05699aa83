// Package device holds the device model and its SQLite persistence.
//
// A device carries two independent state dimensions: the provisioning
// lifecycle (discovered, assigned, active, error, unassigned) and
// broker-level reachability (online, offline, error). State transitions
// are decided by the engine package; repositories here only persist what
// they are handed.
//
// Telemetry and hardware status are append-only streams keyed by device
// and time. Devices are soft-deleted so those streams stay attributable
// after removal.
package device
