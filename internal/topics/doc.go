// Package topics owns the topic naming scheme and the persisted topic
// registry.
//
// Topic names follow a fixed three-segment scheme:
//
//	{prefix}/{deviceId}/{useCase}
//
// Name() is pure, so any component can recompute a device's topics from
// its id alone. The Registry persists one row per (broker, topic) pair
// with find-or-create semantics; rows record whether the core currently
// holds a live subscription and are deactivated rather than deleted when
// the broker connection drops.
package topics
