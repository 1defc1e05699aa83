// Package publisher issues outbound requests to devices.
//
// Each issued request gets a fresh UUID, a pending-store entry with a
// kind-appropriate TTL (firmware upgrades get a longer window), and a
// QoS 1 publish on the device's use-case topic. Registration precedes
// the publish so the response can always correlate; a failed publish
// rolls the registration back.
package publisher
