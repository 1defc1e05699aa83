// Package router classifies inbound MQTT messages by topic suffix and
// gates them structurally before they enter the ingestion pipeline.
//
// Routing is a static compile-time table of (suffix, priority, kind)
// rules evaluated in descending priority; the first match wins and a miss
// yields KindUnknown rather than an error or panic. The only payload
// check performed here is structural (non-empty JSON object) - semantic
// validation lives in the response package.
package router
