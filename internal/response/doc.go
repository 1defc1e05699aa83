// Package response validates and correlates inbound device responses.
//
// The validator is the semantic gate of the ingestion pipeline. A raw
// payload enters with its routed kind, is checked against that kind's
// JSON schema (reporting every failing field in one pass), decoded into
// a typed struct, and cross-checked against the pending-request store.
// Only fully typed, correlated responses reach the state engine; a
// partially valid message never does.
//
// Device id mismatches between a response and its cached request are
// rejected outright.
package response
