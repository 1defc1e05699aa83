package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind classifies an inbound message by the topic it arrived on.
type Kind string

// Message kinds. KindUnknown is the sentinel for topics outside the
// routing table; it is a value, not an error, so routing never panics.
const (
	KindDiscovery      Kind = "discovery"
	KindAssignmentAck  Kind = "assignment_ack"
	KindHeartbeat      Kind = "heartbeat"
	KindTelemetry      Kind = "telemetry"
	KindHardwareStatus Kind = "hardware_status"
	KindConfigAck      Kind = "config_ack"
	KindRebootAck      Kind = "reboot_ack"
	KindUpgradeAck     Kind = "upgrade_ack"
	KindUnknown        Kind = "unknown"
)

// route binds a topic suffix to a message kind at a fixed priority.
type route struct {
	suffix   string
	priority int
	kind     Kind
}

// routes is the static routing table. Evaluated in descending priority;
// the first suffix match wins. The table is fixed at compile time: adding
// a message kind means adding a row here, not registering handlers at
// runtime.
var routes = []route{
	{suffix: "/discovery", priority: 90, kind: KindDiscovery},
	{suffix: "/assign", priority: 80, kind: KindAssignmentAck},
	{suffix: "/heartbeat", priority: 70, kind: KindHeartbeat},
	{suffix: "/telemetry", priority: 60, kind: KindTelemetry},
	{suffix: "/hardware", priority: 50, kind: KindHardwareStatus},
	{suffix: "/config", priority: 40, kind: KindConfigAck},
	{suffix: "/reboot", priority: 30, kind: KindRebootAck},
	{suffix: "/upgrade", priority: 20, kind: KindUpgradeAck},
}

// Handler consumes a routed message. Implemented by the ingestion
// pipeline (validator + state engine).
type Handler func(ctx context.Context, kind Kind, topic string, payload []byte) error

// Logger is the minimal logging interface the router needs.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Router classifies inbound MQTT messages and applies the structural
// payload gate before handing them to the pipeline handler.
type Router struct {
	handler Handler
	logger  Logger
}

// New creates a router that forwards classified messages to handler.
func New(handler Handler, logger Logger) *Router {
	return &Router{
		handler: handler,
		logger:  logger,
	}
}

// Route classifies a topic against the static routing table.
//
// Rules are evaluated in descending priority order and the first suffix
// match wins. A topic matching no rule returns KindUnknown; unknown is a
// classification, never a failure.
//
// Parameters:
//   - topic: The full topic the message arrived on
//
// Returns:
//   - Kind: The matched kind, or KindUnknown
func (r *Router) Route(topic string) Kind {
	best := KindUnknown
	bestPriority := -1

	for _, rt := range routes {
		if rt.priority > bestPriority && strings.HasSuffix(topic, rt.suffix) {
			best = rt.kind
			bestPriority = rt.priority
		}
	}

	return best
}

// Handle routes one inbound message into the pipeline.
//
// The router applies only a structural gate: the payload must be a
// non-empty JSON object. Field-level validation belongs to the response
// validator downstream. Unroutable or structurally broken messages are
// logged and dropped; Handle returns the classification error so the
// transport layer can count drops, but nothing here ever panics.
//
// Parameters:
//   - ctx: Context for the downstream pipeline
//   - topic: The topic the message arrived on
//   - payload: Raw message bytes
//
// Returns:
//   - error: ErrUnroutableTopic, ErrMalformedPayload, or the handler's error
func (r *Router) Handle(ctx context.Context, topic string, payload []byte) error {
	kind := r.Route(topic)
	if kind == KindUnknown {
		r.logger.Warn("dropping message on unroutable topic", "topic", topic)
		return fmt.Errorf("%w: %s", ErrUnroutableTopic, topic)
	}

	if err := checkStructure(payload); err != nil {
		r.logger.Warn("dropping structurally invalid message",
			"topic", topic,
			"kind", string(kind),
			"error", err,
		)
		return err
	}

	r.logger.Debug("routing message", "topic", topic, "kind", string(kind))
	return r.handler(ctx, kind, topic, payload)
}

// checkStructure enforces the structural gate: payload must parse as a
// JSON object with at least one member.
func checkStructure(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}
	if len(obj) == 0 {
		return fmt.Errorf("%w: empty JSON object", ErrMalformedPayload)
	}

	return nil
}
